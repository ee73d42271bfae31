package main

import (
	"os"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

type cmdGlobal struct {
	flagHelp    bool
	flagVersion bool
	flagConfig  string
}

func main() {
	daemonCmd := cmdDaemon{}
	app := daemonCmd.Command()
	app.Use = "boltd"
	app.Short = "Thunderbolt device authorization daemon"
	app.Long = `Description:
  boltd tracks Thunderbolt devices as they are plugged in, persists which
  ones the user has chosen to trust, and authorizes them according to that
  policy.
`
	app.SilenceUsage = true
	app.CompletionOptions = cobra.CompletionOptions{DisableDefaultCmd: true}

	globalCmd := cmdGlobal{}
	app.PersistentFlags().BoolVarP(&globalCmd.flagHelp, "help", "h", false, "Print help")
	app.PersistentFlags().BoolVar(&globalCmd.flagVersion, "version", false, "Print version number")
	app.PersistentFlags().StringVarP(&globalCmd.flagConfig, "config", "c", "/etc/boltd/boltd.yaml", "Path to the configuration file")
	daemonCmd.global = &globalCmd

	app.SetVersionTemplate("{{.Version}}\n")
	app.Version = version

	if err := app.Execute(); err != nil {
		os.Exit(1)
	}
}

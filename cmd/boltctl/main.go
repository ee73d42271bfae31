package main

import (
	"os"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

type cmdGlobal struct {
	flagHelp    bool
	flagVersion bool
	flagAPI     string
}

func main() {
	globalCmd := cmdGlobal{}

	app := &cobra.Command{
		Use:   "boltctl",
		Short: "Inspect and manage Thunderbolt device authorization",
	}
	app.SilenceUsage = true
	app.CompletionOptions = cobra.CompletionOptions{DisableDefaultCmd: true}
	app.PersistentFlags().BoolVarP(&globalCmd.flagHelp, "help", "h", false, "Print help")
	app.PersistentFlags().BoolVar(&globalCmd.flagVersion, "version", false, "Print version number")
	app.PersistentFlags().StringVar(&globalCmd.flagAPI, "api", "http://127.0.0.1:8991", "boltd introspection endpoint")

	app.SetVersionTemplate("{{.Version}}\n")
	app.Version = version

	app.AddCommand((&cmdList{global: &globalCmd}).Command())
	app.AddCommand((&cmdEnroll{global: &globalCmd}).Command())
	app.AddCommand((&cmdForget{global: &globalCmd}).Command())

	if err := app.Execute(); err != nil {
		os.Exit(1)
	}
}

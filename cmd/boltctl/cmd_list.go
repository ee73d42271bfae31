package main

import (
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

type cmdList struct {
	global *cmdGlobal
}

func (c *cmdList) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known Thunderbolt devices",
		RunE:  c.run,
	}
}

func (c *cmdList) run(cmd *cobra.Command, args []string) error {
	client := newAPIClient(c.global.flagAPI)

	devices, err := client.listDevices()
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"UID", "Name", "Vendor", "Status", "Policy", "Stored"})

	for _, d := range devices {
		stored := "no"
		if d.Stored {
			stored = "yes"
		}
		table.Append([]string{d.UID, d.Name, d.Vendor, d.statusName(), d.policyName(), stored})
	}

	table.Render()
	return nil
}

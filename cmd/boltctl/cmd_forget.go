package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

type cmdForget struct {
	global *cmdGlobal
}

func (c *cmdForget) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "forget <uid>",
		Short: "Remove a device's persisted authorization record",
		Args:  cobra.ExactArgs(1),
		RunE:  c.run,
	}
}

func (c *cmdForget) run(cmd *cobra.Command, args []string) error {
	client := newAPIClient(c.global.flagAPI)
	if err := client.forget(args[0]); err != nil {
		return fmt.Errorf("forget %s: %w", args[0], err)
	}
	fmt.Printf("forgot %s\n", args[0])
	return nil
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

type cmdEnroll struct {
	global *cmdGlobal
	policy string
}

func (c *cmdEnroll) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enroll <uid>",
		Short: "Remember a device and set its authorization policy",
		Args:  cobra.ExactArgs(1),
		RunE:  c.run,
	}
	cmd.Flags().StringVar(&c.policy, "policy", "auto", "Authorization policy: default, manual or auto")
	return cmd
}

func (c *cmdEnroll) run(cmd *cobra.Command, args []string) error {
	client := newAPIClient(c.global.flagAPI)
	if err := client.enroll(args[0], c.policy); err != nil {
		return fmt.Errorf("enroll %s: %w", args[0], err)
	}
	fmt.Printf("enrolled %s with policy %s\n", args[0], c.policy)
	return nil
}

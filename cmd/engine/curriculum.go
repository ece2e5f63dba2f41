package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/neuroswitch/progression-engine/internal/infrastructure/curriculum"
)

func newCurriculumCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "curriculum",
		Short: "Inspect lesson curricula",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "validate FILE",
			Short: "Check that a curriculum file loads",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				cur, err := curriculum.Load(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "ok: %d phases, %d lessons\n", len(cur.Phases()), cur.Len())
				return nil
			},
		},
		&cobra.Command{
			Use:   "print [FILE]",
			Short: "Print a curriculum as YAML (the built-in one when FILE is omitted)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				path := ""
				if len(args) == 1 {
					path = args[0]
				}
				cur, err := curriculum.Load(path)
				if err != nil {
					return err
				}
				out, err := curriculum.Marshal(cur)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(out)
				return err
			},
		},
	)
	return cmd
}

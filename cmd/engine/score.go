package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/neuroswitch/progression-engine/internal/domain/performance"
	"github.com/neuroswitch/progression-engine/internal/domain/reward"
)

// scoreReport - вывод команды score.
type scoreReport struct {
	performance.Summary
	XP    int `json:"xp"`
	Bonus int `json:"bonus"`
}

func newScoreCmd() *cobra.Command {
	var pretty bool

	cmd := &cobra.Command{
		Use:   "score [FILE]",
		Short: "Score a JSON array of session events without saving anything",
		Long: "Reads a JSON array of events from FILE, or from stdin when FILE is\n" +
			"omitted or \"-\", and prints the resulting scores and XP.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open events: %w", err)
				}
				defer f.Close()
				in = f
			}

			events, err := readEvents(in)
			if err != nil {
				return err
			}

			summary := performance.Summarize(events)
			report := scoreReport{
				Summary: summary,
				XP:      reward.ComputeXP(summary.Scores),
				Bonus:   reward.Bonus(summary.Scores),
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			if pretty {
				enc.SetIndent("", "  ")
			}
			return enc.Encode(report)
		},
	}

	cmd.Flags().BoolVar(&pretty, "pretty", false, "indent JSON output")
	return cmd
}

// readEvents декодирует и проверяет журнал. Ошибка указывает номер
// первого неверного события.
func readEvents(r io.Reader) ([]performance.Event, error) {
	var events []performance.Event
	if err := json.NewDecoder(r).Decode(&events); err != nil {
		return nil, fmt.Errorf("failed to decode events: %w", err)
	}

	log := performance.NewLog()
	for i, e := range events {
		if err := log.Append(e); err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
	}
	return log.Events(), nil
}

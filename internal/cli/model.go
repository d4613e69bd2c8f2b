package cli

import (
	"strconv"

	"github.com/spf13/cobra"
)

// NewModelCmd создаёт группу команд для чтения реестра моделей.
func NewModelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Inspect the model registry",
	}

	cmd.AddCommand(
		newModelEntriesCmd(clientFn, outputFn),
		newModelProductionCmd(clientFn, outputFn),
	)

	return cmd
}

func newModelEntriesCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "entries MODEL",
		Short: "List registered versions of a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			entries, err := client.ListModelEntries(args[0])
			if err != nil {
				return err
			}

			headers := []string{"MODEL", "VERSION", "STAGE", "LOCATION", "RUN_ID", "UPDATED_AT"}
			rows := make([][]string, len(entries))
			for i, e := range entries {
				rows[i] = []string{
					e.Model, strconv.Itoa(e.Version), e.Stage,
					artifactLocation(e.Artifact), e.RunID, e.UpdatedAt,
				}
			}

			out.Print(headers, rows, entries)
			return nil
		},
	}
}

func newModelProductionCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "production MODEL",
		Short: "Show the current production version of a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			entry, err := client.GetProduction(args[0])
			if err != nil {
				return err
			}

			out.Print(
				[]string{"MODEL", "VERSION", "STAGE", "LOCATION", "RUN_ID", "UPDATED_AT"},
				[][]string{{
					entry.Model, strconv.Itoa(entry.Version), entry.Stage,
					artifactLocation(entry.Artifact), entry.RunID, entry.UpdatedAt,
				}},
				entry,
			)
			return nil
		},
	}
}

func artifactLocation(artifact map[string]any) string {
	loc, _ := artifact["location"].(string)
	return loc
}

package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewRunCmd создаёт группу команд для управления runs.
func NewRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Manage pipeline runs",
	}

	cmd.AddCommand(
		newRunListCmd(clientFn, outputFn),
		newRunStartCmd(clientFn, outputFn),
		newRunShowCmd(clientFn, outputFn),
		newRunCancelCmd(clientFn, outputFn),
		newRunStagesCmd(clientFn, outputFn),
	)

	return cmd
}

func newRunListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var pipelineID string
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			runs, err := client.ListRuns(ListRunsOpts{
				PipelineID: pipelineID,
				Status:     status,
				Limit:      limit,
			})
			if err != nil {
				return err
			}

			headers := []string{"ID", "PIPELINE_ID", "VERSION", "STATUS", "STARTED_AT", "FINISHED_AT"}
			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = []string{
					r.ID, r.PipelineID, strconv.Itoa(r.Version), r.Status,
					r.StartedAt, r.FinishedAt,
				}
			}

			out.Print(headers, rows, runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&pipelineID, "pipeline-id", "", "Filter by pipeline ID")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (PENDING, RUNNING, SUCCEEDED, FAILED, REJECTED, CANCELLED)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of runs to return")

	return cmd
}

func newRunStartCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var version int
	var idempotencyKey string

	cmd := &cobra.Command{
		Use:   "start PIPELINE_ID",
		Short: "Start a new run for a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req := CreateRunRequest{
				IdempotencyKey: idempotencyKey,
			}
			if cmd.Flags().Changed("version") {
				req.Version = &version
			}

			run, err := client.CreateRun(args[0], req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Run started: %s", run.ID))
			out.Print(
				[]string{"ID", "PIPELINE_ID", "VERSION", "STATUS"},
				[][]string{{run.ID, run.PipelineID, strconv.Itoa(run.Version), run.Status}},
				run,
			)
			return nil
		},
	}

	cmd.Flags().IntVar(&version, "version", 0, "Pipeline version to run (default: latest)")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "Idempotency key to avoid duplicate runs")

	return cmd
}

func newRunShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show run details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.GetRun(args[0])
			if err != nil {
				return err
			}

			decision := ""
			if run.Decision != nil {
				if run.Decision.Promote {
					decision = "promote"
				} else {
					decision = "reject"
				}
			}

			out.Print(
				[]string{"ID", "PIPELINE_ID", "VERSION", "STATUS", "DECISION", "ERROR", "STARTED_AT", "FINISHED_AT"},
				[][]string{{
					run.ID, run.PipelineID, strconv.Itoa(run.Version), run.Status,
					decision, run.Error, run.StartedAt, run.FinishedAt,
				}},
				run,
			)
			return nil
		},
	}
}

func newRunCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.CancelRun(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Run cancelled: %s", run.ID))
			return nil
		},
	}
}

func newRunStagesCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "stages RUN_ID",
		Short: "List stage records of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			stages, err := client.ListStages(args[0])
			if err != nil {
				return err
			}

			headers := []string{"NAME", "STATUS", "ATTEMPT", "ERROR", "SKIP_REASON"}
			rows := make([][]string, len(stages))
			for i, s := range stages {
				rows[i] = []string{
					s.Name, s.Status, strconv.Itoa(s.Attempt), s.Error, s.SkipReason,
				}
			}

			out.Print(headers, rows, stages)
			return nil
		},
	}
}

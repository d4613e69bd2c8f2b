package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// NewPipelineCmd создаёт группу команд для управления pipelines.
func NewPipelineCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Manage pipelines",
	}

	cmd.AddCommand(
		newPipelineListCmd(clientFn, outputFn),
		newPipelineCreateCmd(clientFn, outputFn),
		newPipelineShowCmd(clientFn, outputFn),
		newPipelineUpdateCmd(clientFn, outputFn),
		newPipelineDeleteCmd(clientFn, outputFn),
		newPipelineVersionsCmd(clientFn, outputFn),
		newPipelinePublishCmd(clientFn, outputFn),
	)

	return cmd
}

func newPipelineListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pipelines",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			pipelines, err := client.ListPipelines()
			if err != nil {
				return err
			}

			headers := []string{"ID", "NAME", "ACTIVE", "CREATED_AT"}
			rows := make([][]string, len(pipelines))
			for i, p := range pipelines {
				rows[i] = []string{p.ID, p.Name, strconv.FormatBool(p.IsActive), p.CreatedAt}
			}

			out.Print(headers, rows, pipelines)
			return nil
		},
	}
}

func newPipelineCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "create NAME",
		Short: "Create a new pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			pipeline, err := client.CreatePipeline(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Pipeline created: %s", pipeline.ID))
			out.Print(
				[]string{"ID", "NAME", "ACTIVE"},
				[][]string{{pipeline.ID, pipeline.Name, strconv.FormatBool(pipeline.IsActive)}},
				pipeline,
			)
			return nil
		},
	}
}

func newPipelineShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show pipeline details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			pipeline, err := client.GetPipeline(args[0])
			if err != nil {
				return err
			}

			out.Print(
				[]string{"ID", "NAME", "ACTIVE", "CREATED_AT"},
				[][]string{{pipeline.ID, pipeline.Name, strconv.FormatBool(pipeline.IsActive), pipeline.CreatedAt}},
				pipeline,
			)
			return nil
		},
	}
}

func newPipelineUpdateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var name string
	var active bool

	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Update a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req := UpdatePipelineRequest{}
			if cmd.Flags().Changed("name") {
				req.Name = &name
			}
			if cmd.Flags().Changed("active") {
				req.IsActive = &active
			}

			pipeline, err := client.UpdatePipeline(args[0], req)
			if err != nil {
				return err
			}

			out.Success("Pipeline updated")
			out.Print(
				[]string{"ID", "NAME", "ACTIVE"},
				[][]string{{pipeline.ID, pipeline.Name, strconv.FormatBool(pipeline.IsActive)}},
				pipeline,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "New pipeline name")
	cmd.Flags().BoolVar(&active, "active", true, "Activate or deactivate the pipeline")

	return cmd
}

func newPipelineDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a pipeline and all its versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.DeletePipeline(args[0]); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Pipeline deleted: %s", args[0]))
			return nil
		},
	}
}

func newPipelineVersionsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "versions ID",
		Short: "List pipeline versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			versions, err := client.ListVersions(args[0])
			if err != nil {
				return err
			}

			headers := []string{"VERSION", "STAGES", "CREATED_AT"}
			rows := make([][]string, len(versions))
			for i, v := range versions {
				stages := ""
				if raw, ok := v.Spec["stages"].([]any); ok {
					stages = strconv.Itoa(len(raw))
				}
				rows[i] = []string{strconv.Itoa(v.Version), stages, v.CreatedAt}
			}

			out.Print(headers, rows, versions)
			return nil
		},
	}
}

func newPipelinePublishCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var specFile string

	cmd := &cobra.Command{
		Use:   "publish ID",
		Short: "Publish a new pipeline version from a spec file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			data, err := os.ReadFile(specFile)
			if err != nil {
				return fmt.Errorf("failed to read spec file: %w", err)
			}

			// Проверка, что файл содержит валидный JSON
			if !json.Valid(data) {
				return fmt.Errorf("spec file %s is not valid JSON", specFile)
			}

			version, err := client.CreateVersion(args[0], data)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Version %d published for pipeline %s", version.Version, version.PipelineID))
			out.Print(
				[]string{"PIPELINE_ID", "VERSION", "CREATED_AT"},
				[][]string{{version.PipelineID, strconv.Itoa(version.Version), version.CreatedAt}},
				version,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&specFile, "spec-file", "", "Path to JSON file with the pipeline definition (required)")
	cmd.MarkFlagRequired("spec-file")

	return cmd
}

package predict

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"mri-inference-service/app"
	"mri-inference-service/config"
	"mri-inference-service/patient"
	"mri-inference-service/report"
	"mri-inference-service/service"
)

type options struct {
	Name    string
	Age     string
	Gender  string
	Contact string
	Image   string
	Out     string
}

// Command creates the predict command, which runs one scan through the
// pipeline without starting any server.
func Command(ctx *config.Context) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Classify a single MRI scan and write the PDF report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, ctx, opts)
		},
	}

	setupFlags(cmd, opts)

	return cmd
}

func setupFlags(cmd *cobra.Command, opts *options) {
	cmd.Flags().StringVar(&opts.Name, "name", "", "Patient name")
	cmd.Flags().StringVar(&opts.Age, "age", "", "Patient age")
	cmd.Flags().StringVar(&opts.Gender, "gender", string(patient.Male), "Patient gender: Male or Female")
	cmd.Flags().StringVar(&opts.Contact, "contact", "", "Patient phone number")
	cmd.Flags().StringVarP(&opts.Image, "image", "i", "", "Path to the MRI scan (jpg or png)")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", report.Filename, "Where to write the PDF report")
	_ = cmd.MarkFlagRequired("image")
}

func run(cmd *cobra.Command, cctx *config.Context, opts *options) error {
	raw, err := os.ReadFile(opts.Image)
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	a, err := app.New(cmd.Context(), cctx.Settings, cctx.Log)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Pipeline.Run(cmd.Context(), patient.Submission{
		Name:     opts.Name,
		Age:      opts.Age,
		Gender:   opts.Gender,
		Contact:  opts.Contact,
		Filename: filepath.Base(opts.Image),
		Image:    raw,
	})
	if err != nil {
		var stageErr *service.StageError
		if errors.As(err, &stageErr) && stageErr.Stage == service.Validating {
			for _, msg := range stageErr.Validation.Messages() {
				fmt.Fprintln(cmd.ErrOrStderr(), msg)
			}
		}
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Condition: %s\n", res.Condition.Label)
	if res.RecordID != "" {
		fmt.Fprintf(out, "Record: %s\n", res.RecordID)
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", w)
	}

	if res.Report == nil {
		return errors.New("report could not be generated")
	}
	if err := os.WriteFile(opts.Out, res.Report, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	fmt.Fprintf(out, "Report: %s\n", opts.Out)

	if a.Store != nil {
		key, err := a.Store.ArchiveReport(cmd.Context(), res.AnalysisID, res.Report)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: report archive: %v\n", err)
		} else {
			fmt.Fprintf(out, "Archived: %s\n", key)
		}
	}
	return nil
}

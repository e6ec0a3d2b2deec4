package cmd

import (
	"github.com/spf13/cobra"

	"mri-inference-service/cmd/predict"
	"mri-inference-service/cmd/serve"
	"mri-inference-service/config"
	"mri-inference-service/logging"
)

// RootCommand creates and returns the root command
func RootCommand(ctx *config.Context) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "mri-inference-service",
		Short:        "MRI dementia classification service",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&ctx.ConfigFile, "config", "c", "", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&ctx.LogLevel, "log-level", "", "Override the configured log level")

	rootCmd.AddCommand(
		serve.Command(ctx),
		predict.Command(ctx),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return initialize(ctx)
	}

	return rootCmd
}

// initialize loads settings and builds the logger before a subcommand runs.
func initialize(ctx *config.Context) error {
	settings, err := config.Load(ctx.ConfigFile)
	if err != nil {
		return err
	}
	if ctx.LogLevel != "" {
		settings.Log.Level = ctx.LogLevel
	}

	ctx.Settings = settings
	ctx.Log = logging.New(logging.Config{
		Level:  settings.Log.Level,
		Format: settings.Log.Format,
	})
	return nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/saker-ai/i2v-steer/pkg/runtime"
)

const backendTimeout = 30 * time.Second

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "i2v-steer",
		Short:         "Steer an image-to-video backend with WASD from the browser",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to conf.yaml (default: search upward from the working directory)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the steering page and browser bridge",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return serve(configPath)
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Print the backend pipeline status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return status(cmd, configPath)
		},
	}

	var resetModel string
	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset a backend pipeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return reset(cmd, configPath, resetModel)
		},
	}
	resetCmd.Flags().StringVar(&resetModel, "model", "", "Pipeline to reset (default: pipelines.default)")

	rootCmd.AddCommand(serveCmd, statusCmd, resetCmd)
	// Bare invocation serves.
	rootCmd.RunE = serveCmd.RunE

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serve(configPath string) error {
	cfg, logger, err := runtime.Setup(configPath)
	if err != nil {
		return err
	}
	defer logger.Sync()

	server, err := runtime.New(cfg, logger)
	if err != nil {
		logger.Error("server setup failed", zap.Error(err))
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx); err != nil {
		logger.Error("http server error", zap.Error(err))
		return err
	}
	return nil
}

func status(cmd *cobra.Command, configPath string) error {
	cfg, logger, err := runtime.Setup(configPath)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(cmd.Context(), backendTimeout)
	defer cancel()
	report, err := runtime.NewBackend(cfg, logger).Status(ctx)
	if err != nil {
		return fmt.Errorf("query %s: %w", cfg.Backend.BaseURL, err)
	}
	out := cmd.OutOrStdout()
	ids := make([]string, 0, len(report))
	for id := range report {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		fmt.Fprintf(out, "%s\t%s\n", id, report[id].Status)
	}
	return nil
}

func reset(cmd *cobra.Command, configPath string, model string) error {
	cfg, logger, err := runtime.Setup(configPath)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if model == "" {
		model = cfg.Pipelines.Default
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), backendTimeout)
	defer cancel()
	resp, err := runtime.NewBackend(cfg, logger).Reset(ctx, model)
	if err != nil {
		return fmt.Errorf("reset %s: %w", model, err)
	}
	if !resp.Success {
		return fmt.Errorf("reset %s: %s", model, resp.Error)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", model, resp.Message)
	return nil
}

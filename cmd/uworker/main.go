package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/microq/uworker/pkg/log"
	"github.com/microq/uworker/pkg/metrics"
	"github.com/microq/uworker/pkg/worker"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "uworker [INPUT_DATA_URL]",
	Short: "uworker - job-consuming agent for a microq job API",
	Long: `uworker pulls jobs from a central job API, runs each job through a
local command or a container image, streams the output back, and
reports a terminal status.

Without arguments the agent runs as a service, fetching jobs until
stopped. With an input URL argument it runs the configured job command
once against that URL and exits with the command's exit code.`,
	Version:       Version,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"uworker version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.Flags().Bool("no-command", false, "Run jobs through the container image each job carries instead of a fixed command")
	rootCmd.Flags().String("config", "", "Optional YAML config file (environment variables win)")
	rootCmd.Flags().String("credentials-file", "", "JSON file with job API credentials")
	rootCmd.Flags().String("metrics-addr", "", "Address to serve Prometheus metrics on (disabled if empty)")
	rootCmd.Flags().String("runtime-cli", "", "Container runtime command for image mode (default docker)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	// Initialize logging before command execution
	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(logLevel, logJSON)
}

func run(cmd *cobra.Command, args []string) error {
	noCommand, _ := cmd.Flags().GetBool("no-command")
	configFile, _ := cmd.Flags().GetString("config")
	credentialsFile, _ := cmd.Flags().GetString("credentials-file")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	runtimeCLI, _ := cmd.Flags().GetString("runtime-cli")

	mode := worker.ModeCommand
	if noCommand {
		mode = worker.ModeImage
	}
	if len(args) == 1 && mode == worker.ModeImage {
		return fmt.Errorf("cannot run a one-shot job in image mode")
	}

	cfg, err := worker.LoadConfig(mode, configFile)
	if err != nil {
		return err
	}
	if credentialsFile != "" {
		cfg.CredentialsFile = credentialsFile
	}
	if runtimeCLI != "" {
		cfg.RuntimeCLI = runtimeCLI
	}

	w, err := worker.New(cfg)
	if err != nil {
		return err
	}

	// One-shot mode: run the job command on the input URL and exit
	// with its exit code.
	if len(args) == 1 {
		code, err := w.RunInput(args[0])
		if err != nil {
			return err
		}
		os.Exit(code)
	}

	if metricsAddr != "" {
		go func() {
			if err := metrics.Serve(metricsAddr); err != nil {
				log.Logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	// SIGINT/SIGTERM stop the loop; the in-flight job is allowed to
	// finish.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Logger.Info().Str("signal", sig.String()).Msg("shutting down after current job")
		w.Stop()
	}()

	log.Logger.Info().Msg("spawning worker")
	w.Run()
	return nil
}

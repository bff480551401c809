package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	sharesync "github.com/steveoberholzer/ShareSync"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "sharesyncd",
		Short:         "Asynchronous bulk permission pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newWorkerCmd(), newAPICmd(), newMigrateCmd(), newPurgeCmd())
	return cmd
}

func execute() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("sharesyncd exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// loadConfig reads optional .env files before parsing the environment.
// Values already set in the environment win over file contents.
func loadConfig() (sharesync.Config, error) {
	for _, file := range []string{".env.local", ".env"} {
		if _, err := os.Stat(file); err == nil {
			_ = godotenv.Load(file)
		}
	}
	return sharesync.LoadConfig()
}

// newLogger returns a JSON logger in PROD and a debug text logger
// everywhere else.
func newLogger(environment string) *slog.Logger {
	if strings.EqualFold(environment, "PROD") {
		return slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

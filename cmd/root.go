package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"skytracker/config"
	"skytracker/logging"
	"skytracker/store"
)

// Version is the application version.
const Version = "0.1.0"

const debugLogLines = 8

var (
	// DB is the event store shared by subcommands.
	DB *store.Store

	logger  zerolog.Logger
	logRing = logging.NewRing(debugLogLines)

	dbPath string
	debug  bool
	pretty bool
)

var rootCmd = &cobra.Command{
	Use:     "skytracker",
	Short:   "Night-sky moving object detector and recorder",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env file is fine.
		_ = godotenv.Load()

		logger = logging.New(logging.Options{Debug: debug, Pretty: pretty, Ring: logRing})

		var err error
		DB, err = store.Open(dbPath, logger.With().Str("component", "store").Logger())
		if err != nil {
			return fmt.Errorf("failed to open event store: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		closeStore()
	},
	SilenceUsage: true,
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	err := rootCmd.ExecuteContext(ctx)
	// PostRun is skipped when a command fails.
	closeStore()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func closeStore() {
	if DB == nil {
		return
	}
	if err := DB.Close(); err != nil {
		logger.Warn().Err(err).Msg("closing event store")
	}
	DB = nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", config.Default().Recording.DBPath, "SQLite event database path")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&pretty, "pretty", false, "human-readable console logs")
}

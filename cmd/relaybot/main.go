// Command relaybot runs the anonymous channel relay: it talks to users in
// private chats, publishes their messages to the channel under the bot's
// byline and serves a small HTTP surface (health, metrics, webhook, API).
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-relay-bot/internal/config"
	"github.com/tbourn/go-relay-bot/internal/observability"
	"github.com/tbourn/go-relay-bot/internal/sysutil"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	envFile string
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:   "relaybot",
	Short: "Anonymous channel relay bot",
	Long: `relaybot relays private messages to a public channel without revealing
their authors. Readers reach a message's detail view through its deep-link;
replies in the channel's discussion are forwarded to the author.

Run without a subcommand to start the bot (same as "relaybot serve").`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := loadEnvFile(envFile); err != nil {
			return err
		}
		var err error
		if cfg, err = config.Load(); err != nil {
			return fmt.Errorf("config: %w", err)
		}

		service := sysutil.FirstNonEmpty(cfg.OTEL.ServiceName, "relay-bot")
		log.Logger = sysutil.NewLogger(cmd.ErrOrStderr(), service, cfg.LogPretty).
			Hook(observability.TraceHook{})
		sysutil.SetLogLevel(cfg.LogLevel)
		return nil
	},
	RunE: runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot and its HTTP server",
	Long: `Starts update intake (long polling or webhook, per UPDATE_MODE), the
update workers and the HTTP server. Stops gracefully on SIGINT/SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema and exit",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print user, message and join counters as JSON",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment (missing file is ignored)")
	rootCmd.Version = version

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(statsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadEnvFile populates unset variables from path. Variables already in the
// environment win.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("env file %s: %w", path, err)
	}
	return nil
}

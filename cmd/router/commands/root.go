// Package commands implements the router CLI.
package commands

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tjfontaine/polyglot-media-router/internal/pkg/config"
	"github.com/tjfontaine/polyglot-media-router/internal/storage/sqldb"
)

var versionInfo = struct {
	Version string
	Commit  string
}{Version: "dev", Commit: "none"}

// SetVersion records build information for the version command.
func SetVersion(version, commit string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
}

// NewRootCmd creates the root command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	g := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "router",
		Short: "Classify media generation prompts and route them to providers",
		Long: `router decides which generation workflow a prompt belongs to and
which provider and model should run it.

Configuration comes from config.yaml (or --config) with POLY_ environment
overrides, for example POLY_CLASSIFIER__API_KEY.`,
		SilenceUsage: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			// Load .env file if it exists
			_ = godotenv.Load()
		},
	}

	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "config file (default config.yaml when present)")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "log level: debug, info, warn, error")

	cmd.AddCommand(newServeCmd(g))
	cmd.AddCommand(newClassifyCmd(g))
	cmd.AddCommand(newRefsCmd(g))
	cmd.AddCommand(newEventsCmd(g))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func (g *globalFlags) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func (g *globalFlags) logger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(g.logLevel))); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", g.logLevel)
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})), nil
}

// openStore opens the configured database for the maintenance commands.
func openStore(cfg *config.Config) (*sqldb.Store, error) {
	switch cfg.Storage.Type {
	case "sqlite":
		return sqldb.NewSQLite(cfg.Storage.SQLite.Path)
	case "postgres":
		return sqldb.New(sqldb.Config{Driver: "postgres", DSN: cfg.Storage.Database.DSN})
	default:
		return nil, fmt.Errorf("storage type %q has no database", cfg.Storage.Type)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "router %s (commit %s)\n", versionInfo.Version, versionInfo.Commit)
		},
	}
}

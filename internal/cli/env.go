package cli

import (
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/strainline/internal/config"
	"github.com/roach88/strainline/internal/engine"
)

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// loadConfig reads .env, the config file and the environment, then applies
// command-line overrides.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load .env", err)
	}
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if o.Database != "" {
		cfg.DBPath = o.Database
	}
	return cfg, nil
}

// logger writes structured logs to stderr so stdout stays parseable.
func (o *RootOptions) logger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	level := slog.LevelWarn
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	}
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// openEngine builds an engine from the effective config. mutate, if set,
// adjusts the config first.
func (o *RootOptions) openEngine(cmd *cobra.Command, mutate func(*config.Config)) (*engine.Engine, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	if mutate != nil {
		mutate(cfg)
	}
	e, err := engine.New(cfg, engine.WithLogger(o.logger(cmd, cfg)))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to start engine", err)
	}
	return e, nil
}

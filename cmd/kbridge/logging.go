package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/kbridge/pkg/config"
)

// loadConfig reads --config and applies --log-level / --verbose on top of it, with
// --log-level taking precedence.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		if err := cfg.SetLogLevel(level); err != nil {
			return nil, err
		}
	} else if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.LogLevel = logrus.DebugLevel
	} else if path == "" {
		// Interactive commands stay quiet unless asked
		cfg.LogLevel = logrus.WarnLevel
	}
	return cfg, nil
}

// configureLogger creates the logger for cfg, writing to the command's error stream.
func configureLogger(cmd *cobra.Command, cfg *config.Config) *logrus.Logger {
	logger := cfg.NewLogger()
	logger.SetOutput(cmd.ErrOrStderr())
	return logger
}

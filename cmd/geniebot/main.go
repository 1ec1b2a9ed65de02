// Copyright 2024 Genie Teams Bot Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package main runs the Teams bot that answers questions from a Databricks
// Genie space on behalf of signed-in users.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/your-org/genie-teams-bot/internal/config"
	"github.com/your-org/genie-teams-bot/internal/genie"
)

var (
	// Version is the release tag, set with -ldflags at build time.
	Version = "dev"
	// BuildTime is the build timestamp, set with -ldflags at build time.
	BuildTime = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "geniebot",
		Short:        "Teams bot for Databricks Genie spaces",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")

	rootCmd.AddCommand(
		newServeCmd(&configPath),
		newAskCmd(&configPath),
		newVersionCmd(),
	)
	return rootCmd
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot's messaging endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			logger, level, err := newLogger(cfg.Logging)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			logger.Info("Loaded configuration", zap.Any("config", cfg.MaskSensitiveValues()))
			watchLogLevel(*configPath, level, logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := newApp(cfg, Version, logger)
			if err != nil {
				return err
			}
			return app.Run(ctx)
		},
	}
}

func newAskCmd(configPath *string) *cobra.Command {
	var (
		token          string
		conversationID string
		timeout        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask the Genie space one question with a personal access token",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadWithOptions(config.LoadOptions{ConfigPath: *configPath})
			if err != nil {
				return err
			}
			if token == "" {
				token = os.Getenv("DATABRICKS_TOKEN")
			}

			logger, _, err := newLogger(cfg.Logging)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			api, err := genie.NewWorkspaceAPI(cfg.Genie.Host, token)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			return ask(ctx, cmd.OutOrStdout(), genie.NewOrchestrator(logger), api,
				cfg.Genie.SpaceID, conversationID, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVarP(&token, "token", "t", "", "Databricks access token (defaults to DATABRICKS_TOKEN)")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "Continue an existing Genie conversation")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Time allowed for the answer")
	return cmd
}

// ask prints the rendered answer followed by the conversation id to continue with
func ask(
	ctx context.Context,
	out io.Writer,
	orchestrator *genie.Orchestrator,
	api genie.API,
	spaceID, conversationID, question string,
) error {
	if spaceID == "" {
		return errors.New("genie space id is required")
	}

	raw, nextConversationID := orchestrator.Ask(ctx, question, spaceID, api, conversationID)
	answer, err := genie.DecodeAnswer(raw)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintln(out, genie.Format(answer)); err != nil {
		return err
	}
	if nextConversationID != "" {
		_, err = fmt.Fprintf(out, "\nconversation: %s\n", nextConversationID)
	}
	return err
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "geniebot %s (built %s)\n", Version, BuildTime)
		},
	}
}

// newLogger builds the process logger. Its level can be changed at runtime
// through the returned AtomicLevel.
func newLogger(cfg config.LoggingConfig) (*zap.Logger, zap.AtomicLevel, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, level, fmt.Errorf("invalid log level: %w", err)
	}

	var zapConfig zap.Config
	if cfg.Format == "text" {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zapConfig.Level = level

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, level, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, level, nil
}

// watchLogLevel applies logging.level changes from the config file without a
// restart
func watchLogLevel(configPath string, level zap.AtomicLevel, logger *zap.Logger) {
	err := config.WatchConfig(configPath, logger, func(cfg *config.Config) {
		next, err := zapcore.ParseLevel(cfg.Logging.Level)
		if err != nil || next == level.Level() {
			return
		}
		logger.Info("Changing log level",
			zap.Stringer("from", level.Level()),
			zap.Stringer("to", next))
		level.SetLevel(next)
	})
	if err != nil {
		logger.Debug("Config file not watched", zap.Error(err))
	}
}

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

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/your-org/genie-teams-bot/internal/bot"
	"github.com/your-org/genie-teams-bot/internal/config"
	"github.com/your-org/genie-teams-bot/internal/dialog"
	"github.com/your-org/genie-teams-bot/internal/genie"
	"github.com/your-org/genie-teams-bot/internal/health"
	"github.com/your-org/genie-teams-bot/internal/resilience"
	"github.com/your-org/genie-teams-bot/internal/session"
	"github.com/your-org/genie-teams-bot/internal/state"
	"github.com/your-org/genie-teams-bot/internal/teams"
)

const (
	serviceName      = "genie-teams-bot"
	metricsNamespace = "genie_bot"
	metricsPath      = "/metrics"
)

// app is the assembled bot server
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	router  *gin.Engine
	queue   *bot.TurnQueue
	storage state.Storage

	// authenticated is false when no app id is configured and inbound
	// tokens are not checked
	authenticated bool
}

func newApp(cfg *config.Config, version string, logger *zap.Logger) (*app, error) {
	storage, err := state.NewStorage(state.Config{
		StorageType: cfg.State.StorageType,
		DBPath:      cfg.State.DBPath,
	}, logger)
	if err != nil {
		return nil, err
	}

	credentials := teams.Credentials{
		AppID:       cfg.Bot.AppID,
		AppPassword: cfg.Bot.AppPassword,
		TenantID:    cfg.Bot.TenantID,
	}
	botClient := credentials.HTTPClient(teams.DefaultHTTPTimeout)

	connector := teams.NewConnector(botClient, resilience.DefaultBackoffConfig(), logger)
	tokens := teams.NewTokenClient(cfg.Bot.TokenServiceURL, cfg.Bot.AppID, botClient, logger)
	validator := teams.NewAuthValidator(cfg.Bot.AppID, cfg.Bot.OpenIDMetadataURL, nil, logger)

	breaker := genie.NewBreaker(cfg.Genie.Breaker.MaxFailures, cfg.Genie.Breaker.ResetTimeout, logger)

	sessions := session.NewStore(logger)
	metrics := bot.NewMetrics(metricsNamespace, sessions.Len)

	login := dialog.NewLoginDialog(dialog.OAuthPromptSettings{
		ConnectionName: cfg.Bot.OAuthConnectionName,
		Timeout:        cfg.Bot.OAuthTimeout,
	}, tokens, sessions, logger)

	teamsBot, err := bot.NewTeamsBot(bot.Config{
		SpaceID:        cfg.Genie.SpaceID,
		WelcomeMessage: cfg.Bot.WelcomeMessage,
		ValidateClient: cfg.Genie.ValidateClient,
	}, bot.Deps{
		ConversationState: state.NewConversationState(storage),
		UserState:         state.NewUserState(storage),
		Dialog:            login,
		Sessions:          sessions,
		ClientFactory:     genie.WithBreaker(genie.NewWorkspaceClientFactory(cfg.Genie.Host), breaker),
		Orchestrator:      genie.NewOrchestrator(logger),
		RateLimiter:       bot.NewUserRateLimiter(cfg.Bot.RateLimit.RequestsPerMinute, cfg.Bot.RateLimit.Burst),
		Metrics:           metrics,
	}, logger)
	if err != nil {
		_ = storage.Close()
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	queue := bot.NewTurnQueue(cfg.Server.MaxPending, logger)
	handler := bot.NewHandler(teamsBot, validator, connector, queue, cfg.Server.TurnTimeout, metrics, logger)

	checks := health.NewManager(serviceName, version, logger)
	checks.AddChecker("state", health.StorageChecker(cfg.State.StorageType, storage))
	checks.AddChecker("genie", health.BreakerChecker(breaker))
	checks.AddChecker("turns", health.BacklogChecker(queue.Len, queue.Limit()))

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))
	handler.Register(router)
	checks.Register(router)
	router.GET(metricsPath, gin.WrapH(metrics.Handler()))

	return &app{
		cfg:     cfg,
		logger:  logger,
		router:  router,
		queue:   queue,
		storage: storage,

		authenticated: validator.Enabled(),
	}, nil
}

// Run serves until ctx is done, then drains queued turns and closes storage
func (a *app) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Starting bot server",
			zap.Int("port", a.cfg.Server.Port),
			zap.String("space_id", a.cfg.Genie.SpaceID),
			zap.String("storage", a.cfg.State.StorageType),
			zap.Bool("authenticated", a.authenticated))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		a.logger.Info("Shutting down bot server")
	case serveErr = <-errCh:
		if serveErr != nil {
			a.logger.Error("Server failed", zap.Error(serveErr))
		}
	}

	return errors.Join(serveErr, a.shutdown(server))
}

func (a *app) shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := a.queue.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("turn queue shutdown: %w", err))
	}
	if err := a.storage.Close(); err != nil {
		errs = append(errs, fmt.Errorf("storage close: %w", err))
	}
	return errors.Join(errs...)
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if c.Request.URL.Path == health.Path || c.Request.URL.Path == metricsPath {
			return
		}
		logger.Debug("Handled request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}

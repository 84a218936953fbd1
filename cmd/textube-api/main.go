package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/textube/backend/internal/auth"
	"github.com/textube/backend/internal/config"
	"github.com/textube/backend/internal/scheduler"
	"github.com/textube/backend/internal/server"
	"github.com/textube/backend/internal/urlnorm"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "textube-api",
		Short: "Textube link ingestion service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newServeCommand(), newSweepCommand(), newNormalizeCommand(), newTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Bearer token signing secret (overrides env)")
	cmd.PersistentFlags().StringSlice("allowed-domains", defaults.GetStringSlice("links.allowed_domains"), "Domains accepted for submission")
	cmd.PersistentFlags().Duration("sweep-interval", defaults.GetDuration("ingest.sweep_interval"), "Interval between pending submission sweeps")
	cmd.PersistentFlags().Int("ingest-workers", defaults.GetInt("ingest.workers"), "Concurrent ingest workers")
	cmd.PersistentFlags().String("youtube-api-key", "", "YouTube Data API key")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "links.allowed_domains", "allowed-domains")
	bindFlag(cmd, "ingest.sweep_interval", "sweep-interval")
	bindFlag(cmd, "ingest.workers", "ingest-workers")
	bindFlag(cmd, "sources.youtube.api_key", "youtube-api-key")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, ingest dispatcher and sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func newSweepCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Process one batch of pending submissions and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd.Context(), limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum submissions to process (defaults to ingest.batch_limit)")
	return cmd
}

func newNormalizeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "normalize <url>",
		Short: "Print the canonical form and safety verdict for a URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			result, err := urlnorm.Normalize(args[0])
			if err != nil {
				return err
			}
			verdict := urlnorm.IsSafe(result.CanonicalURL, appConfig.AllowedDomains)
			output := map[string]any{
				"canonicalUrl": result.CanonicalURL,
				"sourceType":   result.SourceType,
				"safe":         verdict.Safe,
			}
			if !verdict.Safe {
				output["reason"] = verdict.Reason.Message()
			}
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(output)
		},
	}
}

func newTokenCommand() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a development bearer token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.AuthSigningSecret),
				Issuer:        appConfig.AuthIssuer,
				TokenTTL:      ttl,
			})
			if err != nil {
				return err
			}
			token, expiresAt, err := issuer.Issue(args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\nexpires %s\n", token, expiresAt.Format(time.RFC3339))
			return err
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	app, err := newApplication(appConfig)
	if err != nil {
		return err
	}
	defer app.Close()
	logger := app.logger

	resolver, err := newResolver(appConfig)
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Links:    app.links,
		Posts:    app.posts,
		Resolver: resolver,
		Events:   app.events,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(signalCtx)
	group.Go(func() error {
		return app.dispatcher.Run(groupCtx)
	})
	group.Go(func() error {
		sweeper := scheduler.New(app.worker, appConfig.SweepInterval, appConfig.BatchLimit, logger)
		return sweeper.Run(groupCtx)
	})
	group.Go(func() error {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runSweep(ctx context.Context, limit int) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	if limit <= 0 {
		limit = appConfig.BatchLimit
	}

	app, err := newApplication(appConfig)
	if err != nil {
		return err
	}
	defer app.Close()

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := app.worker.ProcessPendingSubmissions(signalCtx, limit)
	if err != nil {
		return err
	}
	for _, failure := range result.Failures {
		app.logger.Warn("pending submission failed",
			zap.String("submission_id", failure.SubmissionID),
			zap.Error(failure.Err))
	}
	app.logger.Info("sweep finished",
		zap.Int("attempted", result.Attempted),
		zap.Int("succeeded", result.Succeeded()),
		zap.Int("failed", len(result.Failures)))
	return nil
}

func newResolver(appConfig config.AppConfig) (*auth.Resolver, error) {
	if appConfig.AuthSigningSecret == "" {
		return auth.NewResolver(nil, appConfig.AuthUserHeader), nil
	}
	validator, err := auth.NewTokenValidator(auth.TokenValidatorConfig{
		SigningSecret: []byte(appConfig.AuthSigningSecret),
		Issuer:        appConfig.AuthIssuer,
	})
	if err != nil {
		return nil, err
	}
	return auth.NewResolver(validator, appConfig.AuthUserHeader), nil
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/greenhouse/internal/auth"
	"github.com/MarcoPoloResearchLab/greenhouse/internal/config"
	"github.com/MarcoPoloResearchLab/greenhouse/internal/database"
	"github.com/MarcoPoloResearchLab/greenhouse/internal/greenhouses"
	"github.com/MarcoPoloResearchLab/greenhouse/internal/logging"
	"github.com/MarcoPoloResearchLab/greenhouse/internal/metrics"
	"github.com/MarcoPoloResearchLab/greenhouse/internal/recordstore/pocketbase"
	"github.com/MarcoPoloResearchLab/greenhouse/internal/recordstore/sqlstore"
	"github.com/MarcoPoloResearchLab/greenhouse/internal/server"
	"github.com/MarcoPoloResearchLab/greenhouse/internal/users"
	"github.com/MarcoPoloResearchLab/greenhouse/internal/weather"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "greenhouse-api",
		Short: "Greenhouse dashboard backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	flags.String("public-origin", defaults.GetString("http.public_origin"), "Origin the browser app is served from")
	flags.String("database-path", defaults.GetString("database.path"), "SQLite database path")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	flags.String("store-driver", defaults.GetString("store.driver"), "Greenhouse record store (pocketbase, sqlite)")
	flags.String("store-base-url", "", "Record store base URL")
	flags.Int("store-timeout-seconds", defaults.GetInt("store.timeout_seconds"), "Record store request timeout")
	flags.String("signing-secret", "", "Browser cookie signing secret (overrides env)")
	flags.String("provider-name", defaults.GetString("auth.provider_name"), "OAuth2 provider name")
	flags.String("weather-endpoint", defaults.GetString("weather.endpoint"), "Forecast API endpoint")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.public_origin", "public-origin")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "store.driver", "store-driver")
	bindFlag(cmd, "store.base_url", "store-base-url")
	bindFlag(cmd, "store.timeout_seconds", "store-timeout-seconds")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.provider_name", "provider-name")
	bindFlag(cmd, "weather.endpoint", "weather-endpoint")
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

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	remote, err := pocketbase.NewClient(pocketbase.Config{
		BaseURL: appConfig.StoreBaseURL,
		Timeout: appConfig.StoreTimeout,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	recordStore, err := selectRecordStore(appConfig, db, remote, logger)
	if err != nil {
		return err
	}

	notices := server.NewNoticeDispatcher()
	recorder := metrics.NewRecorder()
	registry, err := greenhouses.NewRegistry(greenhouses.RegistryConfig{
		Store:       recordStore,
		IDProvider:  greenhouses.NewUUIDProvider(),
		Logger:      logger,
		Notifier:    notices,
		Observer:    recorder,
		PanelLimits: greenhouses.PanelLimits{MaxWidth: appConfig.MaxPanelWidth, MaxHeight: appConfig.MaxPanelHeight},
	})
	if err != nil {
		return err
	}

	gateway, err := auth.NewGateway(auth.GatewayConfig{
		Provider:     remote,
		ProviderName: appConfig.ProviderName,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	signingSecret := []byte(appConfig.SigningSecret)
	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{SigningSecret: signingSecret})
	if err != nil {
		return err
	}
	tokenValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: signingSecret,
		CookieName:    appConfig.CookieName,
	})
	if err != nil {
		return err
	}
	browserStorage, err := database.NewBrowserStorage(db, time.Now)
	if err != nil {
		return err
	}
	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		return err
	}
	weatherClient, err := weather.NewClient(weather.Config{Endpoint: appConfig.WeatherEndpoint, Logger: logger})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		PublicOrigin:   appConfig.PublicOrigin,
		AllowedOrigins: appConfig.AllowedOrigins,
		ProviderName:   appConfig.ProviderName,
		Gateway:        gateway,
		BrowserStorage: browserStorage,
		TokenIssuer:    tokenIssuer,
		TokenValidator: tokenValidator,
		Registry:       registry,
		Users:          userService,
		Weather:        weatherClient,
		Notices:        notices,
		Metrics:        recorder,
		Logger:         logger,
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
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("store_driver", appConfig.StoreDriver))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
	return group.Wait()
}

func selectRecordStore(appConfig config.AppConfig, db *gorm.DB, remote *pocketbase.Client, logger *zap.Logger) (greenhouses.RecordStore, error) {
	if appConfig.StoreDriver == config.StoreDriverSQLite {
		return sqlstore.NewStore(sqlstore.Config{
			Database:   db,
			IDProvider: greenhouses.NewUUIDProvider(),
			Logger:     logger,
		})
	}
	return remote, nil
}

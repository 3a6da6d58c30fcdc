package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"monsoon/internal/config"
	"monsoon/internal/controllers"
	"monsoon/internal/errors"
	"monsoon/internal/logger"
	"monsoon/internal/middleware"
	"monsoon/internal/routes"
	"monsoon/internal/services"

	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	level, _ := logger.ParseLevel(cfg.LogLevel)
	logger.Init(level, cfg.LogFormat)

	services.InitAuthService(cfg.AuthSecret, cfg.TokenExpiry)

	if cfg.PrintToken {
		if err := printToken(cfg, os.Stdout); err != nil {
			logger.Fatal().Err(err).Msg("Failed to generate token")
		}
		return
	}

	services.SetCacheTTL(cfg.CacheTTL)
	subscriptions := services.InitSubscriptionController(
		services.WithSamplingPeriod(cfg.SamplingPeriod),
		services.WithSampleBuffer(cfg.SampleBuffer),
		services.WithDeliveryTimeout(cfg.EffectiveDeliveryTimeout()),
	)
	services.InitWebSocketHub()

	controllers.Configure(controllers.Settings{
		AuthEnabled:     cfg.AuthEnabled,
		AllowedOrigins:  cfg.AllowedOrigins,
		SampleBuffer:    cfg.SampleBuffer,
		DeliveryTimeout: cfg.EffectiveDeliveryTimeout(),
		Subscriptions:   subscriptions,
	})

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: newRouter(cfg),
	}

	go func() {
		var err error
		if cfg.TLSEnabled() {
			err = srv.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.FatalWithCode(errors.New().Wrap(errors.ErrUnavailable, err)).Msg("Server failed")
		}
	}()

	logger.Info().
		Str("addr", cfg.Addr).
		Bool("tls", cfg.TLSEnabled()).
		Bool("auth", cfg.AuthEnabled).
		Dur("sampling_period", cfg.SamplingPeriod).
		Msg("Monsoon listening")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info().Msg("Shutting down")
	services.StopWebSocketHub()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown failed")
	}
}

// printToken writes a token for the configured server name to out
func printToken(cfg *config.Config, out io.Writer) error {
	if !middleware.NewInputValidator().ValidateServerName(cfg.ServerName) {
		return errors.New().WithData(errors.ErrInvalidArgument, map[string]interface{}{"server_name": cfg.ServerName}).
			WithMessage("Server name must be 1-255 letters, digits, dots, hyphens or underscores")
	}

	token, err := services.GenerateToken(cfg.ServerName)
	if err != nil {
		return err
	}
	middleware.GlobalSecurityLogger.LogTokenGenerated("cli", cfg.ServerName, services.GetTokenExpiry())

	_, err = fmt.Fprintln(out, token)
	return err
}

func newRouter(cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.SecurityHeadersMiddleware())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))
	r.Use(middleware.IPWhitelistMiddleware(middleware.NewIPWhitelist(cfg.AllowedIPs)))
	r.Use(middleware.RateLimitMiddleware(middleware.NewRateLimiter()))

	routes.RegisterHealthRoutes(r)
	routes.RegisterAuthRoutes(r)
	routes.RegisterMonitorRoutes(r, cfg.AuthEnabled)
	routes.RegisterProcessRoutes(r, cfg.AuthEnabled)

	return r
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pepperbot/internal/appointments"
	"pepperbot/internal/auth"
	"pepperbot/internal/middleware"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// serverConfig is read from flags, PEPPER_* variables and an optional YAML file
type serverConfig struct {
	Addr     string      `mapstructure:"addr"`
	DB       string      `mapstructure:"db"`
	Seed     bool        `mapstructure:"seed"`
	LogLevel string      `mapstructure:"log_level"`
	Auth     auth.Config `mapstructure:"auth"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var configPath string

	cmd := &cobra.Command{
		Use:          "appointments",
		Short:        "Appointment API for the Pepper receptionist",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v, configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "", "YAML config file")
	flags.String("addr", "0.0.0.0:5001", "Listen address")
	flags.String("db", "appointments.db", "SQLite database path")
	flags.Bool("seed", false, "Insert sample appointments into an empty database")
	flags.String("log-level", "info", "Log level")
	flags.Bool("auth", false, "Require a bearer token for writes")

	if err := bindFlags(v, flags); err != nil {
		log.WithError(err).Fatal("Failed to bind flags")
	}
	return cmd
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for key, name := range map[string]string{
		"addr":         "addr",
		"db":           "db",
		"seed":         "seed",
		"log_level":    "log-level",
		"auth.enabled": "auth",
	} {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

func loadConfig(v *viper.Viper, path string) (*serverConfig, error) {
	v.SetDefault("auth.username", "admin")
	v.SetDefault("auth.password", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_expiry", auth.DefaultExpiry)
	v.SetEnvPrefix("PEPPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg serverConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

func serve(ctx context.Context, cfg *serverConfig) error {
	log.SetOutput(os.Stderr)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if lvl, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}
	logger := log.WithField("component", "appointments")

	store, err := appointments.Open(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.Seed {
		if _, err := store.Seed(ctx); err != nil {
			return err
		}
	}

	authenticator, err := auth.NewAuthenticator(cfg.Auth)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           middleware.RequestLogger(logger)(appointments.NewHandler(store, authenticator)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.WithFields(log.Fields{"addr": cfg.Addr, "auth": authenticator.IsEnabled()}).Info("Appointment API listening")
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

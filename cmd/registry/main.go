// Command registry runs the service registry: register/list/reverse-proxy
// dispatch against a local bbolt store.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskfabric.dev/internal/buildinfo"
	"taskfabric.dev/internal/config"
	"taskfabric.dev/internal/logging"
	"taskfabric.dev/internal/metrics"
	"taskfabric.dev/internal/registry"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "registry",
	Short: "service registry and reverse proxy",
	Run:   run,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./taskfabric.yaml)")
	rootCmd.PersistentFlags().String("server-port", "", "HTTP listen port")
	rootCmd.PersistentFlags().String("registry-bolt-path", "", "bbolt database file path")

	viper.BindPFlag("server.port", rootCmd.PersistentFlags().Lookup("server-port"))
	viper.BindPFlag("registry.bolt_path", rootCmd.PersistentFlags().Lookup("registry-bolt-path"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("taskfabric")
	}
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("registry: using config file", viper.ConfigFileUsed())
	}
}

func run(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		fmt.Fprintln(os.Stderr, "registry: load config:", err)
		os.Exit(1)
	}

	log := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	store, err := registry.Open(cfg.Registry.BoltPath)
	if err != nil {
		log.WithError(err).Fatal("registry: open bolt store")
	}
	defer store.Close()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New("taskfabric_registry")
	}

	registry.Routes(e, &registry.Handlers{Store: store, TTL: cfg.Registry.TTL, Log: log, Metrics: m})
	e.GET("/version", func(c echo.Context) error {
		return c.JSON(http.StatusOK, buildinfo.Get())
	})
	if cfg.Metrics.Enabled {
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}

	go func() {
		addr := ":" + cfg.Server.Port
		log.WithField("addr", addr).Info("registry: listening")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("registry: server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("registry: shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Fatal("registry: shutdown")
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

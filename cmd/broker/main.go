// Command broker runs the task queue's HTTP API: action/force transitions,
// assignOne load balancing, and status lookups, backed by CouchDB.
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

	"taskfabric.dev/internal/broker"
	"taskfabric.dev/internal/buildinfo"
	"taskfabric.dev/internal/cache"
	"taskfabric.dev/internal/config"
	"taskfabric.dev/internal/logging"
	"taskfabric.dev/internal/metrics"
	"taskfabric.dev/internal/ssoauth"
	"taskfabric.dev/internal/store"
)

var cfgFile string

var swaggerDoc = map[string]interface{}{
	"openapi": "3.0.0",
	"info":    map[string]string{"title": "taskfabric broker", "version": "1"},
	"paths": map[string]interface{}{
		"/v1/tasks/{task}/{key}/action/{action}": map[string]string{"put": "apply a state-machine action to task/key"},
		"/v1/tasks/{task}/{key}/force/{status}":  map[string]string{"put": "force task/key directly to status"},
		"/v1/tasks/{task}/assign":                map[string]string{"put": "assign the next eligible todo task"},
		"/v1/tasks/{task}/{key}":                 map[string]string{"get": "fetch one task document"},
		"/v1/tasks/{task}/status/{statuses}":      map[string]string{"get": "list tasks grouped by status"},
	},
}

var rootCmd = &cobra.Command{
	Use:   "broker",
	Short: "task queue API server",
	Run:   run,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./taskfabric.yaml)")
	rootCmd.PersistentFlags().String("server-port", "", "HTTP listen port")
	rootCmd.PersistentFlags().String("couchdb-url", "", "CouchDB connection URL")
	rootCmd.PersistentFlags().String("couchdb-database", "", "CouchDB database name")

	viper.BindPFlag("server.port", rootCmd.PersistentFlags().Lookup("server-port"))
	viper.BindPFlag("couchdb.url", rootCmd.PersistentFlags().Lookup("couchdb-url"))
	viper.BindPFlag("couchdb.database", rootCmd.PersistentFlags().Lookup("couchdb-database"))
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
		fmt.Println("broker: using config file", viper.ConfigFileUsed())
	}
}

func run(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		fmt.Fprintln(os.Stderr, "broker: load config:", err)
		os.Exit(1)
	}

	log := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	ring := logging.NewRingHook(500)
	log.AddHook(ring)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	taskStore, err := store.NewCouchDBStore(ctx, cfg.CouchDB.URL, cfg.CouchDB.Database)
	cancel()
	if err != nil {
		log.WithError(err).Fatal("broker: connect to couchdb")
	}
	defer taskStore.Close()

	indexCtx, indexCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := taskStore.EnsureIndexes(indexCtx); err != nil {
		log.WithError(err).Fatal("broker: ensure indexes")
	}
	indexCancel()

	var metricsEnabled = cfg.Metrics.Enabled
	var m *metrics.Metrics
	if metricsEnabled {
		m = metrics.New("taskfabric_broker")
	}

	emptyCache := cache.NewEmptyAssignCache(cfg.Redis.Addr, 2*time.Second)
	defer emptyCache.Close()

	engine := broker.NewEngine(taskStore, cfg.Transitions(), cfg.ValidStatuses(), log,
		broker.WithMetrics(m), broker.WithEmptyAssignCache(emptyCache))

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	if cfg.SSO.Enabled {
		e.Use(ssoauth.Middleware(cfg.SSO.Secret))
	}

	broker.Routes(e, &broker.Handlers{Engine: engine})
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "healthy", "service": "broker"})
	})
	e.GET("/version", func(c echo.Context) error {
		return c.JSON(http.StatusOK, buildinfo.Get())
	})
	e.GET("/swagger.json", func(c echo.Context) error {
		return c.JSON(http.StatusOK, swaggerDoc)
	})
	e.GET("/log", func(c echo.Context) error {
		n := 100
		if raw := c.QueryParam("n"); raw != "" {
			fmt.Sscanf(raw, "%d", &n)
		}
		return c.JSON(http.StatusOK, ring.Last(n))
	})
	if metricsEnabled {
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}

	go func() {
		addr := ":" + cfg.Server.Port
		log.WithField("addr", addr).Info("broker: listening")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("broker: server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("broker: shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Fatal("broker: shutdown")
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

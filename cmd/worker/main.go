// Command worker runs the todo/do harness against a broker: scanning for new
// work, performing assigned work, running periodic callbacks, and keeping
// this instance's registry entry alive via heartbeat re-registration.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskfabric.dev/internal/client"
	"taskfabric.dev/internal/config"
	"taskfabric.dev/internal/logging"
	"taskfabric.dev/internal/worker"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "worker",
	Short: "todo/do task harness",
	Run:   run,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./taskfabric.yaml)")
	rootCmd.PersistentFlags().String("self-url", "", "URL this worker advertises to the registry")

	viper.BindPFlag("self-url", rootCmd.PersistentFlags().Lookup("self-url"))
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
		fmt.Println("worker: using config file", viper.ConfigFileUsed())
	}
}

func run(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		fmt.Fprintln(os.Stderr, "worker: load config:", err)
		os.Exit(1)
	}

	log := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	table := client.Compile(cfg.Services, 30*time.Second)
	broker := worker.NewBrokerClient(table)

	// Echoes assigned task data back as its own success payload; a real
	// deployment supplies its own TodoFunc/DoFunc wired to this service's
	// business logic.
	todoFn := func(ctx context.Context, data map[string]interface{}) ([]worker.TodoItem, error) {
		return nil, nil
	}
	doFn := func(ctx context.Context, key string, data map[string]interface{}) (map[string]interface{}, error) {
		return data, nil
	}

	h := worker.NewHarness(broker, cfg.Tasks.Todo, cfg.Tasks.Do, todoFn, doFn, log)

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.RunLoop(ctx, func(ctx context.Context) (bool, error) {
			result, err := h.Todo(ctx)
			if err != nil || result == nil {
				return false, err
			}
			return result.Loops > 0, nil
		}, func() { time.Sleep(5 * time.Second) })
	}()
	go func() {
		defer wg.Done()
		h.RunLoop(ctx, func(ctx context.Context) (bool, error) {
			result, err := h.Do(ctx)
			if err != nil || result == nil {
				return false, err
			}
			return result.Ran, nil
		}, func() { time.Sleep(2 * time.Second) })
	}()

	selfURL := viper.GetString("self-url")
	var heartbeatDone <-chan struct{}
	if selfURL != "" {
		registryClient := worker.NewRegistryClient(cfg.Registry.URL)
		heartbeatDone = registryClient.StartHeartbeat(ctx, "worker", selfURL, nil, cfg.Registry.HealthCheck, log)
	}

	if len(cfg.Callbacks) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.RunAll(ctx, cfg.Callbacks, selfURL, log)
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("worker: shutting down")
	cancel()
	wg.Wait()
	if heartbeatDone != nil {
		<-heartbeatDone
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

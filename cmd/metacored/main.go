// Command metacored runs the cluster metadata coordination core as a
// standalone process: load configuration, open the configured MetaStore,
// construct the MetaManager, and serve metrics until signaled to stop.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/chronosdb/metacore/cmn"
	"github.com/chronosdb/metacore/manager"
	"github.com/chronosdb/metacore/meta"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "metacored",
	Short: "Cluster metadata coordination core for the time-series database front-end",
	RunE:  run,
}

func init() {
	rootCmd.Flags().String("config", "/etc/metacored/config.yaml", "path to the YAML configuration file")
	rootCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "address to serve /metrics on")
}

func run(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	logLevel, _ := cmd.Flags().GetString("log-level")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	if err := cmn.SetLogLevel(logLevel); err != nil {
		return fmt.Errorf("set log level: %w", err)
	}

	cfg, err := cmn.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	registry := prometheus.NewRegistry()
	mgr, err := manager.New(cfg, registry)
	if err != nil {
		// Bootstrap failure is the one fatal path (spec §7): exit.
		return fmt.Errorf("construct manager: %w", err)
	}

	cmn.Log.Info().
		Int("engines", mgr.GetStorageEngineNum()).
		Bool("has_fragment", mgr.HasFragment()).
		Msg("metacored started")

	engines, err := cmn.ParseStorageEngines(cfg.StorageEngines)
	if err != nil {
		return fmt.Errorf("parse storage engine list: %w", err)
	}
	if len(engines) > 0 {
		registerStaticEngines(mgr, engines)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			cmn.Log.Error().Err(err).Msg("metrics server error")
		}
	}()
	cmn.Log.Info().Str("addr", metricsAddr).Msg("metrics endpoint listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	cmn.Log.Info().Msg("shutting down")
	_ = srv.Close()
	return mgr.Close()
}

// registerStaticEngines installs the config file's static engine list
// (spec §6). It runs on every startup with a non-empty list, and this core
// has no dedup-by-endpoint check, so an engine registered by an earlier
// start is registered again.
func registerStaticEngines(mgr *manager.MetaManager, specs []cmn.EngineSpec) {
	engines := make([]*meta.StorageEngine, 0, len(specs))
	for _, spec := range specs {
		engines = append(engines, &meta.StorageEngine{
			Endpoint: spec.Endpoint(),
			Kind:     spec.Kind,
			Params:   spec.Params,
		})
	}
	if !mgr.RegisterStorageEngines(engines) {
		cmn.Log.Warn().Msg("failed to register one or more static storage engines")
	}
}

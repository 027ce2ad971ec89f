package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haefele/remoteviewer/internal/config"
	"github.com/haefele/remoteviewer/internal/health"
	"github.com/haefele/remoteviewer/internal/logging"
	"github.com/haefele/remoteviewer/internal/relay"
	"github.com/haefele/remoteviewer/internal/transport"
)

var (
	version    = "0.1.0"
	cfgFile    string
	listenAddr string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Remote desktop relay server",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the relay",
	Run: func(cmd *cobra.Command, args []string) {
		runRelay()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("relay v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/remoteviewer/relay.yaml)")
	runCmd.Flags().StringVar(&listenAddr, "listen", "", "address to listen on (overrides config)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initLogging(cfg *config.Config) {
	var output io.Writer = os.Stdout
	if cfg.LogFile != "" {
		rw, err := logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v (logging to stdout)\n", cfg.LogFile, err)
		} else {
			output = logging.TeeWriter(os.Stdout, rw)
		}
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, output)
	log = logging.L("main")
}

func runRelay() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if listenAddr != "" {
		cfg.RelayListenAddr = listenAddr
	}

	initLogging(cfg)
	log.Info("starting relay", "version", version, "listen", cfg.RelayListenAddr)

	registry := relay.NewRegistry()
	srv := transport.NewServer(registry)

	monitor := health.NewMonitor()
	monitor.Update("registry", health.Healthy, "")
	monitor.Update("listener", health.Healthy, "")

	mux := http.NewServeMux()
	mux.Handle("/ws", srv)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		summary := monitor.Summary()
		w.Header().Set("Content-Type", "application/json")
		if monitor.Overall() != health.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(summary)
	})

	httpSrv := &http.Server{
		Addr:    cfg.RelayListenAddr,
		Handler: mux,
	}

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			monitor.Update("listener", health.Unhealthy, err.Error())
			log.Error("relay server stopped unexpectedly", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("relay is running")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("shutting down relay")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("relay shutdown error", "error", err)
	}
	log.Info("relay stopped")
}

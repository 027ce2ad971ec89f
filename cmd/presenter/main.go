package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haefele/remoteviewer/internal/bufpool"
	"github.com/haefele/remoteviewer/internal/capture"
	"github.com/haefele/remoteviewer/internal/capturemgr"
	"github.com/haefele/remoteviewer/internal/config"
	"github.com/haefele/remoteviewer/internal/connection"
	"github.com/haefele/remoteviewer/internal/encode"
	"github.com/haefele/remoteviewer/internal/logging"
	"github.com/haefele/remoteviewer/internal/pipeline"
	"github.com/haefele/remoteviewer/internal/protocol"
	"github.com/haefele/remoteviewer/internal/screen"
	"github.com/haefele/remoteviewer/internal/secmem"
	"github.com/haefele/remoteviewer/internal/screenshot"
	"github.com/haefele/remoteviewer/internal/transport"
	"github.com/haefele/remoteviewer/internal/workerpool"
)

var (
	version    = "0.1.0"
	cfgFile    string
	relayURL   string
	displayName string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "presenter",
	Short: "Share this machine's displays over a relay",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the relay and start presenting",
	Run: func(cmd *cobra.Command, args []string) {
		runPresenter()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("presenter v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/remoteviewer/presenter.yaml)")
	runCmd.Flags().StringVar(&relayURL, "relay", "", "relay websocket URL (overrides config)")
	runCmd.Flags().StringVar(&displayName, "name", "", "display name shown to viewers")

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

// presenterSession owns the single active ConnectionGrain this
// process presents through, and the capturemgr.Manager driving one
// pipeline per display a viewer currently has selected.
type presenterSession struct {
	pool     *bufpool.Pool
	service  *screenshot.Service
	encoder  *encode.Encoder
	targetFPS func() int
	displayName string

	mu      sync.Mutex
	conn    *connection.Connection
	manager *capturemgr.Manager
}

func (s *presenterSession) handleConnectionStarted(client *transport.Client, msg protocol.ConnectionStarted) {
	if !msg.IsPresenter {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return
	}

	conn := connection.New(msg.ConnectionID, connection.RolePresenter, client, connection.EventHandlers{
		Closed: func() {
			log.Info("connection closed", "connection_id", msg.ConnectionID)
			s.mu.Lock()
			if s.manager != nil {
				s.manager.Dispose()
				s.manager = nil
			}
			s.conn = nil
			s.mu.Unlock()
		},
		ViewersChanged: func(viewers []connection.Viewer) {
			log.Info("viewers changed", "count", len(viewers))
		},
		InputReceived: func(msgType protocol.MessageType, payload []byte) {
			s.handleInput(msgType, payload)
		},
	})

	manager := capturemgr.New(s.pipelineFactory, s.neededDisplays)
	manager.Start()

	s.conn = conn
	s.manager = manager
	log.Info("now presenting", "connection_id", msg.ConnectionID)
}

func (s *presenterSession) handleInput(msgType protocol.MessageType, payload []byte) {
	switch msgType {
	case protocol.TypeDisplayRequestList:
		s.sendDisplayList("")
	default:
		log.Debug("input event received", "type", msgType)
	}
}

func (s *presenterSession) handleMessageReceived(msg protocol.MessageReceived) {
	env, err := protocol.Decode(msg.Data)
	if err != nil {
		log.Warn("malformed envelope", "error", err)
		return
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}

	switch env.Type {
	case protocol.TypeDisplayRequestList:
		s.sendDisplayList(msg.SenderClientID)
	case protocol.TypeDisplaySelect:
		var sel protocol.DisplaySelect
		if err := protocol.DecodePayload(env, &sel); err != nil {
			log.Warn("malformed display select", "error", err)
			return
		}
		if err := conn.UpdateViewerSelection(msg.SenderClientID, sel.DisplayID); err != nil {
			log.Warn("update viewer selection failed", "error", err)
		}
	default:
		if err := conn.HandleMessage(env); err != nil {
			log.Warn("handle message failed", "type", env.Type, "error", err)
		}
	}
}

func (s *presenterSession) sendDisplayList(viewerID string) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}

	displays, err := capture.EnumerateDisplays()
	if err != nil {
		log.Warn("enumerate displays failed", "error", err)
		return
	}

	infos := make([]protocol.DisplayInfo, 0, len(displays))
	for _, d := range displays {
		infos = append(infos, protocol.DisplayInfo{
			ID:           d.ID,
			FriendlyName: d.FriendlyName,
			IsPrimary:    d.IsPrimary,
			Left:         d.Bounds.Left,
			Top:          d.Bounds.Top,
			Width:        d.Bounds.Width(),
			Height:       d.Bounds.Height(),
		})
	}

	if viewerID != "" {
		if err := conn.SendDisplayList(viewerID, infos); err != nil {
			log.Warn("send display list failed", "viewer_id", viewerID, "error", err)
		}
		return
	}
	for _, v := range conn.Viewers() {
		if err := conn.SendDisplayList(v.ClientID, infos); err != nil {
			log.Warn("send display list failed", "viewer_id", v.ClientID, "error", err)
		}
	}
}

func (s *presenterSession) neededDisplays() map[string]screen.Display {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil
	}

	displays, err := capture.EnumerateDisplays()
	if err != nil {
		return nil
	}
	byID := make(map[string]screen.Display, len(displays))
	for _, d := range displays {
		byID[d.ID] = d
	}

	needed := make(map[string]screen.Display)
	for _, v := range conn.Viewers() {
		if v.SelectedDisplayID == "" {
			continue
		}
		if d, ok := byID[v.SelectedDisplayID]; ok {
			needed[d.ID] = d
		}
	}
	return needed
}

func (s *presenterSession) pipelineFactory(display screen.Display) *pipeline.Pipeline {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	return pipeline.New(display, s.service, s.encoder, conn, s.targetFPS)
}

func runPresenter() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if relayURL != "" {
		cfg.RelayURL = relayURL
	}
	if cfg.RelayURL == "" {
		fmt.Fprintln(os.Stderr, "relay URL required: use --relay or set relay_url in config")
		os.Exit(1)
	}

	initLogging(cfg)
	log.Info("starting presenter", "version", version, "relay", cfg.RelayURL)

	pool := bufpool.New(bufpool.Config{
		BucketSizes:  cfg.PoolBucketSizesKiB,
		BucketCaps:   cfg.PoolBucketCaps,
		HugeCap:      cfg.PoolHugeCap,
		LOHThreshold: cfg.PoolLOHThresholdKiB * 1024,
	})
	bufpool.SetGlobal(pool)

	var grabbers []capture.Grabber
	if cfg.RecorderAddr != "" {
		sessionKeyHex := secmem.NewSecureString(cfg.RecorderSessionKeyHex)
		sessionKey, err := hex.DecodeString(sessionKeyHex.String())
		sessionKeyHex.Zero()
		if err != nil {
			log.Error("invalid recorder session key", "error", err)
			os.Exit(1)
		}
		dialCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		recorderConn, err := capture.DialRecorderPipe(dialCtx, cfg.RecorderAddr, sessionKey)
		cancel()
		if err != nil {
			log.Error("failed to dial capture recorder, presenting will fail until it is available", "error", err)
		} else {
			grabbers = append(grabbers, capture.NewIPCGrabber(recorderConn, pool))
			defer recorderConn.Close()
		}
	} else {
		log.Warn("no recorder_addr configured; this process cannot capture any frames")
	}

	enc := encode.New(pool, cfg.JPEGQuality)
	encodeWorkers := workerpool.New(runtime.NumCPU(), 64)
	enc.SetWorkerPool(encodeWorkers)
	defer func() {
		encodeWorkers.StopAccepting()
		drainCtx, drainCancel := context.WithTimeout(context.Background(), 5*time.Second)
		encodeWorkers.Drain(drainCtx)
		drainCancel()
	}()

	session := &presenterSession{
		pool:        pool,
		service:     screenshot.New(grabbers...),
		encoder:     enc,
		displayName: displayName,
		targetFPS: func() int {
			return capturemgr.ClampTargetFPS(cfg.TargetFPS)
		},
	}

	var client *transport.Client
	client = transport.New(cfg.RelayURL, transport.Callbacks{
		CredentialsAssigned: func(msg protocol.CredentialsAssigned) {
			log.Info("credentials assigned", "username", msg.Username)
		},
		ConnectionStarted: func(msg protocol.ConnectionStarted) {
			session.handleConnectionStarted(client, msg)
		},
		ConnectionStopped: func(msg protocol.ConnectionStopped) {
			log.Info("connection stopped", "connection_id", msg.ConnectionID)
		},
		MessageReceived: func(msg protocol.MessageReceived) {
			session.handleMessageReceived(msg)
		},
	})
	client.Start()

	log.Info("presenter is running")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("shutting down presenter")

	session.mu.Lock()
	if session.manager != nil {
		session.manager.Dispose()
	}
	session.mu.Unlock()
	client.Stop()
	log.Info("presenter stopped")
}

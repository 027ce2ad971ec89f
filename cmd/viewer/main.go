package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haefele/remoteviewer/internal/bufpool"
	"github.com/haefele/remoteviewer/internal/compositor"
	"github.com/haefele/remoteviewer/internal/config"
	"github.com/haefele/remoteviewer/internal/connection"
	"github.com/haefele/remoteviewer/internal/credentials"
	"github.com/haefele/remoteviewer/internal/logging"
	"github.com/haefele/remoteviewer/internal/protocol"
	"github.com/haefele/remoteviewer/internal/screen"
	"github.com/haefele/remoteviewer/internal/transport"
)

var (
	version      = "0.1.0"
	cfgFile      string
	relayURL     string
	snapshotDir  string
	debugOverlay bool
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "viewer",
	Short: "Connect to a shared presenter session over a relay",
}

var runCmd = &cobra.Command{
	Use:   "run [connection-string]",
	Short: "Connect using a pasted username/password connection string",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var raw string
		if len(args) == 1 {
			raw = args[0]
		} else {
			raw = readConnectionStringFromStdin()
		}
		runViewer(raw)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("viewer v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/remoteviewer/viewer.yaml)")
	runCmd.Flags().StringVar(&relayURL, "relay", "", "relay websocket URL (overrides config)")
	runCmd.Flags().StringVar(&snapshotDir, "snapshot-dir", "", "directory to periodically dump composited canvas snapshots to")
	runCmd.Flags().BoolVar(&debugOverlay, "debug-overlay", false, "draw a border around the most recently applied regions")

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

func readConnectionStringFromStdin() string {
	fmt.Fprintln(os.Stderr, "Paste the connection string, then press Enter (and Ctrl+D if it spans two lines):")
	scanner := bufio.NewScanner(os.Stdin)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return strings.Join(lines, "\n")
}

// viewerSession tracks the single display this viewer is currently
// watching and the compositor assembling its canvas.
type viewerSession struct {
	pool *bufpool.Pool
	conn *connection.Connection

	mu          sync.Mutex
	displays    []protocol.DisplayInfo
	selectedID  string
	compositors map[string]*compositor.Compositor
}

func newViewerSession(pool *bufpool.Pool) *viewerSession {
	return &viewerSession{pool: pool, compositors: make(map[string]*compositor.Compositor)}
}

func (s *viewerSession) compositorFor(displayID string) *compositor.Compositor {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.compositors[displayID]
	if !ok {
		c = compositor.New(s.pool, debugOverlay)
		s.compositors[displayID] = c
	}
	return c
}

func (s *viewerSession) handleDisplaysChanged(displays []protocol.DisplayInfo) {
	s.mu.Lock()
	s.displays = displays
	selected := s.selectedID
	s.mu.Unlock()

	log.Info("display list received", "count", len(displays))
	if selected == "" && len(displays) > 0 && s.conn != nil {
		s.selectDisplay(displays[0].ID)
	}
}

func (s *viewerSession) selectDisplay(displayID string) {
	s.mu.Lock()
	s.selectedID = displayID
	s.mu.Unlock()

	if err := s.conn.SelectDisplay(displayID); err != nil {
		log.Warn("select display failed", "display_id", displayID, "error", err)
	}
}

func (s *viewerSession) handleFrameReceived(frame protocol.ScreenFrame) {
	comp := s.compositorFor(frame.DisplayID)

	regions := make([]screen.EncodedRegion, 0, len(frame.Regions))
	for _, r := range frame.Regions {
		buf := bufpool.Rent(s.pool, len(r.JPEG))
		b, err := buf.Bytes()
		if err != nil {
			continue
		}
		copy(b, r.JPEG)
		regions = append(regions, screen.EncodedRegion{IsKeyframe: r.IsKeyframe, X: r.X, Y: r.Y, W: r.W, H: r.H, JPEG: buf})
	}

	var applyErr error
	if len(regions) > 0 && regions[0].IsKeyframe {
		applyErr = comp.ApplyKeyframe(regions, frame.FrameNumber)
	} else {
		applyErr = comp.ApplyDelta(regions, frame.FrameNumber)
	}
	for i := range regions {
		regions[i].Release()
	}
	if applyErr != nil {
		log.Warn("apply frame failed", "display_id", frame.DisplayID, "error", applyErr)
		return
	}

	if snapshotDir != "" {
		s.writeSnapshot(frame.DisplayID, comp)
	}
}

func (s *viewerSession) writeSnapshot(displayID string, comp *compositor.Compositor) {
	w, h := comp.Dimensions()
	if w == 0 || h == 0 {
		return
	}
	path := filepath.Join(snapshotDir, fmt.Sprintf("%s.bgra", displayID))
	if err := os.WriteFile(path, comp.Snapshot(), 0600); err != nil {
		log.Warn("write snapshot failed", "path", path, "error", err)
	}
}

func runViewer(raw string) {
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
	log.Info("starting viewer", "version", version, "relay", cfg.RelayURL)

	creds, err := credentials.Parse(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not parse connection string: %v\n", err)
		os.Exit(1)
	}

	if snapshotDir != "" {
		if err := os.MkdirAll(snapshotDir, 0700); err != nil {
			fmt.Fprintf(os.Stderr, "failed to create snapshot directory: %v\n", err)
			os.Exit(1)
		}
	}

	pool := bufpool.New(bufpool.Config{
		BucketSizes:  cfg.PoolBucketSizesKiB,
		BucketCaps:   cfg.PoolBucketCaps,
		HugeCap:      cfg.PoolHugeCap,
		LOHThreshold: cfg.PoolLOHThresholdKiB * 1024,
	})
	bufpool.SetGlobal(pool)

	session := newViewerSession(pool)

	client := transport.New(cfg.RelayURL, transport.Callbacks{
		ConnectionStopped: func(msg protocol.ConnectionStopped) {
			log.Info("presenter disconnected", "connection_id", msg.ConnectionID)
			os.Exit(0)
		},
		MessageReceived: func(msg protocol.MessageReceived) {
			env, err := protocol.Decode(msg.Data)
			if err != nil {
				log.Warn("malformed envelope", "error", err)
				return
			}
			if session.conn == nil {
				return
			}
			if err := session.conn.HandleMessage(env); err != nil {
				log.Warn("handle message failed", "type", env.Type, "error", err)
			}
		},
	})
	client.Start()
	defer client.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	connectionID, tryErr, err := client.ConnectTo(ctx, creds.Username, creds.Password)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect failed: %v\n", err)
		os.Exit(1)
	}
	if tryErr != "" {
		fmt.Fprintf(os.Stderr, "connect rejected: %s\n", tryErr)
		os.Exit(1)
	}

	session.conn = connection.New(connectionID, connection.RoleViewer, client, connection.EventHandlers{
		DisplaysChanged: session.handleDisplaysChanged,
		FrameReceived:   session.handleFrameReceived,
		Closed: func() {
			log.Info("connection closed")
		},
	})

	log.Info("connected", "connection_id", connectionID)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("shutting down viewer")

	disconnectCtx, disconnectCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer disconnectCancel()
	if err := client.Disconnect(disconnectCtx, connectionID); err != nil {
		log.Warn("disconnect failed", "error", err)
	}
	log.Info("viewer stopped")
}

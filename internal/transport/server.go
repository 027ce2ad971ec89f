package transport

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/haefele/remoteviewer/internal/protocol"
	"github.com/haefele/remoteviewer/internal/relay"
	"github.com/haefele/remoteviewer/internal/sendqueue"
)

// Server is the relay side of the transport: one accepted WebSocket
// connection per client, routed through a shared relay.Registry. Each
// session gets its own internal/sendqueue.Grain so a slow viewer's
// frame backlog never blocks delivery to anyone else.
type Server struct {
	registry *relay.Registry
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*session
}

// NewServer creates a relay transport server backed by registry.
func NewServer(registry *relay.Registry) *Server {
	return &Server{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		sessions: make(map[string]*session),
	}
}

// ServeHTTP upgrades the request to a WebSocket and runs the
// connection's read loop until it disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("transport: upgrade failed", "error", err)
		return
	}
	s.handleConn(conn)
}

// session is the relay-side record of one connected client.
type session struct {
	clientGUID string
	conn       *websocket.Conn
	writeMu    sync.Mutex
	grain      *sendqueue.Grain
}

func (s *session) Send(_ context.Context, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Server) handleConn(conn *websocket.Conn) {
	clientGUID := uuid.NewString()
	conn.SetReadLimit(maxMessageSize)

	sess := &session{clientGUID: clientGUID, conn: conn}
	sess.grain = sendqueue.New(clientGUID, sess)

	s.mu.Lock()
	s.sessions[clientGUID] = sess
	s.mu.Unlock()

	runCtx, cancelRun := context.WithCancel(context.Background())
	go sess.grain.Run(runCtx)

	defer func() {
		cancelRun()
		sess.grain.Close()
		s.mu.Lock()
		delete(s.sessions, clientGUID)
		s.mu.Unlock()
		conn.Close()
	}()

	client, err := s.registry.ClientFor(clientGUID)
	if err != nil {
		slog.Warn("transport: client init failed", "client_guid", clientGUID, "error", err)
		return
	}
	s.pushCredentials(clientGUID, client)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go s.pingLoop(sess, runCtx)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("transport: read error", "client_guid", clientGUID, "error", err)
			}
			return
		}

		frame, err := protocol.DecodeFrame(message)
		if err != nil {
			slog.Warn("transport: malformed frame", "client_guid", clientGUID, "error", err)
			continue
		}
		s.handleRequest(sess, frame)
	}
}

func (s *Server) pingLoop(sess *session, ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sess.writeMu.Lock()
			sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := sess.conn.WriteMessage(websocket.PingMessage, nil)
			sess.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) handleRequest(sess *session, frame protocol.RPCFrame) {
	switch frame.Method {
	case protocol.MethodConnectTo:
		var req protocol.ConnectToRequest
		if err := protocol.DecodeFramePayload(frame, &req); err != nil {
			s.respondError(sess, frame.ID, err.Error())
			return
		}
		resp := s.handleConnectTo(sess, req)
		s.respond(sess, frame.ID, resp)

	case protocol.MethodSendMessage:
		var req protocol.SendMessageRequest
		if err := protocol.DecodeFramePayload(frame, &req); err != nil {
			s.respondError(sess, frame.ID, err.Error())
			return
		}
		s.handleSendMessage(sess, req)
		s.respond(sess, frame.ID, struct{}{})

	case protocol.MethodDisconnect:
		var req protocol.DisconnectRequest
		if err := protocol.DecodeFramePayload(frame, &req); err != nil {
			s.respondError(sess, frame.ID, err.Error())
			return
		}
		s.handleDisconnect(sess, req)
		s.respond(sess, frame.ID, struct{}{})

	default:
		s.respondError(sess, frame.ID, "unknown method")
	}
}

func (s *Server) handleConnectTo(sess *session, req protocol.ConnectToRequest) protocol.ConnectToResponse {
	ownerGUID := s.registry.Usernames.Owner(req.Username)
	if ownerGUID == "" {
		return protocol.ConnectToResponse{Error: protocol.ErrNotFound}
	}

	owner, err := s.registry.ClientFor(ownerGUID)
	if err != nil {
		return protocol.ConnectToResponse{Error: protocol.ErrInternal}
	}

	conn, err := owner.ValidatePasswordAndStartPresenting(req.Password, func() string { return uuid.NewString() }, s)
	if err != nil {
		if err == relay.ErrInvalidPassword {
			return protocol.ConnectToResponse{Error: protocol.ErrInvalidCredentials}
		}
		return protocol.ConnectToResponse{Error: protocol.ErrInternal}
	}
	s.registry.RegisterConnection(conn)

	if conn.IsPresenter(sess.clientGUID) {
		return protocol.ConnectToResponse{Error: protocol.ErrAlreadyConnected}
	}

	viewer, _ := s.registry.ClientFor(sess.clientGUID)
	if err := conn.AddViewer(protocol.ClientSummary{ClientID: sess.clientGUID, DisplayName: viewer.DisplayName()}); err != nil {
		return protocol.ConnectToResponse{Error: protocol.ErrInternal}
	}

	return protocol.ConnectToResponse{ConnectionID: conn.ConnectionID()}
}

func (s *Server) handleSendMessage(sess *session, req protocol.SendMessageRequest) {
	conn, ok := s.registry.Connection(req.ConnectionID)
	if !ok {
		return
	}
	if err := conn.SendMessage(sess.clientGUID, req.Type, req.Data, req.Destination, req.Targets); err != nil {
		slog.Warn("transport: send message rejected", "connection_id", req.ConnectionID, "error", err)
	}
}

func (s *Server) handleDisconnect(sess *session, req protocol.DisconnectRequest) {
	conn, ok := s.registry.Connection(req.ConnectionID)
	if !ok {
		return
	}
	destroyed, err := conn.RemoveClient(sess.clientGUID)
	if err != nil {
		return
	}
	if destroyed {
		s.registry.RemoveConnection(req.ConnectionID)
	}
}

func (s *Server) respond(sess *session, id string, payload any) {
	if id == "" {
		return
	}
	data, err := protocol.EncodeResponse(id, payload, "")
	if err != nil {
		slog.Warn("transport: encode response failed", "error", err)
		return
	}
	sess.grain.EnqueueMessage(data)
}

func (s *Server) respondError(sess *session, id string, message string) {
	if id == "" {
		return
	}
	data, err := protocol.EncodeResponse(id, nil, message)
	if err != nil {
		return
	}
	sess.grain.EnqueueMessage(data)
}

func (s *Server) pushCredentials(clientGUID string, client *relay.ClientGrain) {
	s.pushTo(clientGUID, protocol.CallbackCredentialsAssigned, protocol.CredentialsAssigned{
		ClientID: clientGUID,
		Username: client.Username(),
		Password: client.Password(),
	})
}

func (s *Server) pushTo(clientGUID string, callback protocol.RPCCallback, payload any) {
	s.mu.Lock()
	sess, ok := s.sessions[clientGUID]
	s.mu.Unlock()
	if !ok {
		return
	}

	data, err := protocol.EncodePush(callback, payload)
	if err != nil {
		slog.Warn("transport: encode push failed", "callback", callback, "error", err)
		return
	}
	sess.grain.EnqueueMessage(data)
}

// PushConnectionStarted implements relay.Pusher.
func (s *Server) PushConnectionStarted(clientID string, msg protocol.ConnectionStarted) {
	s.pushTo(clientID, protocol.CallbackConnectionStarted, msg)
}

// PushConnectionChanged implements relay.Pusher.
func (s *Server) PushConnectionChanged(clientID string, msg protocol.ConnectionChanged) {
	s.pushTo(clientID, protocol.CallbackConnectionChanged, msg)
}

// PushConnectionStopped implements relay.Pusher.
func (s *Server) PushConnectionStopped(clientID string, msg protocol.ConnectionStopped) {
	s.pushTo(clientID, protocol.CallbackConnectionStopped, msg)
}

// PushMessageReceived implements relay.Pusher. Screen.Frame payloads
// are routed through the session's frame coalescer (keyed by
// connection_id) rather than its FIFO, so a slow viewer drops stale
// frames instead of backing up every other message to it.
func (s *Server) PushMessageReceived(clientID string, msg protocol.MessageReceived) {
	s.mu.Lock()
	sess, ok := s.sessions[clientID]
	s.mu.Unlock()
	if !ok {
		return
	}

	data, err := protocol.EncodePush(protocol.CallbackMessageReceived, msg)
	if err != nil {
		slog.Warn("transport: encode push failed", "callback", protocol.CallbackMessageReceived, "error", err)
		return
	}

	if msg.MessageType == protocol.TypeScreenFrame {
		sess.grain.EnqueueFrame(context.Background(), msg.ConnectionID, data)
		return
	}
	sess.grain.EnqueueMessage(data)
}

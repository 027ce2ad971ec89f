package relay

import "sync"

// Registry is the process-wide home for every grain kind: clients,
// their identities and auth sessions, the shared username claim table,
// and live connections. A transport server (internal/transport) owns
// one Registry and looks clients/connections up by GUID as RPC calls
// arrive.
type Registry struct {
	Usernames *UsernameRegistry

	mu           sync.Mutex
	clients      map[string]*ClientGrain
	identities   map[string]*ClientIdentityGrain
	authSessions map[string]*AuthSessionGrain
	connections  map[string]*ConnectionGrain
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		Usernames:    NewUsernameRegistry(),
		clients:      make(map[string]*ClientGrain),
		identities:   make(map[string]*ClientIdentityGrain),
		authSessions: make(map[string]*AuthSessionGrain),
		connections:  make(map[string]*ConnectionGrain),
	}
}

// ClientFor returns the client grain for clientGUID, creating and
// initializing it on first reference.
func (r *Registry) ClientFor(clientGUID string) (*ClientGrain, error) {
	r.mu.Lock()
	c, ok := r.clients[clientGUID]
	r.mu.Unlock()
	if ok {
		return c, nil
	}

	c = NewClientGrain(clientGUID)
	if err := c.Initialize(r.Usernames); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.clients[clientGUID]; ok {
		return existing, nil
	}
	r.clients[clientGUID] = c
	return c, nil
}

// IdentityFor returns the identity grain for clientGUID, creating it
// on first reference.
func (r *Registry) IdentityFor(clientGUID string) *ClientIdentityGrain {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.identities[clientGUID]
	if !ok {
		id = NewClientIdentityGrain(clientGUID)
		r.identities[clientGUID] = id
	}
	return id
}

// NewAuthSession creates and registers a fresh auth-session grain.
func (r *Registry) NewAuthSession(sessionID string) *AuthSessionGrain {
	s := NewAuthSessionGrain(sessionID)
	r.mu.Lock()
	r.authSessions[sessionID] = s
	r.mu.Unlock()
	return s
}

// AuthSession returns a previously created auth-session grain.
func (r *Registry) AuthSession(sessionID string) (*AuthSessionGrain, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.authSessions[sessionID]
	return s, ok
}

// RegisterConnection indexes an already-created connection grain by
// its connection_id.
func (r *Registry) RegisterConnection(conn *ConnectionGrain) {
	r.mu.Lock()
	r.connections[conn.ConnectionID()] = conn
	r.mu.Unlock()
}

// Connection returns a live connection by connection_id.
func (r *Registry) Connection(connectionID string) (*ConnectionGrain, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.connections[connectionID]
	return c, ok
}

// RemoveConnection drops a destroyed connection from the registry.
func (r *Registry) RemoveConnection(connectionID string) {
	r.mu.Lock()
	delete(r.connections, connectionID)
	r.mu.Unlock()
}

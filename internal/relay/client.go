package relay

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"github.com/haefele/remoteviewer/internal/protocol"
)

const (
	usernameDigits      = 10
	usernameMaxAttempts = 20
	passwordLength      = 8
	passwordAlphabet    = "abcdefghijklmnopqrstuvwxyz0123456789"
)

var (
	ErrUsernameExhausted    = errors.New("relay: could not generate an unclaimed username")
	ErrInvalidPassword      = errors.New("relay: password does not match")
	ErrClientNotInitialized = errors.New("relay: client not initialized")
)

// ClientGrain is one connected client's identity and presenter state:
// a generated username/password pair, an optional display name, and,
// once it has started presenting, the ConnectionGrain it owns.
type ClientGrain struct {
	ClientGUID string

	mu          sync.Mutex
	username    string
	password    string
	displayName string
	presenter   *ConnectionGrain
}

// NewClientGrain returns an uninitialized client grain.
func NewClientGrain(clientGUID string) *ClientGrain {
	return &ClientGrain{ClientGUID: clientGUID}
}

// Initialize generates a username (a random 10-digit numeric string,
// retried on claim conflict) and an 8-character lowercase alphanumeric
// password.
func (c *ClientGrain) Initialize(usernames *UsernameRegistry) error {
	username, err := claimGeneratedUsername(usernames, c.ClientGUID)
	if err != nil {
		return err
	}
	password, err := generatePassword()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.username = username
	c.password = password
	c.mu.Unlock()
	return nil
}

// Username returns the client's current username.
func (c *ClientGrain) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

// Password returns the client's current password.
func (c *ClientGrain) Password() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.password
}

// RegeneratePassword replaces the client's password with a fresh
// random one and returns it.
func (c *ClientGrain) RegeneratePassword() (string, error) {
	password, err := generatePassword()
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.password = password
	c.mu.Unlock()
	return password, nil
}

// DisplayName returns the client's free-text display name.
func (c *ClientGrain) DisplayName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.displayName
}

// SetDisplayName updates the client's free-text display name.
func (c *ClientGrain) SetDisplayName(name string) {
	c.mu.Lock()
	c.displayName = name
	c.mu.Unlock()
}

// ValidatePasswordAndStartPresenting checks password (case-
// insensitively) against the client's current password. On a match,
// it returns the client's existing presenter connection if one is
// already active, or creates and initializes a new one. On mismatch
// it logs the attempt and returns ErrInvalidPassword without mutating
// state.
func (c *ClientGrain) ValidatePasswordAndStartPresenting(password string, newConnectionID func() string, pusher Pusher) (*ConnectionGrain, error) {
	c.mu.Lock()
	if !strings.EqualFold(password, c.password) {
		c.mu.Unlock()
		slog.Warn("password mismatch on start-presenting", "client_guid", c.ClientGUID)
		return nil, ErrInvalidPassword
	}
	if c.presenter != nil {
		existing := c.presenter
		c.mu.Unlock()
		return existing, nil
	}
	c.mu.Unlock()

	conn := NewConnectionGrain(newConnectionID(), pusher)
	if err := conn.InitPresenter(protocol.ClientSummary{ClientID: c.ClientGUID, DisplayName: c.DisplayName()}); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.presenter = conn
	c.mu.Unlock()
	return conn, nil
}

// PresenterConnection returns the client's active presenter
// connection, or nil if it is not currently presenting.
func (c *ClientGrain) PresenterConnection() *ConnectionGrain {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.presenter
}

// ClearPresenterConnection drops the client's presenter reference,
// called once the underlying ConnectionGrain has been destroyed.
func (c *ClientGrain) ClearPresenterConnection() {
	c.mu.Lock()
	c.presenter = nil
	c.mu.Unlock()
}

func claimGeneratedUsername(usernames *UsernameRegistry, clientGUID string) (string, error) {
	for attempt := 0; attempt < usernameMaxAttempts; attempt++ {
		candidate, err := generateNumericUsername()
		if err != nil {
			return "", err
		}
		if usernames.TryClaim(candidate, clientGUID) {
			return candidate, nil
		}
	}
	return "", ErrUsernameExhausted
}

func generateNumericUsername() (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(usernameDigits), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", usernameDigits, n), nil
}

func generatePassword() (string, error) {
	out := make([]byte, passwordLength)
	for i := range out {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(passwordAlphabet))))
		if err != nil {
			return "", err
		}
		out[i] = passwordAlphabet[idx.Int64()]
	}
	return string(out), nil
}

package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	oauth "github.com/mcpkit/oauth-core"
)

// clientRecord is the stored form of a registered client. The plaintext
// secret is never retained; only its bcrypt hash is.
type clientRecord struct {
	info       oauth.ClientInformation
	secretHash string
}

// ClientStore is an in-memory client registry. Client secrets are hashed
// with bcrypt on registration, so GetClient never returns the plaintext
// secret back out; authentication goes through ValidateClientSecret.
type ClientStore struct {
	mu      sync.RWMutex
	clients map[string]*clientRecord
	logger  *slog.Logger
}

// Compile-time interface checks
var (
	_ oauth.ClientsStore    = (*ClientStore)(nil)
	_ oauth.SecretValidator = (*ClientStore)(nil)
)

// NewClientStore creates an empty in-memory client store
func NewClientStore() *ClientStore {
	return &ClientStore{
		clients: make(map[string]*clientRecord),
		logger:  slog.Default(),
	}
}

// SetLogger sets a custom logger
func (s *ClientStore) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// GetClient retrieves client information by client ID.
// It returns (nil, nil) when no such client exists. The returned
// ClientInformation carries no client secret; secrets are stored hashed.
func (s *ClientStore) GetClient(ctx context.Context, clientID string) (*oauth.ClientInformation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.clients[clientID]
	if !ok {
		return nil, nil
	}

	// Copy so callers cannot mutate stored state
	info := rec.info
	info.RedirectURIs = append([]string(nil), rec.info.RedirectURIs...)
	info.GrantTypes = append([]string(nil), rec.info.GrantTypes...)
	info.ResponseTypes = append([]string(nil), rec.info.ResponseTypes...)
	return &info, nil
}

// RegisterClient registers a new client, hashing its secret if present.
// Duplicate client IDs are rejected with invalid_client_metadata.
func (s *ClientStore) RegisterClient(ctx context.Context, client *oauth.ClientInformation) error {
	if client == nil || client.ClientID == "" {
		return oauth.ErrInvalidClientMetadata("client_id is required")
	}

	rec := &clientRecord{info: *client}

	if client.ClientSecret != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(client.ClientSecret), bcrypt.DefaultCost)
		if err != nil {
			return oauth.ErrServerError("failed to hash client secret")
		}
		rec.secretHash = string(hash)
		rec.info.ClientSecret = ""
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.clients[client.ClientID]; exists {
		return oauth.ErrInvalidClientMetadata("client_id already registered")
	}

	s.clients[client.ClientID] = rec
	s.logger.Debug("Registered client",
		"client_id", client.ClientID,
		"client_name", client.ClientName)
	return nil
}

// ValidateClientSecret validates a client's secret using bcrypt.
// A bcrypt comparison is always performed, even for unknown clients,
// so response timing does not reveal whether a client ID exists.
func (s *ClientStore) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error {
	// bcrypt hash of "test", compared against when the client is unknown
	dummyHash := "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

	s.mu.RLock()
	rec, known := s.clients[clientID]
	s.mu.RUnlock()

	hashToCompare := dummyHash
	isPublic := false
	expired := false

	if known {
		if rec.secretHash == "" {
			isPublic = rec.info.TokenEndpointAuthMethod == oauth.AuthMethodNone
		} else {
			hashToCompare = rec.secretHash
		}
		if rec.info.ClientSecretExpiresAt != 0 && time.Now().Unix() >= rec.info.ClientSecretExpiresAt {
			expired = true
		}
	}

	bcryptErr := bcrypt.CompareHashAndPassword([]byte(hashToCompare), []byte(clientSecret))

	if isPublic && known {
		return nil
	}
	if !known || bcryptErr != nil {
		return oauth.ErrInvalidClient("invalid client credentials")
	}
	if expired {
		return oauth.ErrInvalidClient("client secret has expired")
	}
	return nil
}

// Len returns the number of registered clients
func (s *ClientStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

package imports

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/avolkov/stockroom-backend/internal/ingest"
	apperrors "github.com/avolkov/stockroom-backend/pkg/errors"
	"github.com/avolkov/stockroom-backend/pkg/redis"
)

// Session is a pending extraction awaiting human confirmation. It lives in
// Redis under an opaque token with a TTL; nothing touches the ledger until
// the session is committed.
type Session struct {
	Token        string          `json:"token"`
	OriginalName string          `json:"original_name"`
	StoredPath   string          `json:"stored_path"`
	Kind         string          `json:"kind"`
	SourceHash   string          `json:"source_hash"`
	Rows         []ingest.Row    `json:"rows"`
	Preview      *ingest.Preview `json:"preview,omitempty"`
	Supplier     string          `json:"supplier,omitempty"`
	Invoice      string          `json:"invoice,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// SessionStore keeps pending-import sessions in Redis.
type SessionStore struct {
	store redis.SessionStore
	ttl   time.Duration
}

// NewSessionStore wires the store with its backing client and TTL.
func NewSessionStore(store redis.SessionStore, ttl time.Duration) *SessionStore {
	return &SessionStore{store: store, ttl: ttl}
}

// Save persists the session and returns its freshly minted token.
func (s *SessionStore) Save(ctx context.Context, session *Session) (string, error) {
	if session.Token == "" {
		session.Token = uuid.NewString()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return "", err
	}
	if err := s.store.Set(ctx, s.store.SessionKey(session.Token), string(payload), s.ttl); err != nil {
		return "", err
	}
	return session.Token, nil
}

// Load fetches a session; an unknown or expired token maps to a session-expired error.
func (s *SessionStore) Load(ctx context.Context, token string) (*Session, error) {
	raw, err := s.store.Get(ctx, s.store.SessionKey(token))
	if err != nil {
		if errors.Is(err, redis.ErrNotFound) {
			return nil, apperrors.New(apperrors.CodeSessionExpired,
				"preview session not found or expired, upload the file again")
		}
		return nil, err
	}
	var session Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// Delete drops the session; missing keys are not an error.
func (s *SessionStore) Delete(ctx context.Context, token string) error {
	return s.store.Del(ctx, s.store.SessionKey(token))
}

package secrets

import (
	"context"
	"database/sql"
	"sync"
	"time"
)

// Providers whose API keys the service may hold.
var KnownProviders = map[string]bool{
	"openrouter": true,
	"openai":     true,
}

// Service provides encrypted secret storage backed by the database.
type Service struct {
	db  *sql.DB
	mgr *Manager

	ttl   time.Duration
	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	val []byte
	exp time.Time
}

// NewService creates a Service over db using mgr for encryption at rest.
func NewService(db *sql.DB, mgr *Manager) *Service {
	return &Service{db: db, mgr: mgr, ttl: 10 * time.Minute, cache: make(map[string]cacheEntry)}
}

// Set stores a secret for the given name, encrypting it at rest.
func (s *Service) Set(ctx context.Context, name string, plaintext []byte) error {
	if name == "" {
		return sql.ErrNoRows
	}
	nonce, ct, err := s.mgr.Encrypt(plaintext)
	if err != nil {
		return err
	}
	val := append(append([]byte("v1:"), nonce...), ct...)
	_, err = s.db.ExecContext(ctx, `INSERT INTO secrets(name, value) VALUES(?,?)
ON CONFLICT(name) DO UPDATE SET value=excluded.value, updated_at=CURRENT_TIMESTAMP`, name, val)
	s.mu.Lock()
	delete(s.cache, name)
	s.mu.Unlock()
	return err
}

// Get retrieves the secret of the given name, or nil if absent.
func (s *Service) Get(ctx context.Context, name string) ([]byte, error) {
	now := time.Now()
	s.mu.Lock()
	if e, ok := s.cache[name]; ok {
		if now.Before(e.exp) {
			v := append([]byte(nil), e.val...)
			s.mu.Unlock()
			return v, nil
		}
		delete(s.cache, name)
	}
	s.mu.Unlock()

	var stored []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM secrets WHERE name=?`, name).Scan(&stored)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	pt, err := s.open(stored)
	if err != nil {
		return nil, err
	}
	cached := append([]byte(nil), pt...)
	s.mu.Lock()
	s.cache[name] = cacheEntry{val: cached, exp: now.Add(s.ttl)}
	s.mu.Unlock()
	return append([]byte(nil), cached...), nil
}

// Exists returns whether a secret with the given name is stored.
func (s *Service) Exists(ctx context.Context, name string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM secrets WHERE name=?`, name).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// Delete removes a stored secret of the given name.
func (s *Service) Delete(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE name=?`, name)
	s.mu.Lock()
	delete(s.cache, name)
	s.mu.Unlock()
	return err
}

func (s *Service) open(stored []byte) ([]byte, error) {
	if len(stored) > 3 && string(stored[:3]) == "v1:" {
		b := stored[3:]
		ns := s.mgr.aead.NonceSize()
		if len(b) < ns {
			return nil, sql.ErrNoRows
		}
		return s.mgr.Decrypt(b[:ns], b[ns:])
	}
	// plaintext fallback for legacy values
	return stored, nil
}

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/docker/libkv"
	"github.com/docker/libkv/store"
	"github.com/docker/libkv/store/boltdb"
	"go.uber.org/zap"
)

// Key is the fixed key the current session is persisted under.
const Key = "session"

const bucket = "faasctl"

func init() {
	boltdb.Register()
}

// KV is the part of a libkv store the session store persists through.
type KV interface {
	Get(key string) (*store.KVPair, error)
	Put(key string, value []byte, options *store.WriteOptions) error
	Delete(key string) error
}

// TokenIssuer exchanges an identity for a session at the backend's token endpoint.
type TokenIssuer interface {
	IssueToken(ctx context.Context, id Identity) (*Session, error)
}

// OpenKV opens the boltdb file holding persisted state inside dir, creating dir if needed.
func OpenKV(dir string) (store.Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	kv, err := libkv.NewStore(
		store.BOLTDB,
		[]string{filepath.Join(dir, "state.db")},
		&store.Config{
			Bucket:            bucket,
			ConnectionTimeout: 5 * time.Second,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	return kv, nil
}

// Store holds the current session, persists it across restarts and tells registered
// components when it goes away.
type Store struct {
	kv     KV
	issuer TokenIssuer
	log    *zap.Logger
	now    func() time.Time

	mu      sync.RWMutex
	current *Session
	expires time.Time

	hooksMu sync.Mutex
	hooks   []func()
}

// Open creates a Store and restores a previously persisted session, if any.
func Open(kv KV, issuer TokenIssuer, log *zap.Logger) (*Store, error) {
	s := &Store{
		kv:     kv,
		issuer: issuer,
		log:    log.Named("session"),
		now:    time.Now,
	}

	pair, err := kv.Get(Key)
	if err == store.ErrKeyNotFound {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("restore session: %w", err)
	}

	sess := &Session{}
	if err := json.Unmarshal(pair.Value, sess); err != nil || sess.Token == "" {
		s.log.Warn("Discarding unreadable persisted session.", zap.Error(err))
		if err := kv.Delete(Key); err != nil && err != store.ErrKeyNotFound {
			return nil, fmt.Errorf("discard session: %w", err)
		}
		return s, nil
	}

	s.set(sess)
	s.log.Debug("Session restored.", zap.Object("session", sess))
	return s, nil
}

// WithClock replaces the clock used for token expiry checks.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Acquire logs in as id. Any previous session is cleared first, whether or not the new login
// succeeds.
func (s *Store) Acquire(ctx context.Context, id Identity) (*Session, error) {
	if err := s.Clear(); err != nil {
		return nil, err
	}

	sess, err := s.issuer.IssueToken(ctx, id)
	if err != nil {
		return nil, &ErrAuthFailed{UserID: id.UserID, Original: err}
	}
	if sess.Token == "" {
		return nil, &ErrAuthFailed{UserID: id.UserID, Original: errors.New("backend returned an empty token")}
	}
	if sess.Namespace == "" {
		return nil, &ErrAuthFailed{UserID: id.UserID, Original: errors.New("backend returned no namespace")}
	}

	byt, err := json.Marshal(sess)
	if err != nil {
		return nil, err
	}
	if err := s.kv.Put(Key, byt, nil); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	s.set(sess)
	s.log.Info("Logged in.", zap.Object("session", sess))

	c := *sess
	return &c, nil
}

// Current returns a copy of the current session. An expired token clears the session.
func (s *Store) Current() (*Session, bool) {
	s.mu.RLock()
	cur, expires := s.current, s.expires
	s.mu.RUnlock()

	if cur == nil {
		return nil, false
	}
	if !expires.IsZero() && !s.now().Before(expires) {
		s.log.Info("Session token expired.", zap.Object("session", cur), zap.Time("expiredAt", expires))
		if err := s.ClearIf(cur.Token); err != nil {
			s.log.Error("Clearing expired session failed.", zap.Error(err))
		}
		return nil, false
	}

	c := *cur
	return &c, true
}

// Namespace returns the tenant namespace of the current session, or "" when logged out or
// expired. Unlike Current it never clears the session, so it is safe to call while holding
// locks that OnClear hooks take.
func (s *Store) Namespace() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current == nil || (!s.expires.IsZero() && !s.now().Before(s.expires)) {
		return ""
	}
	return s.current.Namespace
}

// Clear drops the current session and its persisted copy. It is safe to call repeatedly; hooks
// registered with OnClear run on every call.
func (s *Store) Clear() error {
	s.mu.Lock()
	return s.clearLocked()
}

// ClearIf clears the session only while token is still its token. A session that replaced it
// in the meantime is kept and no hooks run.
func (s *Store) ClearIf(token string) error {
	s.mu.Lock()
	if s.current == nil || s.current.Token != token {
		s.mu.Unlock()
		s.log.Debug("Keeping session that replaced the rejected token.")
		return nil
	}
	return s.clearLocked()
}

// clearLocked must be called with s.mu held. It releases s.mu before running the hooks.
func (s *Store) clearLocked() error {
	had := s.current != nil
	s.current = nil
	s.expires = time.Time{}
	err := s.kv.Delete(Key)
	s.mu.Unlock()

	if had {
		s.log.Info("Session cleared.")
	}

	s.hooksMu.Lock()
	hooks := append([]func(){}, s.hooks...)
	s.hooksMu.Unlock()
	for _, hook := range hooks {
		hook()
	}

	if err != nil && err != store.ErrKeyNotFound {
		return fmt.Errorf("remove persisted session: %w", err)
	}
	return nil
}

// OnClear registers fn to run whenever the session is cleared.
func (s *Store) OnClear(fn func()) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.hooks = append(s.hooks, fn)
}

func (s *Store) set(sess *Session) {
	expires, _ := sess.ExpiresAt()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = sess
	s.expires = expires
}

// Package session holds the per-client session state: the homeserver
// address, long-poll timeout, bearer token and sync cursor, together with
// the transaction id counter used for idempotent writes. The four scalar
// fields are persisted through the credential store in store.go.
package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shawkym/roomsync/pkg/log"
)

// DefaultTimeout is the long-poll budget used when none is configured.
const DefaultTimeout = 30 * time.Second

// Session is the mutable state of one running client. It is owned by a
// single engine and is not safe for concurrent mutation.
type Session struct {
	// Homeserver is the base URL of the Matrix homeserver.
	Homeserver string
	// Timeout is the long-poll duration sent with every sync.
	Timeout time.Duration
	// AccessToken is the bearer token; empty until login.
	AccessToken string
	// NextBatch is the sync cursor; empty before the first sync.
	NextBatch string
	// UserID is filled in by login. It is not persisted.
	UserID string

	txn *TxnCounter
}

// New creates a session for homeserver. A zero timeout selects DefaultTimeout.
func New(homeserver string, timeout time.Duration) *Session {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Session{
		Homeserver: strings.TrimRight(strings.TrimSpace(homeserver), "/"),
		Timeout:    timeout,
		txn:        NewTxnCounter(),
	}
}

// Authenticated reports whether a bearer token is present.
func (s *Session) Authenticated() bool {
	return s.AccessToken != ""
}

// NextTxnID returns a fresh idempotency token for a write request.
func (s *Session) NextTxnID() string {
	if s.txn == nil {
		s.txn = NewTxnCounter()
	}
	return s.txn.Next()
}

// Record returns the persisted view of the session.
func (s *Session) Record() Record {
	return Record{
		Homeserver:  s.Homeserver,
		TimeoutMs:   s.Timeout.Milliseconds(),
		AccessToken: s.AccessToken,
		NextBatch:   s.NextBatch,
	}
}

// Apply copies a loaded record over the session. Empty record fields keep
// the caller-supplied defaults so a partial file never blanks the homeserver.
func (s *Session) Apply(r Record) {
	if r.Homeserver != "" {
		s.Homeserver = strings.TrimRight(r.Homeserver, "/")
	}
	if r.TimeoutMs > 0 {
		s.Timeout = time.Duration(r.TimeoutMs) * time.Millisecond
	}
	s.AccessToken = r.AccessToken
	s.NextBatch = r.NextBatch
}

// Restore loads path into the session. A missing file is not an error: the
// session keeps its defaults. An empty path does nothing.
func (s *Session) Restore(path string) error {
	if path == "" {
		return nil
	}
	record, err := Load(path)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			log.WithField("path", path).Debug("no saved session, starting fresh")
			return nil
		}
		return fmt.Errorf("failed to restore session: %w", err)
	}
	s.Apply(record)

	log.WithFields(map[string]interface{}{
		"path":       path,
		"homeserver": s.Homeserver,
		"has_token":  s.AccessToken != "",
		"has_cursor": s.NextBatch != "",
	}).Info("session restored")
	return nil
}

// Persist saves the session's four persisted fields to path.
func (s *Session) Persist(path string) error {
	if path == "" {
		return nil
	}
	return Save(path, s.Record())
}

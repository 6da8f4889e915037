// Package engine drives a Matrix session: it logs in, long-polls /sync,
// advances the cursor, and hands every decoded event to the dispatcher.
//
// One goroutine runs the loop. Observers execute synchronously inside it, so
// the session and directory see no concurrent writers.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shawkym/roomsync/internal/matrix"
	"github.com/shawkym/roomsync/pkg/directory"
	"github.com/shawkym/roomsync/pkg/dispatch"
	"github.com/shawkym/roomsync/pkg/event"
	"github.com/shawkym/roomsync/pkg/log"
	"github.com/shawkym/roomsync/pkg/metrics"
	"github.com/shawkym/roomsync/pkg/session"
)

// DefaultRetryDelay is the pause after a failed sync cycle when the server did
// not ask for a specific wait.
const DefaultRetryDelay = 2 * time.Second

// State is the engine's lifecycle state.
type State int32

const (
	Unauthenticated State = iota
	Idle
	Polling
	Stopped
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Idle:
		return "idle"
	case Polling:
		return "polling"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Transport is the subset of the Matrix API the engine calls.
// *matrix.Client implements it.
type Transport interface {
	Login(ctx context.Context, req matrix.LoginRequest) (*matrix.Response, error)
	Sync(ctx context.Context, p matrix.SyncParams) (*matrix.Response, error)
	JoinRoom(ctx context.Context, room string) (string, error)
	SendMessage(ctx context.Context, roomID, txnID string, content matrix.MessageContent) (string, error)
	SetAccessToken(token string)
}

// Options configures an Engine.
type Options struct {
	Homeserver  string
	Timeout     time.Duration // long-poll timeout; session.DefaultTimeout when zero
	SessionPath string        // credential file; empty disables persistence
	FullState   bool
	RetryDelay  time.Duration
	DeviceName  string

	// Transport overrides the HTTP client, mainly for tests.
	Transport Transport
	// Gate paces join and send when Transport is nil.
	Gate    *matrix.Gate
	Metrics *metrics.Metrics

	// Observers are registered after the directory, in order.
	Observers []dispatch.Observer
}

// Engine is one client session and its sync loop.
type Engine struct {
	opts       Options
	session    *session.Session
	transport  Transport
	directory  *directory.Directory
	dispatcher *dispatch.Dispatcher
	metrics    *metrics.Metrics

	state    atomic.Int32
	running  atomic.Bool
	// stopping survives until Run starts, so an early Stop is not lost.
	stopping atomic.Bool
	wake     chan struct{}

	cleanupOnce sync.Once
	cleanupErr  error
}

// New builds an engine, restoring the session from opts.SessionPath when the
// file exists.
func New(opts Options) (*Engine, error) {
	if opts.Homeserver == "" {
		return nil, ErrMissingHomeserver
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}

	sess := session.New(opts.Homeserver, opts.Timeout)
	configured := sess.Homeserver
	if err := sess.Restore(opts.SessionPath); err != nil {
		return nil, err
	}
	if sess.Homeserver != configured {
		// A token is only valid on the server that issued it.
		log.WithFields(map[string]interface{}{
			"configured": configured,
			"saved":      sess.Homeserver,
		}).Warn("saved session belongs to another homeserver, discarding it")
		sess.Homeserver = configured
		sess.AccessToken = ""
		sess.NextBatch = ""
	}

	transport := opts.Transport
	if transport == nil {
		transport = matrix.NewClient(sess.Homeserver, sess.Timeout,
			matrix.WithGate(opts.Gate),
			matrix.WithMetrics(opts.Metrics),
		)
	}
	transport.SetAccessToken(sess.AccessToken)

	e := &Engine{
		opts:       opts,
		session:    sess,
		transport:  transport,
		directory:  directory.New(),
		dispatcher: dispatch.New(opts.Metrics),
		metrics:    opts.Metrics,
		wake:       make(chan struct{}, 1),
	}

	e.dispatcher.Register(e.directory)
	for _, obs := range opts.Observers {
		e.dispatcher.Register(obs)
	}

	if sess.Authenticated() {
		e.setState(Idle)
	} else {
		e.setState(Unauthenticated)
	}
	return e, nil
}

// State returns the current lifecycle state.
func (e *Engine) State() State { return State(e.state.Load()) }

func (e *Engine) setState(s State) {
	prev := State(e.state.Swap(int32(s)))
	if prev != s {
		log.WithFields(map[string]interface{}{
			"from": prev.String(),
			"to":   s.String(),
		}).Debug("engine state change")
	}
}

// Session returns the engine's session. Do not mutate it while Run is active.
func (e *Engine) Session() *session.Session { return e.session }

// Directory returns the room directory.
func (e *Engine) Directory() *directory.Directory { return e.directory }

// Dispatcher returns the dispatcher so callers can register more observers.
func (e *Engine) Dispatcher() *dispatch.Dispatcher { return e.dispatcher }

// ResetCursor forgets the sync cursor so the next cycle is an initial sync.
// Call it before Run.
func (e *Engine) ResetCursor() {
	if e.session.NextBatch != "" {
		log.WithField("since", e.session.NextBatch).Debug("sync cursor reset")
	}
	e.session.NextBatch = ""
}

// Login authenticates with a password. On failure the state is unchanged and
// an *AuthError is returned.
func (e *Engine) Login(ctx context.Context, user, password string) error {
	if e.State() == Stopped {
		return ErrStopped
	}

	resp, err := e.transport.Login(ctx, matrix.LoginRequest{
		User:       user,
		Password:   password,
		DeviceName: e.opts.DeviceName,
	})
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		e.metrics.RecordLogin("failure")
		log.WithError(err).WithFields(map[string]interface{}{
			"user":   user,
			"status": status,
		}).Error("login failed")
		return &AuthError{User: user, StatusCode: status, Err: err}
	}

	login, err := event.ParseLogin(resp.Body)
	if err == nil && login.AccessToken() == "" {
		err = errors.New("login response missing access_token")
	}
	if err != nil {
		e.metrics.RecordLogin("failure")
		return &AuthError{User: user, StatusCode: resp.StatusCode, Err: err}
	}

	e.session.AccessToken = login.AccessToken()
	e.session.UserID = login.UserID()
	e.transport.SetAccessToken(e.session.AccessToken)
	e.metrics.RecordLogin("success")
	e.setState(Idle)

	log.WithFields(map[string]interface{}{
		"user_id":   e.session.UserID,
		"device_id": login.DeviceID(),
	}).Info("logged in")
	return nil
}

// SyncOnce runs one sync cycle. On success the cursor is overwritten with the
// server's next_batch, even when no events arrived, and every event is
// dispatched. On failure the cursor is left alone and a *SyncError is
// returned.
func (e *Engine) SyncOnce(ctx context.Context) error {
	if !e.session.Authenticated() {
		return ErrNotAuthenticated
	}
	if e.State() == Stopped {
		return ErrStopped
	}

	since := e.session.NextBatch
	e.setState(Polling)
	defer e.setState(Idle)

	start := time.Now()
	resp, err := e.transport.Sync(ctx, matrix.SyncParams{
		Since:     since,
		Timeout:   e.session.Timeout,
		FullState: e.opts.FullState,
	})
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		e.metrics.RecordSync("error", time.Since(start))
		if matrix.IsMatrixError(err, matrix.ErrCodeLimitExceeded) {
			e.metrics.RecordRateLimitHit()
		}
		return &SyncError{StatusCode: status, Since: since, Err: err}
	}

	s, err := event.ParseSync(resp.Body)
	if err != nil {
		e.metrics.RecordSync("error", time.Since(start))
		return &SyncError{StatusCode: resp.StatusCode, Since: since, Err: err}
	}
	e.metrics.RecordSync("success", time.Since(start))

	if next := s.NextBatch(); next != "" {
		e.session.NextBatch = next
		e.metrics.RecordCursorAdvance()
	} else {
		log.WithField("since", since).Warn("sync response without next_batch, cursor unchanged")
	}

	failed := e.dispatcher.DispatchSync(ctx, s)
	e.metrics.SetDirectoryRooms(e.directory.Len())

	log.WithFields(map[string]interface{}{
		"next_batch":      e.session.NextBatch,
		"joined_rooms":    len(s.JoinedRooms()),
		"invited_rooms":   len(s.InvitedRooms()),
		"observer_errors": failed,
	}).Debug("sync cycle complete")
	return nil
}

// Run loops SyncOnce until Stop is called or ctx is cancelled. Failed cycles
// are logged and retried after RetryDelay, or after the server's requested
// wait for M_LIMIT_EXCEEDED. The session is persisted exactly once when Run
// returns, however it returns. If Stop was called before Run, Run persists
// and returns nil without polling.
func (e *Engine) Run(ctx context.Context) (err error) {
	if !e.session.Authenticated() {
		return ErrNotAuthenticated
	}
	if e.State() == Stopped {
		return ErrStopped
	}
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer func() {
		if cerr := e.cleanup(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	log.WithFields(map[string]interface{}{
		"homeserver": e.session.Homeserver,
		"since":      e.session.NextBatch,
		"timeout_ms": e.session.Timeout.Milliseconds(),
	}).Info("sync loop started")

	for !e.stopping.Load() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		syncErr := e.SyncOnce(ctx)
		if syncErr == nil {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := e.retryDelay(syncErr)
		log.WithError(syncErr).WithField("retry_in_ms", delay.Milliseconds()).Warn("sync cycle failed")

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-e.wake:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	return nil
}

func (e *Engine) retryDelay(err error) time.Duration {
	if matrix.IsMatrixError(err, matrix.ErrCodeLimitExceeded) {
		if d := matrix.RetryAfter(err); d > 0 {
			return d
		}
	}
	return e.opts.RetryDelay
}

// Stop asks Run to exit. An in-flight poll completes first; the flag is
// checked at the top of the loop.
func (e *Engine) Stop() {
	e.stopping.Store(true)
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// cleanup persists the session and moves to Stopped. It runs once.
func (e *Engine) cleanup() error {
	e.cleanupOnce.Do(func() {
		e.running.Store(false)
		e.cleanupErr = e.Persist()
		e.setState(Stopped)
		log.WithFields(map[string]interface{}{
			"next_batch": e.session.NextBatch,
			"persisted":  e.opts.SessionPath != "" && e.cleanupErr == nil,
		}).Info("sync loop stopped")
	})
	return e.cleanupErr
}

// Persist writes the session to the configured path. It is a no-op without
// one.
func (e *Engine) Persist() error {
	if err := e.session.Persist(e.opts.SessionPath); err != nil {
		log.WithError(err).WithField("path", e.opts.SessionPath).Error("failed to persist session")
		return err
	}
	return nil
}

// JoinRoom joins room (id or alias) and records it in the directory.
func (e *Engine) JoinRoom(ctx context.Context, room string) (string, error) {
	if !e.session.Authenticated() {
		return "", ErrNotAuthenticated
	}
	roomID, err := e.transport.JoinRoom(ctx, room)
	if err != nil {
		return "", err
	}
	e.directory.Touch(roomID)
	log.WithFields(map[string]interface{}{
		"room":    room,
		"room_id": roomID,
	}).Info("joined room")
	return roomID, nil
}

// SendText sends an m.text message using the session's transaction counter.
func (e *Engine) SendText(ctx context.Context, roomID, body string) (string, error) {
	if !e.session.Authenticated() {
		return "", ErrNotAuthenticated
	}
	return e.transport.SendMessage(ctx, roomID, e.session.NextTxnID(), matrix.MessageContent{
		MsgType: matrix.MsgText,
		Body:    body,
	})
}

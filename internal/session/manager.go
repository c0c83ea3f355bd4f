package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"datachat/internal/logging"
)

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager serializes access to each session. Different sessions never wait
// on each other; lock entries are reference counted and dropped when unused.
type Manager struct {
	store Store

	mu    sync.Mutex
	locks map[string]*lockEntry

	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		locks:  make(map[string]*lockEntry),
		logger: logging.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) acquire(id string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.locks[id]
	if !ok {
		entry = &lockEntry{}
		m.locks[id] = entry
	}
	entry.refs++
	return entry
}

func (m *Manager) release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.locks[id]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, id)
	}
}

// WithLock runs fn while holding the lock for id.
func (m *Manager) WithLock(ctx context.Context, id string, fn func(context.Context) error) error {
	entry := m.acquire(id)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(id)
	}()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

// Update loads the state for id (a fresh one when unknown), passes it to fn
// and saves what fn returns, all under the session lock. If fn fails the
// returned state is still saved when non-nil, so partial progress such as a
// stored question survives an analysis error.
func (m *Manager) Update(ctx context.Context, id string, fn func(context.Context, *State) (*State, error)) (*State, error) {
	var out *State
	err := m.WithLock(ctx, id, func(ctx context.Context) error {
		state, err := m.store.Load(ctx, id)
		if errors.Is(err, ErrNotFound) {
			state = New(id, m.now())
		} else if err != nil {
			return fmt.Errorf("load session: %w", err)
		}

		next, fnErr := fn(ctx, state)
		if next != nil {
			next.Touch(m.now())
			// the request context may already be cancelled; the state must land anyway
			if err := m.store.Save(context.WithoutCancel(ctx), next); err != nil {
				return errors.Join(fnErr, fmt.Errorf("save session: %w", err))
			}
			out = next
		}
		return fnErr
	})
	return out, err
}

// Load returns the stored state for id, or a fresh unsaved one. Loading a
// stored state counts as activity: its UpdatedAt is advanced and saved so
// the janitor measures idleness from the last visit of any kind.
func (m *Manager) Load(ctx context.Context, id string) (*State, error) {
	var state *State
	err := m.WithLock(ctx, id, func(ctx context.Context) error {
		var err error
		state, err = m.store.Load(ctx, id)
		if errors.Is(err, ErrNotFound) {
			state = New(id, m.now())
			return nil
		}
		if err != nil {
			return err
		}
		state.Touch(m.now())
		if err := m.store.Save(context.WithoutCancel(ctx), state); err != nil {
			m.logger.Warn("refresh session", slog.String("session_id", id), slog.Any("error", err))
		}
		return nil
	})
	return state, err
}

// Delete drops the state for id.
func (m *Manager) Delete(ctx context.Context, id string) error {
	return m.WithLock(ctx, id, func(ctx context.Context) error {
		return m.store.Delete(ctx, id)
	})
}

func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

func (m *Manager) Store() Store { return m.store }

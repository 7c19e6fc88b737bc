// Package session scopes coroutine inspection to one debugger pause.
//
// A Session owns the serialized command flow on which every introspection
// call of the pause runs, and the per-pause caches. It is created when the
// process pauses and closed when it resumes; after Close every submission
// fails with ErrResumed and nothing computed during the pause is reused.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/coral-mesh/corostack/pkg/remote"
)

// ErrResumed is returned for commands submitted to, or still queued on, a
// closed session.
var ErrResumed = errors.New("session closed: process resumed")

type workerKey struct{}

type command struct {
	ctx context.Context
	run func(ctx context.Context)
	// abort is called instead of run when the session closes first.
	abort func()
}

// Session is the per-pause inspection context.
type Session struct {
	id        string
	proc      remote.Process
	agent     remote.Agent
	locations *LocationCache
	logger    zerolog.Logger

	commands chan command
	stopCh   chan struct{}
	wg       sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New starts a session over a paused process. agent may be nil when no debug
// agent is installed. queueSize bounds the number of pending commands.
func New(proc remote.Process, agent remote.Agent, queueSize int, logger zerolog.Logger) *Session {
	if queueSize < 1 {
		queueSize = 1
	}

	id := uuid.New().String()
	s := &Session{
		id:        id,
		proc:      proc,
		agent:     agent,
		locations: NewLocationCache(proc),
		logger:    logger.With().Str("component", "session").Str("session_id", id).Logger(),
		commands:  make(chan command, queueSize),
		stopCh:    make(chan struct{}),
	}

	s.wg.Add(1)
	go s.loop()

	s.logger.Debug().Bool("agent", agent != nil).Msg("Inspection session started")
	return s
}

// ID identifies the pause this session belongs to.
func (s *Session) ID() string { return s.id }

// Process returns the paused process.
func (s *Session) Process() remote.Process { return s.proc }

// Agent returns the debug agent, or nil.
func (s *Session) Agent() remote.Agent { return s.agent }

// Locations returns the per-pause location cache.
func (s *Session) Locations() *LocationCache { return s.locations }

// Logger returns the session logger.
func (s *Session) Logger() zerolog.Logger { return s.logger }

func (s *Session) loop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			s.drain()
			return
		case cmd := <-s.commands:
			// Prefer stopping over running a command that raced with Close.
			select {
			case <-s.stopCh:
				cmd.abort()
				s.drain()
				return
			default:
			}
			cmd.run(context.WithValue(cmd.ctx, workerKey{}, s))
		}
	}
}

func (s *Session) drain() {
	for {
		select {
		case cmd := <-s.commands:
			cmd.abort()
		default:
			return
		}
	}
}

// onWorker reports whether ctx belongs to a command running on this session.
func (s *Session) onWorker(ctx context.Context) bool {
	owner, _ := ctx.Value(workerKey{}).(*Session)
	return owner == s
}

// submit queues a command. Commands submitted from the worker itself run
// inline.
func (s *Session) submit(ctx context.Context, cmd command) error {
	if s.onWorker(ctx) {
		cmd.run(ctx)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrResumed
	}

	select {
	case s.commands <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the session. Queued commands fail with ErrResumed; a running
// command is waited for. Close is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.locations.Clear()

	s.logger.Debug().Msg("Inspection session closed")
	return nil
}

// Future is the pending result of a submitted command.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Wait blocks until the command completed, the session closed, or ctx is
// done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Submit queues fn on the session's command flow.
func Submit[T any](ctx context.Context, s *Session, fn func(ctx context.Context) (T, error)) (*Future[T], error) {
	f := &Future[T]{done: make(chan struct{})}
	var once sync.Once
	finish := func(val T, err error) {
		once.Do(func() {
			f.val, f.err = val, err
			close(f.done)
		})
	}

	cmd := command{
		ctx: ctx,
		run: func(ctx context.Context) {
			defer func() {
				if r := recover(); r != nil {
					var zero T
					finish(zero, fmt.Errorf("command panicked: %v", r))
				}
			}()
			val, err := fn(ctx)
			finish(val, err)
		},
		abort: func() {
			var zero T
			finish(zero, ErrResumed)
		},
	}

	if err := s.submit(ctx, cmd); err != nil {
		return nil, err
	}
	return f, nil
}

// Run submits fn and waits for its result.
func Run[T any](ctx context.Context, s *Session, fn func(ctx context.Context) (T, error)) (T, error) {
	f, err := Submit(ctx, s, fn)
	if err != nil {
		var zero T
		return zero, err
	}
	return f.Wait(ctx)
}

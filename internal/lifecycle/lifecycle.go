// Package lifecycle owns at most one recording session and moves it
// between Idle and Active in response to start, end and exit triggers.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/stat2csv/internal/export"
)

// ErrClosed is returned for triggers delivered after process exit.
var ErrClosed = errors.New("lifecycle closed")

// State is the lifecycle state.
type State int32

const (
	Idle State = iota
	Active
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Session is a recording the lifecycle can start and stop.
type Session interface {
	ID() string
	Context() string
	Start(ctx context.Context) error
	// Stop must flush everything the session holds before returning.
	Stop() error
}

// Factory creates a new session for a context label.
type Factory func(label string) (Session, error)

// Status describes the lifecycle for operators.
type Status struct {
	State     string `json:"state"`
	SessionID string `json:"session_id,omitempty"`
	Context   string `json:"context,omitempty"`
}

type triggerKind int

const (
	triggerStart triggerKind = iota
	triggerEnd
	triggerExit
)

func (k triggerKind) String() string {
	switch k {
	case triggerStart:
		return "session_start"
	case triggerEnd:
		return "session_end"
	default:
		return "process_exit"
	}
}

type trigger struct {
	kind  triggerKind
	label string
	reply chan error
}

// Lifecycle serializes triggers on the goroutine running Run.
type Lifecycle struct {
	log     logrus.FieldLogger
	factory Factory
	health  *export.HealthMetrics

	triggers chan trigger
	done     chan struct{}

	state   atomic.Int32
	status  atomic.Pointer[Status]
	current Session // Owned by Run.
}

// New creates a lifecycle in the Idle state.
func New(log logrus.FieldLogger, factory Factory, health *export.HealthMetrics) *Lifecycle {
	if health == nil {
		health = export.NewHealthMetrics(log, export.HealthConfig{})
	}

	l := &Lifecycle{
		log:      log.WithField("component", "lifecycle"),
		factory:  factory,
		health:   health,
		triggers: make(chan trigger),
		done:     make(chan struct{}),
	}

	l.status.Store(&Status{State: Idle.String()})

	return l
}

// State returns the current state.
func (l *Lifecycle) State() State {
	return State(l.state.Load())
}

// Status returns the current state and session.
func (l *Lifecycle) Status() Status {
	return *l.status.Load()
}

// Done is closed once Run has returned.
func (l *Lifecycle) Done() <-chan struct{} {
	return l.done
}

// Run handles triggers until a process exit trigger arrives or ctx is
// cancelled. An active session is ended before Run returns.
func (l *Lifecycle) Run(ctx context.Context) error {
	defer close(l.done)

	// Sessions outlive trigger contexts; they are stopped explicitly.
	sessionCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			if err := l.end(); err != nil {
				l.log.WithError(err).Error("Final session end failed")
			}

			return nil
		case t := <-l.triggers:
			err := l.handle(sessionCtx, t)
			t.reply <- err

			if t.kind == triggerExit {
				return nil
			}
		}
	}
}

// OnSessionStart starts a session labelled label. An active session is
// ended first.
func (l *Lifecycle) OnSessionStart(ctx context.Context, label string) error {
	return l.send(ctx, trigger{kind: triggerStart, label: label})
}

// OnSessionEnd ends the active session. It is a no-op when Idle.
func (l *Lifecycle) OnSessionEnd(ctx context.Context) error {
	return l.send(ctx, trigger{kind: triggerEnd})
}

// OnProcessExit ends the active session and stops Run. Later triggers
// return ErrClosed.
func (l *Lifecycle) OnProcessExit(ctx context.Context) error {
	return l.send(ctx, trigger{kind: triggerExit})
}

func (l *Lifecycle) send(ctx context.Context, t trigger) error {
	t.reply = make(chan error, 1)

	select {
	case l.triggers <- t:
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-t.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Lifecycle) handle(ctx context.Context, t trigger) error {
	l.log.WithFields(logrus.Fields{
		"trigger": t.kind.String(),
		"state":   l.State().String(),
	}).Debug("Handling trigger")

	switch t.kind {
	case triggerStart:
		return l.start(ctx, t.label)
	case triggerEnd, triggerExit:
		return l.end()
	default:
		return fmt.Errorf("unknown trigger %d", t.kind)
	}
}

func (l *Lifecycle) start(ctx context.Context, label string) error {
	if l.current != nil {
		// The previous session's failure is logged by the session and
		// must not prevent the restart.
		if err := l.end(); err != nil {
			l.log.WithError(err).Warn("Previous session ended with errors")
		}
	}

	sess, err := l.factory(label)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	if err := sess.Start(ctx); err != nil {
		_ = sess.Stop()

		return fmt.Errorf("starting session: %w", err)
	}

	l.current = sess
	l.setState(Active, &Status{
		State:     Active.String(),
		SessionID: sess.ID(),
		Context:   sess.Context(),
	})
	l.health.SessionsStarted.Inc()

	return nil
}

func (l *Lifecycle) end() error {
	if l.current == nil {
		return nil
	}

	sess := l.current
	l.current = nil

	err := sess.Stop()

	l.setState(Idle, &Status{State: Idle.String()})
	l.health.SessionsEnded.Inc()

	if err != nil {
		return fmt.Errorf("ending session %s: %w", sess.ID(), err)
	}

	return nil
}

func (l *Lifecycle) setState(s State, status *Status) {
	l.state.Store(int32(s))
	l.status.Store(status)

	if s == Active {
		l.health.SessionActive.Set(1)
	} else {
		l.health.SessionActive.Set(0)
	}
}

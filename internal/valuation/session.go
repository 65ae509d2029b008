package valuation

import (
	"context"
	"errors"
	"sync"
	"time"

	"estimo/server/internal/models"

	"github.com/sirupsen/logrus"
)

// ErrBusy is returned when a submission is started while another one is
// still in flight.
var ErrBusy = errors.New("a submission is already in flight")

// Notice is the single user-visible message of a session.
type Notice struct {
	Text     string   `json:"text"`
	Severity Severity `json:"severity"`
}

// Empty reports whether there is nothing to show.
func (n Notice) Empty() bool { return n.Text == "" }

// Outcome records how the last submission ended.
type Outcome struct {
	State    State
	Estimate *Estimate
	Err      error
}

// Session is the controller behind one estimate form. It allows a single
// submission at a time and owns the notice shown to the user.
type Session struct {
	orchestrator *Orchestrator
	dismissAfter time.Duration
	logger       *logrus.Logger

	mu         sync.Mutex
	busy       bool
	state      State
	notice     Notice
	last       *Outcome
	timer      *time.Timer
	generation uint64
	observer   Observer
}

// NewSession creates a session. Success notices are cleared after
// dismissAfter; zero keeps them until the next submission.
func NewSession(orchestrator *Orchestrator, dismissAfter time.Duration, logger *logrus.Logger) *Session {
	if logger == nil {
		logger = logrus.New()
	}
	return &Session{
		orchestrator: orchestrator,
		dismissAfter: dismissAfter,
		logger:       logger,
	}
}

// Submit runs one estimate. It returns ErrBusy without side effects if a
// previous submission has not settled yet.
func (s *Session) Submit(ctx context.Context, address models.AddressInput, property models.PropertyInput) (*Estimate, error) {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	s.busy = true
	s.stopTimerLocked()
	s.notice = Notice{}
	s.last = nil
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.busy = false
		s.state = StateIdle
		s.mu.Unlock()
	}()

	est, err := s.orchestrator.Estimate(ctx, address, property, s.enter)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.last = &Outcome{State: StateFailed, Err: err}
		s.notice = noticeFor(err)
		return nil, err
	}

	s.last = &Outcome{State: StateSucceeded, Estimate: est}
	s.notice = Notice{Text: MessageSuccess, Severity: SeveritySuccess}
	s.scheduleDismissLocked()
	return est, nil
}

// Observe registers o to see every state the session enters. It must be
// called before the first Submit.
func (s *Session) Observe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = o
}

// Busy reports whether a submission is in flight.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// State returns the current state of the submission machine.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Notice() Notice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notice
}

// Last returns the outcome of the last settled submission, or nil.
func (s *Session) Last() *Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Dismiss clears the notice and cancels a pending auto-dismiss.
func (s *Session) Dismiss() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked()
	s.notice = Notice{}
}

// Close cancels any pending timer. The session stays usable.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked()
}

func (s *Session) enter(state State) {
	s.mu.Lock()
	if !s.state.CanTransition(state) {
		s.logger.WithFields(logrus.Fields{
			"from": s.state.String(),
			"to":   state.String(),
		}).Warn("Unexpected submission state transition")
	}
	s.state = state
	observer := s.observer
	s.mu.Unlock()

	if observer != nil {
		observer(state)
	}
}

func (s *Session) scheduleDismissLocked() {
	if s.dismissAfter <= 0 {
		return
	}
	s.generation++
	gen := s.generation
	s.timer = time.AfterFunc(s.dismissAfter, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.generation == gen {
			s.notice = Notice{}
			s.timer = nil
		}
	})
}

func (s *Session) stopTimerLocked() {
	s.generation++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func noticeFor(err error) Notice {
	if e, ok := AsError(err); ok {
		return Notice{Text: e.Message, Severity: e.Severity()}
	}
	return Notice{Text: MessagePredictFailed, Severity: SeverityError}
}

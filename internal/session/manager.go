package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/goodtune/kiosktime/internal/metrics"
	"github.com/goodtune/kiosktime/internal/policy"
	"github.com/goodtune/kiosktime/internal/screentime"
	"github.com/goodtune/kiosktime/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// State is the kiosk lock state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StatePaused  State = "paused"
	StateLocked  State = "locked"
)

var allStates = []State{StateIdle, StateRunning, StatePaused, StateLocked}

// reminderGrace is the elapsed seconds before the first reminder may fire.
const reminderGrace = 5

var (
	// ErrInvalidState is returned when an operation does not apply to the current state.
	ErrInvalidState = errors.New("operation not allowed in current state")

	// ErrNoSession is returned when an operation needs an active session.
	ErrNoSession = errors.New("no active session")

	// ErrNoLimit is returned for time transfers on a session without a limit.
	ErrNoLimit = errors.New("session has no time limit")

	// ErrInvalidMinutes is returned for non-positive minute amounts.
	ErrInvalidMinutes = errors.New("minutes must be positive")
)

// Allowance is the screen-time controller as seen by the session manager.
type Allowance interface {
	Settings() screentime.Settings
	Now() time.Time
	CanStartSessionAt(ctx context.Context, now time.Time) screentime.Decision
	RemainingMinutes(ctx context.Context, day time.Time) (int, error)
	AddUsedTime(ctx context.Context, minutes int, day time.Time) error
	CreditTimeForDay(ctx context.Context, minutes int, day time.Time) error
}

// Status is a snapshot of the manager state.
type Status struct {
	State            State      `json:"state"`
	SessionID        string     `json:"session_id,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	ElapsedSeconds   int64      `json:"elapsed_seconds"`
	LimitSeconds     int64      `json:"limit_seconds"`
	RemainingSeconds int64      `json:"remaining_seconds"`
	Unlimited        bool       `json:"unlimited"`
}

type activeSession struct {
	id        string
	startedAt time.Time
	elapsed   int64
	limit     int64
	unlimited bool
	reminded  map[int]bool
}

func (s *activeSession) remaining() int64 {
	if s.unlimited {
		return 0
	}
	return max(0, s.limit-s.elapsed)
}

// Manager runs the idle/running/paused/locked state machine.
type Manager struct {
	allowance Allowance
	sessions  storage.SessionStore
	pin       *PINVerifier
	logger    zerolog.Logger
	events    *broker

	mu      sync.Mutex
	state   State
	current *activeSession
}

// NewManager creates an idle session manager.
func NewManager(allowance Allowance, sessions storage.SessionStore, pin *PINVerifier, logger zerolog.Logger) *Manager {
	m := &Manager{
		allowance: allowance,
		sessions:  sessions,
		pin:       pin,
		logger:    logger.With().Str("component", "session").Logger(),
		events:    newBroker(),
	}
	m.setState(StateIdle)
	return m
}

// Subscribe returns a channel receiving session events and a function that
// cancels the subscription.
func (m *Manager) Subscribe(buffer int) (<-chan Event, func()) {
	return m.events.subscribe(buffer)
}

// Run advances running sessions every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	step := max(int64(interval/time.Second), 1)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info().Dur("interval", interval).Msg("Session ticker started")

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("Session ticker stopped")
			return
		case <-ticker.C:
			m.advance(ctx, step)
		}
	}
}

// Status returns the current state snapshot.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

// Start begins a session when the controller allows it.
func (m *Manager) Start(ctx context.Context) (screentime.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateIdle {
		return screentime.Decision{}, fmt.Errorf("%w: cannot start while %s", ErrInvalidState, m.state)
	}
	return m.startLocked(ctx)
}

// Pause suspends the running session.
func (m *Manager) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateRunning {
		return fmt.Errorf("%w: cannot pause while %s", ErrInvalidState, m.state)
	}
	m.setState(StatePaused)
	m.publishLocked(EventPaused, "")
	return nil
}

// Resume continues a paused session.
func (m *Manager) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StatePaused {
		return fmt.Errorf("%w: cannot resume while %s", ErrInvalidState, m.state)
	}
	m.setState(StateRunning)
	m.publishLocked(EventResumed, "")
	return nil
}

// Stop ends the current session and records its usage.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateRunning && m.state != StatePaused {
		return fmt.Errorf("%w: cannot stop while %s", ErrInvalidState, m.state)
	}
	err := m.finishLocked(ctx, storage.OutcomeStopped)
	m.setState(StateIdle)
	m.publishLocked(EventStopped, string(storage.OutcomeStopped))
	return err
}

// Shutdown ends a running or paused session so its usage is recorded
// before the process exits. Other states are left as they are.
func (m *Manager) Shutdown(ctx context.Context) error {
	err := m.Stop(ctx)
	if errors.Is(err, ErrInvalidState) {
		m.logger.Debug().Err(err).Msg("No active session at shutdown")
		return nil
	}
	return err
}

// Unlock clears the lock with the parental PIN and attempts a new session.
// The returned decision tells whether that session started.
func (m *Manager) Unlock(ctx context.Context, pin string) (screentime.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateLocked {
		return screentime.Decision{}, fmt.Errorf("%w: not locked", ErrInvalidState)
	}
	if err := m.pin.Verify(pin); err != nil {
		m.logger.Warn().Err(err).Msg("Unlock rejected")
		return screentime.Decision{}, err
	}

	m.setState(StateIdle)
	m.publishLocked(EventUnlocked, "")
	m.logger.Info().Msg("Device unlocked")

	return m.startLocked(ctx)
}

// VerifyPIN checks the parental PIN against the attempt budget.
func (m *Manager) VerifyPIN(pin string) error {
	return m.pin.Verify(pin)
}

// AddTime credits today and extends the current session, if any.
func (m *Manager) AddTime(ctx context.Context, minutes int) error {
	if minutes <= 0 {
		return ErrInvalidMinutes
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.allowance.Now()
	if err := m.allowance.CreditTimeForDay(ctx, minutes, now); err != nil {
		return err
	}
	if m.current != nil && !m.current.unlimited {
		m.current.limit += int64(minutes) * 60
		m.publishLocked(EventTick, "")
	}
	m.logger.Info().Int("minutes", minutes).Msg("Time added")
	return nil
}

// CreditRemainingTomorrow credits the session's remaining minutes to
// tomorrow. The session continues.
func (m *Manager) CreditRemainingTomorrow(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creditTomorrowLocked(ctx, 1)
}

// DoubleRemainingTomorrow credits twice the session's remaining minutes to
// tomorrow. The session continues.
func (m *Manager) DoubleRemainingTomorrow(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creditTomorrowLocked(ctx, 2)
}

// MoveRemainingToTomorrow credits the remaining minutes to tomorrow and
// ends the session.
func (m *Manager) MoveRemainingToTomorrow(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	credited, err := m.creditTomorrowLocked(ctx, 1)
	if err != nil {
		return 0, err
	}
	finishErr := m.finishLocked(ctx, storage.OutcomeMoved)
	m.setState(StateIdle)
	m.publishLocked(EventStopped, string(storage.OutcomeMoved))
	return credited, finishErr
}

func (m *Manager) creditTomorrowLocked(ctx context.Context, factor int) (int, error) {
	if m.current == nil {
		return 0, ErrNoSession
	}
	if m.current.unlimited {
		return 0, ErrNoLimit
	}

	minutes := int(m.current.remaining()/60) * factor
	tomorrow := storage.StartOfDay(m.allowance.Now()).AddDate(0, 0, 1)
	if err := m.allowance.CreditTimeForDay(ctx, minutes, tomorrow); err != nil {
		return 0, err
	}
	m.logger.Info().
		Int("minutes", minutes).
		Str("date", storage.DateKey(tomorrow)).
		Msg("Remaining time credited to tomorrow")
	return minutes, nil
}

// advance moves a running session forward by seconds.
func (m *Manager) advance(ctx context.Context, seconds int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateRunning || m.current == nil {
		return
	}

	session := m.current
	session.elapsed += seconds

	if session.unlimited {
		m.publishLocked(EventTick, "")
		return
	}

	remaining := session.remaining()
	metrics.SessionRemainingSeconds.Set(float64(remaining))

	if remaining <= 0 {
		if err := m.finishLocked(ctx, storage.OutcomeLocked); err != nil {
			m.logger.Error().Err(err).Msg("Failed to record locked session")
		}
		m.setState(StateLocked)
		m.publishLocked(EventLocked, "screen time used up")
		m.logger.Info().Msg("Device locked")
		return
	}

	m.publishLocked(EventTick, "")

	if session.elapsed >= reminderGrace {
		minutes := int(remaining / 60)
		if slices.Contains(m.allowance.Settings().Reminders, minutes) && !session.reminded[minutes] {
			session.reminded[minutes] = true
			metrics.RemindersSent.Inc()
			m.events.publish(Event{
				Type:             EventReminder,
				State:            m.state,
				SessionID:        session.id,
				ElapsedSeconds:   session.elapsed,
				RemainingSeconds: remaining,
				ReminderMinutes:  minutes,
				Time:             m.allowance.Now(),
			})
			m.logger.Info().Int("minutes", minutes).Msg("Reminder sent")
		}
	}
}

func (m *Manager) startLocked(ctx context.Context) (screentime.Decision, error) {
	now := m.allowance.Now()
	decision := m.allowance.CanStartSessionAt(ctx, now)
	if !decision.Allowed {
		return decision, nil
	}

	session := &activeSession{
		id:        uuid.New().String(),
		startedAt: now,
		reminded:  make(map[int]bool),
	}

	settings := m.allowance.Settings()
	if !settings.Enabled {
		session.unlimited = true
	} else {
		remaining, err := m.allowance.RemainingMinutes(ctx, now)
		if err != nil {
			return screentime.Decision{Code: policy.CodeStorageError, Reason: "could not read screen time usage"}, err
		}
		limit := min(settings.LimitMinutes, remaining)
		if limit <= 0 {
			return screentime.Decision{Code: policy.CodeAllowanceExhausted, Reason: "screen time for today used up"}, nil
		}
		session.limit = int64(limit) * 60
	}

	m.current = session
	m.setState(StateRunning)
	metrics.SessionsStarted.Inc()
	m.publishLocked(EventStarted, "")

	m.logger.Info().
		Str("session_id", session.id).
		Int64("limit_seconds", session.limit).
		Bool("unlimited", session.unlimited).
		Msg("Session started")
	return decision, nil
}

// finishLocked records used time and the session record, then clears the
// current session.
func (m *Manager) finishLocked(ctx context.Context, outcome storage.SessionOutcome) error {
	session := m.current
	if session == nil {
		return nil
	}
	m.current = nil
	metrics.SessionsEnded.WithLabelValues(string(outcome)).Inc()
	metrics.SessionRemainingSeconds.Set(0)

	used := UsedMinutes(session.elapsed)
	var errs []error
	if err := m.allowance.AddUsedTime(ctx, used, session.startedAt); err != nil {
		errs = append(errs, err)
	}

	record := storage.Session{
		ID:             session.id,
		Date:           storage.DateKey(session.startedAt),
		StartedAt:      session.startedAt,
		EndedAt:        m.allowance.Now(),
		ElapsedSeconds: session.elapsed,
		LimitSeconds:   session.limit,
		UsedMinutes:    used,
		Outcome:        outcome,
	}
	if m.sessions != nil {
		if err := m.sessions.SaveSession(ctx, record); err != nil {
			errs = append(errs, fmt.Errorf("save session: %w", err))
		}
	}

	m.logger.Info().
		Str("session_id", session.id).
		Str("outcome", string(outcome)).
		Int64("elapsed_seconds", session.elapsed).
		Int("used_minutes", used).
		Msg("Session ended")
	return errors.Join(errs...)
}

// UsedMinutes converts elapsed seconds to whole minutes, rounding up from
// 30 seconds.
func UsedMinutes(elapsedSeconds int64) int {
	minutes := elapsedSeconds / 60
	if elapsedSeconds%60 >= 30 {
		minutes++
	}
	return int(minutes)
}

func (m *Manager) statusLocked() Status {
	status := Status{State: m.state}
	if session := m.current; session != nil {
		startedAt := session.startedAt
		status.SessionID = session.id
		status.StartedAt = &startedAt
		status.ElapsedSeconds = session.elapsed
		status.LimitSeconds = session.limit
		status.RemainingSeconds = session.remaining()
		status.Unlimited = session.unlimited
	}
	return status
}

func (m *Manager) setState(state State) {
	m.state = state
	for _, s := range allStates {
		value := 0.0
		if s == state {
			value = 1
		}
		metrics.SessionState.WithLabelValues(string(s)).Set(value)
	}
}

func (m *Manager) publishLocked(eventType EventType, reason string) {
	status := m.statusLocked()
	m.events.publish(Event{
		Type:             eventType,
		State:            status.State,
		SessionID:        status.SessionID,
		ElapsedSeconds:   status.ElapsedSeconds,
		RemainingSeconds: status.RemainingSeconds,
		Reason:           reason,
		Time:             m.allowance.Now(),
	})
}

package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/goodtune/kiosktime/internal/policy"
	"github.com/goodtune/kiosktime/internal/screentime"
	"github.com/goodtune/kiosktime/internal/storage"
	"github.com/goodtune/kiosktime/internal/storage/jsonfile"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

const testPIN = "4321"

type testEnv struct {
	manager    *Manager
	controller *screentime.Controller
	store      *jsonfile.Store
	clock      *screentime.TestClock
}

func newTestEnv(t *testing.T, mutate func(*screentime.Settings)) *testEnv {
	t.Helper()

	store, err := jsonfile.Open(filepath.Join(t.TempDir(), "screentime_usage.json"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	engine, err := policy.NewEngine("", zerolog.Nop())
	if err != nil {
		t.Fatalf("new policy engine: %v", err)
	}

	settings := screentime.DefaultSettings()
	settings.Enabled = true
	settings.LimitMinutes = 60
	if mutate != nil {
		mutate(&settings)
	}

	clock := &screentime.TestClock{CurrentTime: time.Date(2024, 5, 1, 15, 0, 0, 0, time.Local)}
	controller := screentime.NewController(settings, store.Usage(), nil, engine, clock, zerolog.Nop())

	hash, err := bcrypt.GenerateFromPassword([]byte(testPIN), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash pin: %v", err)
	}
	pin, err := NewPINVerifier("", string(hash), 100)
	if err != nil {
		t.Fatalf("new pin verifier: %v", err)
	}

	return &testEnv{
		manager:    NewManager(controller, store.Sessions(), pin, zerolog.Nop()),
		controller: controller,
		store:      store,
		clock:      clock,
	}
}

func (e *testEnv) tick(seconds int) {
	for i := 0; i < seconds; i++ {
		e.clock.Advance(time.Second)
		e.manager.advance(context.Background(), 1)
	}
}

func (e *testEnv) today() time.Time {
	return e.clock.Now()
}

func drain(ch <-chan Event) []Event {
	var events []Event
	for {
		select {
		case event := <-ch:
			events = append(events, event)
		default:
			return events
		}
	}
}

func TestUsedMinutes(t *testing.T) {
	tests := []struct {
		elapsed int64
		want    int
	}{
		{0, 0},
		{29, 0},
		{30, 1},
		{59, 1},
		{60, 1},
		{89, 1},
		{90, 2},
		{1800, 30},
	}
	for _, tt := range tests {
		if got := UsedMinutes(tt.elapsed); got != tt.want {
			t.Errorf("UsedMinutes(%d) = %d, want %d", tt.elapsed, got, tt.want)
		}
	}
}

func TestStartUsesSmallerOfLimitAndRemaining(t *testing.T) {
	env := newTestEnv(t, func(s *screentime.Settings) { s.DailyAllowedMinutes = 20 })
	ctx := context.Background()

	decision, err := env.manager.Start(ctx)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("Expected start to be allowed, got %+v", decision)
	}

	status := env.manager.Status()
	if status.State != StateRunning || status.LimitSeconds != 20*60 {
		t.Fatalf("Expected running with 20 minute limit, got %+v", status)
	}

	if _, err := env.manager.Start(ctx); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState starting twice, got %v", err)
	}
}

func TestStartDenied(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if err := env.controller.AddUsedTime(ctx, 30, env.today()); err != nil {
		t.Fatalf("AddUsedTime failed: %v", err)
	}

	decision, err := env.manager.Start(ctx)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if decision.Allowed || decision.Code != policy.CodeAllowanceExhausted {
		t.Errorf("Expected exhausted denial, got %+v", decision)
	}
	if env.manager.Status().State != StateIdle {
		t.Errorf("Expected idle after denial, got %s", env.manager.Status().State)
	}
}

func TestSessionLocksAndRecordsUsage(t *testing.T) {
	env := newTestEnv(t, func(s *screentime.Settings) {
		s.DailyAllowedMinutes = 1
		s.Reminders = nil
	})
	ctx := context.Background()
	events, cancel := env.manager.Subscribe(256)
	defer cancel()

	if _, err := env.manager.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	env.tick(59)
	if env.manager.Status().State != StateRunning {
		t.Fatalf("Expected running before the limit, got %s", env.manager.Status().State)
	}
	env.tick(1)

	if env.manager.Status().State != StateLocked {
		t.Fatalf("Expected locked at the limit, got %s", env.manager.Status().State)
	}

	used, err := env.controller.UsedMinutes(ctx, env.today())
	if err != nil {
		t.Fatalf("UsedMinutes failed: %v", err)
	}
	if used != 1 {
		t.Errorf("Expected 1 used minute, got %d", used)
	}

	sessions, err := env.store.Sessions().ListSessions(ctx, "2024-05-01")
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Outcome != storage.OutcomeLocked || sessions[0].ElapsedSeconds != 60 {
		t.Errorf("Expected one locked session of 60s, got %+v", sessions)
	}

	var sawLocked bool
	for _, event := range drain(events) {
		if event.Type == EventLocked {
			sawLocked = true
		}
	}
	if !sawLocked {
		t.Error("Expected a locked event")
	}

	// No time accrues while locked
	env.tick(30)
	used, _ = env.controller.UsedMinutes(ctx, env.today())
	if used != 1 {
		t.Errorf("Expected usage to stay at 1 while locked, got %d", used)
	}
}

func TestUnlock(t *testing.T) {
	env := newTestEnv(t, func(s *screentime.Settings) {
		s.DailyAllowedMinutes = 1
		s.Reminders = nil
	})
	ctx := context.Background()

	if _, err := env.manager.Unlock(ctx, testPIN); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Expected ErrInvalidState unlocking while idle, got %v", err)
	}

	if _, err := env.manager.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	env.tick(60)

	if _, err := env.manager.Unlock(ctx, "0000"); !errors.Is(err, ErrInvalidPIN) {
		t.Fatalf("Expected ErrInvalidPIN, got %v", err)
	}
	if env.manager.Status().State != StateLocked {
		t.Fatalf("Expected to stay locked after a wrong PIN")
	}

	// The allowance is used up, so the restart is denied and the device idles
	decision, err := env.manager.Unlock(ctx, testPIN)
	if err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	if decision.Allowed {
		t.Errorf("Expected the follow-up start to be denied, got %+v", decision)
	}
	if env.manager.Status().State != StateIdle {
		t.Errorf("Expected idle, got %s", env.manager.Status().State)
	}
}

func TestUnlockStartsNewSessionWhenTimeRemains(t *testing.T) {
	env := newTestEnv(t, func(s *screentime.Settings) {
		s.LimitMinutes = 1
		s.Reminders = nil
	})
	ctx := context.Background()

	if _, err := env.manager.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	env.tick(60)

	decision, err := env.manager.Unlock(ctx, testPIN)
	if err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	if !decision.Allowed || env.manager.Status().State != StateRunning {
		t.Errorf("Expected a new running session, got %+v / %s", decision, env.manager.Status().State)
	}
}

func TestPINRateLimit(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte(testPIN), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash pin: %v", err)
	}
	verifier, err := NewPINVerifier("", string(hash), 2)
	if err != nil {
		t.Fatalf("NewPINVerifier failed: %v", err)
	}

	if err := verifier.Verify("0000"); !errors.Is(err, ErrInvalidPIN) {
		t.Fatalf("Expected ErrInvalidPIN, got %v", err)
	}
	if err := verifier.Verify(testPIN); err != nil {
		t.Fatalf("Expected correct PIN to pass, got %v", err)
	}
	if err := verifier.Verify(testPIN); !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("Expected ErrTooManyAttempts, got %v", err)
	}
}

func TestNewPINVerifierRejectsBadHash(t *testing.T) {
	if _, err := NewPINVerifier("", "not-a-hash", 5); err == nil {
		t.Fatal("Expected error for an invalid hash")
	}
	if _, err := NewPINVerifier("", "", 5); err == nil {
		t.Fatal("Expected error without pin or hash")
	}
}

func TestPauseResumeStop(t *testing.T) {
	env := newTestEnv(t, func(s *screentime.Settings) { s.Reminders = nil })
	ctx := context.Background()

	if err := env.manager.Pause(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Expected ErrInvalidState pausing while idle, got %v", err)
	}

	if _, err := env.manager.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	env.tick(90)
	if err := env.manager.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	env.tick(600)
	if got := env.manager.Status().ElapsedSeconds; got != 90 {
		t.Fatalf("Expected no time to accrue while paused, got %d", got)
	}
	if err := env.manager.Resume(); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	env.tick(60)

	if err := env.manager.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if env.manager.Status().State != StateIdle {
		t.Fatalf("Expected idle after stop, got %s", env.manager.Status().State)
	}

	// 150 seconds rounds up to 3 minutes
	used, err := env.controller.UsedMinutes(ctx, time.Date(2024, 5, 1, 0, 0, 0, 0, time.Local))
	if err != nil {
		t.Fatalf("UsedMinutes failed: %v", err)
	}
	if used != 3 {
		t.Errorf("Expected 3 used minutes, got %d", used)
	}

	if err := env.manager.Stop(ctx); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState stopping while idle, got %v", err)
	}
}

func TestUsageAttributedToStartDate(t *testing.T) {
	env := newTestEnv(t, func(s *screentime.Settings) { s.Reminders = nil })
	env.clock.Set(time.Date(2024, 5, 1, 23, 59, 0, 0, time.Local))
	ctx := context.Background()

	if _, err := env.manager.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	env.tick(180)
	if err := env.manager.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	record, err := env.store.Usage().GetRecord(ctx, "2024-05-01")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if record.UsedMinutes != 3 {
		t.Errorf("Expected 3 minutes on the start date, got %d", record.UsedMinutes)
	}
	if _, err := env.store.Usage().GetRecord(ctx, "2024-05-02"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected nothing recorded on the next day, got %v", err)
	}
}

func TestReminders(t *testing.T) {
	env := newTestEnv(t, func(s *screentime.Settings) {
		s.DailyAllowedMinutes = 31
		s.Reminders = []int{30, 5}
	})
	events, cancel := env.manager.Subscribe(4096)
	defer cancel()

	if _, err := env.manager.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var reminders []int
	collect := func() {
		for _, event := range drain(events) {
			if event.Type == EventReminder {
				reminders = append(reminders, event.ReminderMinutes)
			}
		}
	}

	// Remaining drops into minute 30 at second 1, but reminders wait for second 5
	env.tick(4)
	collect()
	if len(reminders) != 0 {
		t.Fatalf("Expected no reminders before second 5, got %v", reminders)
	}
	env.tick(1)
	collect()
	if len(reminders) != 1 || reminders[0] != 30 {
		t.Fatalf("Expected the 30 minute reminder, got %v", reminders)
	}

	// Stays in minute 30 for a while without repeating
	env.tick(30)
	collect()
	if len(reminders) != 1 {
		t.Fatalf("Expected the reminder to fire once, got %v", reminders)
	}

	env.tick(26*60 - 36 + 1)
	collect()
	if len(reminders) != 2 || reminders[1] != 5 {
		t.Fatalf("Expected the 5 minute reminder, got %v", reminders)
	}
	if env.manager.Status().State != StateRunning {
		t.Errorf("Expected reminders not to pause the session")
	}
}

func TestAddTime(t *testing.T) {
	env := newTestEnv(t, func(s *screentime.Settings) {
		s.DailyAllowedMinutes = 10
		s.Reminders = nil
	})
	ctx := context.Background()

	if err := env.manager.AddTime(ctx, 0); !errors.Is(err, ErrInvalidMinutes) {
		t.Fatalf("Expected ErrInvalidMinutes, got %v", err)
	}

	if _, err := env.manager.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	env.tick(120)
	if err := env.manager.AddTime(ctx, 15); err != nil {
		t.Fatalf("AddTime failed: %v", err)
	}

	status := env.manager.Status()
	if status.LimitSeconds != 25*60 || status.RemainingSeconds != 23*60 {
		t.Errorf("Expected limit 25m and 23m remaining, got %+v", status)
	}

	credits, err := env.controller.Credits(ctx, env.today())
	if err != nil {
		t.Fatalf("Credits failed: %v", err)
	}
	if credits != 15 {
		t.Errorf("Expected 15 credited minutes, got %d", credits)
	}
}

func TestTomorrowTransfers(t *testing.T) {
	ctx := context.Background()
	tomorrow := "2024-05-02"

	tests := []struct {
		name        string
		action      func(*Manager) (int, error)
		wantMinutes int
		wantState   State
	}{
		{"credit remaining", func(m *Manager) (int, error) { return m.CreditRemainingTomorrow(ctx) }, 20, StateRunning},
		{"double remaining", func(m *Manager) (int, error) { return m.DoubleRemainingTomorrow(ctx) }, 40, StateRunning},
		{"move remaining", func(m *Manager) (int, error) { return m.MoveRemainingToTomorrow(ctx) }, 20, StateIdle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, func(s *screentime.Settings) {
				s.DailyAllowedMinutes = 30
				s.Reminders = nil
			})

			if _, err := tt.action(env.manager); !errors.Is(err, ErrNoSession) {
				t.Fatalf("Expected ErrNoSession without a session, got %v", err)
			}

			if _, err := env.manager.Start(ctx); err != nil {
				t.Fatalf("Start failed: %v", err)
			}
			env.tick(10*60 - 20)

			minutes, err := tt.action(env.manager)
			if err != nil {
				t.Fatalf("action failed: %v", err)
			}
			if minutes != tt.wantMinutes {
				t.Errorf("Expected %d minutes, got %d", tt.wantMinutes, minutes)
			}
			if state := env.manager.Status().State; state != tt.wantState {
				t.Errorf("Expected state %s, got %s", tt.wantState, state)
			}

			record, err := env.store.Usage().GetRecord(ctx, tomorrow)
			if err != nil {
				t.Fatalf("GetRecord failed: %v", err)
			}
			if record.Credits != tt.wantMinutes {
				t.Errorf("Expected %d credits tomorrow, got %d", tt.wantMinutes, record.Credits)
			}
		})
	}
}

func TestMoveRecordsMovedSession(t *testing.T) {
	env := newTestEnv(t, func(s *screentime.Settings) { s.Reminders = nil })
	ctx := context.Background()

	if _, err := env.manager.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	env.tick(60)
	if _, err := env.manager.MoveRemainingToTomorrow(ctx); err != nil {
		t.Fatalf("MoveRemainingToTomorrow failed: %v", err)
	}

	sessions, err := env.store.Sessions().ListSessions(ctx, "2024-05-01")
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Outcome != storage.OutcomeMoved || sessions[0].UsedMinutes != 1 {
		t.Errorf("Expected one moved session using 1 minute, got %+v", sessions)
	}
}

func TestDisabledSessionsAreUnlimited(t *testing.T) {
	env := newTestEnv(t, func(s *screentime.Settings) { s.Enabled = false })
	ctx := context.Background()

	decision, err := env.manager.Start(ctx)
	if err != nil || !decision.Allowed {
		t.Fatalf("Expected start to be allowed, got %+v / %v", decision, err)
	}
	env.tick(3 * 3600)
	status := env.manager.Status()
	if status.State != StateRunning || !status.Unlimited {
		t.Errorf("Expected an unlimited running session, got %+v", status)
	}
	if _, err := env.manager.CreditRemainingTomorrow(ctx); !errors.Is(err, ErrNoLimit) {
		t.Errorf("Expected ErrNoLimit, got %v", err)
	}
}

func TestRunStopsWithContext(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		env.manager.Run(ctx, 10*time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestShutdownRecordsActiveSession(t *testing.T) {
	tests := []struct {
		name  string
		pause bool
	}{
		{name: "running"},
		{name: "paused", pause: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			ctx := context.Background()

			if _, err := env.manager.Start(ctx); err != nil {
				t.Fatalf("Start failed: %v", err)
			}
			env.tick(1200)
			if tt.pause {
				if err := env.manager.Pause(); err != nil {
					t.Fatalf("Pause failed: %v", err)
				}
			}

			if err := env.manager.Shutdown(ctx); err != nil {
				t.Fatalf("Shutdown failed: %v", err)
			}
			if state := env.manager.Status().State; state != StateIdle {
				t.Errorf("Expected idle after shutdown, got %s", state)
			}

			used, err := env.controller.UsedMinutes(ctx, env.today())
			if err != nil {
				t.Fatalf("UsedMinutes failed: %v", err)
			}
			if used != 20 {
				t.Errorf("Expected 20 used minutes, got %d", used)
			}

			sessions, err := env.store.Sessions().ListSessions(ctx, "2024-05-01")
			if err != nil {
				t.Fatalf("ListSessions failed: %v", err)
			}
			if len(sessions) != 1 || sessions[0].ElapsedSeconds != 1200 || sessions[0].Outcome != storage.OutcomeStopped {
				t.Errorf("Expected one stopped session of 1200s, got %+v", sessions)
			}
		})
	}
}

func TestShutdownWithoutSession(t *testing.T) {
	env := newTestEnv(t, nil)

	if err := env.manager.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if state := env.manager.Status().State; state != StateIdle {
		t.Errorf("Expected idle, got %s", state)
	}

	sessions, err := env.store.Sessions().ListSessions(context.Background(), "2024-05-01")
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("Expected no session records, got %+v", sessions)
	}
}

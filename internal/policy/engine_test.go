package policy

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestEngine(t *testing.T, policyDir string) *Engine {
	t.Helper()
	engine, err := NewEngine(policyDir, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return engine
}

func TestEvaluateEmbeddedPolicy(t *testing.T) {
	engine := newTestEngine(t, "")

	tests := []struct {
		name       string
		input      Input
		wantAllow  bool
		wantCode   string
		wantReason string
	}{
		{
			name:      "disabled allows everything",
			input:     Input{Enabled: false, RemainingMinutes: 0},
			wantAllow: true,
			wantCode:  CodeDisabled,
		},
		{
			name:      "inside window with time left",
			input:     Input{Enabled: true, Window: WindowFact{Within: true, Label: "08:00-20:00"}, RemainingMinutes: 12},
			wantAllow: true,
			wantCode:  CodeOK,
		},
		{
			name:       "outside window",
			input:      Input{Enabled: true, Window: WindowFact{Within: false, Label: "08:00-20:00"}, RemainingMinutes: 12},
			wantCode:   CodeOutsideUsageWindow,
			wantReason: "outside allowed usage time (08:00-20:00)",
		},
		{
			name:       "outside window wins over exhausted allowance",
			input:      Input{Enabled: true, Window: WindowFact{Within: false, Label: "calendar"}, RemainingMinutes: 0},
			wantCode:   CodeOutsideUsageWindow,
			wantReason: "outside allowed usage time (calendar)",
		},
		{
			name:       "allowance exhausted",
			input:      Input{Enabled: true, Window: WindowFact{Within: true}, AllowedMinutes: 30, UsedMinutes: 30},
			wantCode:   CodeAllowanceExhausted,
			wantReason: "screen time for today used up",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := engine.Evaluate(context.Background(), tt.input)
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}
			if decision.Allow != tt.wantAllow {
				t.Errorf("Expected allow=%v, got %v", tt.wantAllow, decision.Allow)
			}
			if decision.Code != tt.wantCode {
				t.Errorf("Expected code %q, got %q", tt.wantCode, decision.Code)
			}
			if decision.Reason != tt.wantReason {
				t.Errorf("Expected reason %q, got %q", tt.wantReason, decision.Reason)
			}
		})
	}
}

func TestPolicyDirectoryOverride(t *testing.T) {
	dir := t.TempDir()
	policy := `package kiosktime.access

import rego.v1

default decision := {"allow": false, "code": "policy_error", "reason": "locked down"}
`
	if err := os.WriteFile(filepath.Join(dir, "access.rego"), []byte(policy), 0644); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	engine := newTestEngine(t, dir)
	decision, err := engine.Evaluate(context.Background(), Input{Enabled: false})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if decision.Allow || decision.Reason != "locked down" {
		t.Errorf("Expected the override policy to deny, got %+v", decision)
	}

	relaxed := `package kiosktime.access

import rego.v1

default decision := {"allow": true, "code": "ok", "reason": ""}
`
	if err := os.WriteFile(filepath.Join(dir, "access.rego"), []byte(relaxed), 0644); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	if err := engine.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	decision, err = engine.Evaluate(context.Background(), Input{Enabled: true})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !decision.Allow {
		t.Errorf("Expected the reloaded policy to allow, got %+v", decision)
	}
}

func TestReloadKeepsPreviousPolicyOnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "access.rego")
	valid := `package kiosktime.access

import rego.v1

default decision := {"allow": true, "code": "ok", "reason": ""}
`
	if err := os.WriteFile(path, []byte(valid), 0644); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	engine := newTestEngine(t, dir)

	if err := os.WriteFile(path, []byte("package kiosktime.access\n\ndecision := {"), 0644); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	if err := engine.Reload(); err == nil {
		t.Fatal("Expected Reload to fail on a broken policy")
	}

	decision, err := engine.Evaluate(context.Background(), Input{Enabled: true})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !decision.Allow {
		t.Errorf("Expected previous policy to remain active, got %+v", decision)
	}
}

func TestNewEngineMissingPolicies(t *testing.T) {
	if _, err := NewEngine(t.TempDir(), zerolog.Nop()); err == nil {
		t.Fatal("Expected error for an empty policy directory")
	}
}

// TestReloadThreadSafety tests that reload is thread-safe with concurrent evaluations
func TestReloadThreadSafety(t *testing.T) {
	engine := newTestEngine(t, "")

	var wg sync.WaitGroup
	ctx := context.Background()
	done := make(chan struct{})

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					input := Input{Enabled: true, Window: WindowFact{Within: true}, RemainingMinutes: 5}
					if _, err := engine.Evaluate(ctx, input); err != nil {
						t.Errorf("Evaluate failed: %v", err)
						return
					}
					time.Sleep(time.Millisecond)
				}
			}
		}()
	}

	for i := 0; i < 5; i++ {
		if err := engine.Reload(); err != nil {
			t.Errorf("Reload failed: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	close(done)
	wg.Wait()
}

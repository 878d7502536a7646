package systemd

import (
	"context"
	"testing"
	"time"
)

func TestGetListenersWithoutActivation(t *testing.T) {
	t.Setenv("LISTEN_PID", "")
	t.Setenv("LISTEN_FDS", "")

	listeners, err := GetListeners()
	if err != nil {
		t.Fatalf("GetListeners() error = %v", err)
	}
	if listeners.Activated || listeners.API != nil || listeners.Metrics != nil {
		t.Errorf("GetListeners() = %+v, want no activated listeners", listeners)
	}
}

func TestNotifyOutsideSystemd(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")

	for name, fn := range map[string]func() error{
		"ready":     NotifyReady,
		"reloading": NotifyReloading,
		"stopping":  NotifyStopping,
		"watchdog":  NotifyWatchdog,
	} {
		if err := fn(); err != nil {
			t.Errorf("notify %s: %v", name, err)
		}
	}
}

func TestRunWatchdogDisabled(t *testing.T) {
	t.Setenv("WATCHDOG_USEC", "")
	t.Setenv("WATCHDOG_PID", "")

	done := make(chan error, 1)
	go func() { done <- RunWatchdog(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunWatchdog() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("RunWatchdog() did not return with the watchdog disabled")
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("KIOSKTIME_STORAGE_PATH", filepath.Join(dir, "usage.json"))
	t.Setenv("KIOSKTIME_DATABASE_PATH", filepath.Join(dir, "calendar.db"))

	cfg, err := Load(filepath.Join(dir, "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ScreenTime.LimitMinutes != 60 {
		t.Errorf("Expected limit_minutes 60, got %d", cfg.ScreenTime.LimitMinutes)
	}
	if cfg.ScreenTime.DailyAllowedMinutes != 30 {
		t.Errorf("Expected daily_allowed_minutes 30, got %d", cfg.ScreenTime.DailyAllowedMinutes)
	}
	if len(cfg.ScreenTime.Reminders) != 2 || cfg.ScreenTime.Reminders[0] != 30 || cfg.ScreenTime.Reminders[1] != 5 {
		t.Errorf("Expected reminders [30 5], got %v", cfg.ScreenTime.Reminders)
	}
	if cfg.Parental.PIN != "1234" {
		t.Errorf("Expected default pin 1234, got %q", cfg.Parental.PIN)
	}
	friday := cfg.ScreenTime.WeeklyUsageTimes["friday"]
	if friday.Start != "14:00" || friday.End != "21:00" {
		t.Errorf("Expected friday window 14:00-21:00, got %s-%s", friday.Start, friday.End)
	}
	if cfg.Storage.Path != filepath.Join(dir, "usage.json") {
		t.Errorf("Expected env override for storage path, got %s", cfg.Storage.Path)
	}
}

func TestLoadOverridesAndKeepsOtherWeekdays(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
storage:
  path: `+filepath.Join(dir, "usage.json")+`
database:
  path: `+filepath.Join(dir, "calendar.db")+`
screentime:
  enabled: true
  allowed_time_mode: weekly
  weekly_allowed_minutes:
    saturday: 120
  usage_times_mode: weekly
  weekly_usage_times:
    monday:
      start: "15:00"
      end: "18:00"
    tuesday:
      start: "16:00"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if !cfg.ScreenTime.Enabled {
		t.Error("Expected screentime to be enabled")
	}
	if got := cfg.ScreenTime.WeeklyAllowedMinutes["saturday"]; got != 120 {
		t.Errorf("Expected saturday allowance 120, got %d", got)
	}
	if got := cfg.ScreenTime.WeeklyAllowedMinutes["sunday"]; got != 30 {
		t.Errorf("Expected sunday allowance to keep default 30, got %d", got)
	}
	monday := cfg.ScreenTime.WeeklyUsageTimes["monday"]
	if monday.Start != "15:00" || monday.End != "18:00" {
		t.Errorf("Expected monday window 15:00-18:00, got %s-%s", monday.Start, monday.End)
	}
	tuesday := cfg.ScreenTime.WeeklyUsageTimes["tuesday"]
	if tuesday.Start != "16:00" || tuesday.End != "20:00" {
		t.Errorf("Expected tuesday window 16:00-20:00, got %s-%s", tuesday.Start, tuesday.End)
	}
	saturday := cfg.ScreenTime.WeeklyUsageTimes["saturday"]
	if saturday.Start != "09:00" || saturday.End != "21:00" {
		t.Errorf("Expected saturday window to keep default 09:00-21:00, got %s-%s", saturday.Start, saturday.End)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := writeConfig(t, "screentime: [this is: not valid")

	if _, err := Load(path); err == nil {
		t.Fatal("Expected error for malformed config file")
	}

	cfg, err := LoadOrDefault(path)
	if err == nil {
		t.Fatal("Expected LoadOrDefault to report the load error")
	}
	if cfg == nil {
		t.Fatal("Expected default configuration")
	}
	if cfg.ScreenTime.DailyAllowedMinutes != 30 {
		t.Errorf("Expected default daily allowance 30, got %d", cfg.ScreenTime.DailyAllowedMinutes)
	}
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr bool
	}{
		{
			name:    "defaults",
			mutate:  func(cfg *Config) {},
			wantErr: false,
		},
		{
			name:    "bad api port",
			mutate:  func(cfg *Config) { cfg.Server.APIPort = 70000 },
			wantErr: true,
		},
		{
			name:    "unknown storage type",
			mutate:  func(cfg *Config) { cfg.Storage.Type = "mongo" },
			wantErr: true,
		},
		{
			name: "no pin",
			mutate: func(cfg *Config) {
				cfg.Parental.PIN = ""
				cfg.Parental.PINHash = ""
			},
			wantErr: true,
		},
		{
			name:    "bad location mode",
			mutate:  func(cfg *Config) { cfg.Weather.LocationMode = "gps" },
			wantErr: true,
		},
		{
			name:    "redis needs no path",
			mutate:  func(cfg *Config) { cfg.Storage.Type = "redis"; cfg.Storage.Path = "" },
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Storage.Path = filepath.Join(dir, "usage.json")
			cfg.Database.Path = filepath.Join(dir, "calendar.db")
			tt.mutate(cfg)

			err := validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidKeys(t *testing.T) {
	keys := ValidKeys()

	for _, key := range []string{
		"screentime.weekly_usage_times.monday.start",
		"screentime.weekly_allowed_minutes.sunday",
		"storage.redis.password",
		"parental.pin_hash",
	} {
		if !keys[key] {
			t.Errorf("Expected %s to be a valid key", key)
		}
	}

	if keys["screentime.weekly_usage_times.funday.start"] {
		t.Error("Expected misspelled weekday to be unknown")
	}
}

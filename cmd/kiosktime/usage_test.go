package main

import (
	"testing"

	"github.com/goodtune/kiosktime/internal/usage"
)

func TestPruneSummary(t *testing.T) {
	got := pruneSummary(usage.PruneResult{Cutoff: "2024-02-01", RecordsDeleted: 3, SessionsDeleted: 7})
	want := "Pruned records before 2024-02-01: 3 usage record(s), 7 session(s)"
	if got != want {
		t.Errorf("pruneSummary() = %q, want %q", got, want)
	}
}

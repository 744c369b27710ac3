package types

import (
	"testing"
	"time"
)

func TestTimestampsCreatedWithin(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		age  time.Duration
		want bool
	}{
		{"fresh", time.Minute, true},
		{"just inside", 10*time.Minute - time.Second, true},
		{"exactly at window", 10 * time.Minute, false},
		{"too old", 11 * time.Minute, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := NewTimestamps(now.Add(-tt.age))
			if got := ts.CreatedWithin(now, 10*time.Minute); got != tt.want {
				t.Errorf("CreatedWithin: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTimestampsSettledFor(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	guard := 5 * time.Second

	ts := NewTimestamps(now.Add(-time.Minute))
	if !ts.SettledFor(now, guard) {
		t.Error("never-updated row should qualify")
	}

	ts.Touch(now.Add(-2 * time.Second))
	if ts.SettledFor(now, guard) {
		t.Error("row touched 2s ago should not qualify with a 5s guard")
	}

	ts.Touch(now.Add(-6 * time.Second))
	if !ts.SettledFor(now, guard) {
		t.Error("row touched 6s ago should qualify with a 5s guard")
	}
}

func TestTimestampsAge(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ts := NewTimestamps(now.Add(-90 * time.Second))
	if got := ts.Age(now); got != 90*time.Second {
		t.Errorf("Age: got %v, want %v", got, 90*time.Second)
	}
}

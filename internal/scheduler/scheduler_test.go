package scheduler

import (
	"testing"
	"time"
)

func TestNextRun(t *testing.T) {
	now := time.Date(2026, 8, 26, 10, 30, 0, 0, time.UTC)

	next, err := NextRun("0 3 * * *", "UTC", now)
	if err != nil {
		t.Fatalf("NextRun: %v", err)
	}
	want := time.Date(2026, 8, 27, 3, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestNextRunStepExpression(t *testing.T) {
	now := time.Date(2026, 8, 26, 10, 7, 0, 0, time.UTC)
	next, err := NextRun("*/15 * * * *", "UTC", now)
	if err != nil {
		t.Fatalf("NextRun: %v", err)
	}
	if next.Minute() != 15 || next.Hour() != 10 {
		t.Fatalf("next = %v, want 10:15", next)
	}
}

func TestNextRunHonorsTimezone(t *testing.T) {
	now := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	next, err := NextRun("0 9 * * *", "America/New_York", now)
	if err != nil {
		t.Fatalf("NextRun: %v", err)
	}
	// 09:00 New York on 2026-08-26 (EDT, UTC-4) is 13:00 UTC.
	want := time.Date(2026, 8, 26, 13, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %v (%v UTC), want %v", next, next.UTC(), want)
	}
}

func TestNextRunRejectsBadInput(t *testing.T) {
	now := time.Now()
	if _, err := NextRun("not a cron", "UTC", now); err == nil {
		t.Fatal("bad expression accepted")
	}
	if _, err := NextRun("* * * * *", "Neverland/Nowhere", now); err == nil {
		t.Fatal("bad timezone accepted")
	}
}

func TestValidateExpression(t *testing.T) {
	valid := []string{"0 3 * * *", "*/5 * * * *", "0 0 1,15 * *", "30 2 * * 1-5"}
	for _, expr := range valid {
		if err := ValidateExpression(expr); err != nil {
			t.Fatalf("ValidateExpression(%q): %v", expr, err)
		}
	}
	invalid := []string{"", "61 * * * *", "* * * *", "daily"}
	for _, expr := range invalid {
		if err := ValidateExpression(expr); err == nil {
			t.Fatalf("ValidateExpression(%q) accepted", expr)
		}
	}
}

func TestIdempotencyKeyBucketsByFiring(t *testing.T) {
	firing := time.Date(2026, 8, 26, 3, 0, 0, 0, time.UTC)

	key := IdempotencyKey(42, firing)
	if key != "cron-42-2026-08-26T03:00:00Z" {
		t.Fatalf("key = %q", key)
	}

	// Replicas evaluating the same firing in different zones agree.
	if IdempotencyKey(42, firing.In(time.FixedZone("X", 3600))) != key {
		t.Fatal("key should be zone independent")
	}

	// Separate firings on the same day must not collapse.
	later := firing.Add(12 * time.Hour)
	if IdempotencyKey(42, later) == key {
		t.Fatal("distinct firings should produce distinct keys")
	}
}

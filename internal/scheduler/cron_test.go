package scheduler

import (
	"testing"
	"time"

	"github.com/shaiso/Modelflow/internal/domain"
)

func TestCalculateNextDue_Cron(t *testing.T) {
	sched := &domain.Schedule{
		CronExpr: "0 3 * * 0", // каждое воскресенье в 3:00
		Timezone: "UTC",
	}

	// Понедельник 2026-08-17 12:00 UTC
	from := time.Date(2026, 8, 17, 12, 0, 0, 0, time.UTC)

	next, err := CalculateNextDue(sched, from)
	if err != nil {
		t.Fatalf("CalculateNextDue() error: %v", err)
	}

	want := time.Date(2026, 8, 23, 3, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestCalculateNextDue_Interval(t *testing.T) {
	sched := &domain.Schedule{
		IntervalSec: 3600,
		Timezone:    "UTC",
	}

	from := time.Date(2026, 8, 17, 12, 0, 0, 0, time.UTC)

	next, err := CalculateNextDue(sched, from)
	if err != nil {
		t.Fatalf("CalculateNextDue() error: %v", err)
	}

	want := from.Add(time.Hour)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestCalculateNextDue_CronTakesPrecedence(t *testing.T) {
	sched := &domain.Schedule{
		CronExpr:    "0 0 * * *",
		IntervalSec: 60,
		Timezone:    "UTC",
	}

	from := time.Date(2026, 8, 17, 12, 0, 0, 0, time.UTC)

	next, err := CalculateNextDue(sched, from)
	if err != nil {
		t.Fatalf("CalculateNextDue() error: %v", err)
	}

	want := time.Date(2026, 8, 18, 0, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want midnight via cron, got interval?", next)
	}
}

func TestCalculateNextDue_InvalidTimezoneFallsBackToUTC(t *testing.T) {
	sched := &domain.Schedule{
		IntervalSec: 60,
		Timezone:    "Mars/Olympus",
	}

	from := time.Date(2026, 8, 17, 12, 0, 0, 0, time.UTC)

	next, err := CalculateNextDue(sched, from)
	if err != nil {
		t.Fatalf("CalculateNextDue() error: %v", err)
	}
	if !next.Equal(from.Add(time.Minute)) {
		t.Errorf("next = %v, want %v", next, from.Add(time.Minute))
	}
}

func TestCalculateNextDue_NeitherCronNorInterval(t *testing.T) {
	sched := &domain.Schedule{Timezone: "UTC"}

	if _, err := CalculateNextDue(sched, time.Now()); err == nil {
		t.Fatal("CalculateNextDue() error = nil, want error")
	}
}

func TestValidateCronExpr(t *testing.T) {
	if err := ValidateCronExpr("0 3 * * 0"); err != nil {
		t.Errorf("ValidateCronExpr(valid) error: %v", err)
	}
	if err := ValidateCronExpr("not a cron"); err == nil {
		t.Error("ValidateCronExpr(invalid) error = nil, want error")
	}
}

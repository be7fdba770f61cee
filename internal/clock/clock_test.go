package clock

import (
	"testing"
	"time"

	logx "dailycast/pkg/logx"
)

func TestAtResolvesConfiguredZone(t *testing.T) {
	t.Parallel()
	r := NewResolver("Asia/Tokyo", logx.Nop())

	// 2025-03-09 23:30 UTC is already 2025-03-10 08:30 in Tokyo.
	utc := time.Date(2025, 3, 9, 23, 30, 15, 0, time.UTC)
	z := r.At(utc)

	if z.DateStr != "2025-03-10" {
		t.Fatalf("DateStr = %q, want 2025-03-10", z.DateStr)
	}
	if z.TimeStr != "08:30:15" {
		t.Fatalf("TimeStr = %q, want 08:30:15", z.TimeStr)
	}
	if z.Hour != 8 || z.Minute != 30 || z.Second != 15 {
		t.Fatalf("unexpected fields: %+v", z)
	}
	if z.MinuteOfDay() != 8*60+30 {
		t.Fatalf("MinuteOfDay = %d", z.MinuteOfDay())
	}
}

func TestDateStrStableWithinDay(t *testing.T) {
	t.Parallel()
	r := NewResolver("America/New_York", logx.Nop())

	base := time.Date(2025, 7, 1, 4, 0, 0, 0, time.UTC) // 2025-07-01 00:00 EDT
	first := r.At(base).DateStr
	for m := 1; m < 24*60; m += 137 {
		got := r.At(base.Add(time.Duration(m) * time.Minute)).DateStr
		if got != first {
			t.Fatalf("DateStr changed within zoned day at +%dm: %q vs %q", m, got, first)
		}
	}
	next := r.At(base.Add(24 * time.Hour)).DateStr
	if next == first {
		t.Fatalf("DateStr did not roll over after 24h")
	}
}

func TestInvalidZoneFallsBack(t *testing.T) {
	t.Parallel()
	r := NewResolver("Not/AZone", logx.Nop())
	if r.Zone() != DefaultZone && r.Zone() != "UTC" {
		t.Fatalf("Zone = %q, want fallback", r.Zone())
	}
	// Must still resolve without panicking.
	_ = r.Now()
}

func TestEmptyZoneUsesDefault(t *testing.T) {
	t.Parallel()
	r := NewResolver("  ", logx.Nop())
	if r.Zone() != DefaultZone && r.Zone() != "UTC" {
		t.Fatalf("Zone = %q, want %q", r.Zone(), DefaultZone)
	}
}

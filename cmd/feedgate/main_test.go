package main

import (
	"testing"
	"time"
)

func TestParseDayRange(t *testing.T) {
	day := func(s string) time.Time {
		d, err := time.ParseInLocation("20060102", s, time.UTC)
		if err != nil {
			t.Fatal(err)
		}
		return d
	}

	t.Run("explicit range", func(t *testing.T) {
		start, end, err := parseDayRange("20260820", "20260822")
		if err != nil {
			t.Fatal(err)
		}
		if !start.Equal(day("20260820")) || !end.Equal(day("20260822")) {
			t.Errorf("parseDayRange() = %v, %v", start, end)
		}
	})

	t.Run("missing end defaults to start", func(t *testing.T) {
		start, end, err := parseDayRange("20260820", "")
		if err != nil {
			t.Fatal(err)
		}
		if !end.Equal(start) {
			t.Errorf("end = %v, want %v", end, start)
		}
	})

	t.Run("missing start defaults to today", func(t *testing.T) {
		start, _, err := parseDayRange("", "")
		if err != nil {
			t.Fatal(err)
		}
		today := time.Now().UTC().Truncate(24 * time.Hour)
		if !start.Equal(today) {
			t.Errorf("start = %v, want %v", start, today)
		}
	})

	t.Run("rejects inverted range", func(t *testing.T) {
		if _, _, err := parseDayRange("20260822", "20260820"); err == nil {
			t.Error("parseDayRange() accepted end before start")
		}
	})

	t.Run("rejects malformed day", func(t *testing.T) {
		if _, _, err := parseDayRange("2026-08-20", ""); err == nil {
			t.Error("parseDayRange() accepted dashed date")
		}
	})
}

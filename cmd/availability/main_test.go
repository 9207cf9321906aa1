package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/example/parish-portal/internal/config"
	"github.com/example/parish-portal/internal/recurrence"
)

const sundayMass = `[{
	"id": "sch-1",
	"start_date": "2025-01-01",
	"slot_capacity": 10,
	"remaining_slots": 10,
	"recurrences": [{"type": "weekly", "day_of_week": 0}],
	"time_ranges": [{"start_time": "09:00", "end_time": "10:00"}, {"start_time": "07:00", "end_time": "08:00"}]
}]`

func scheduleServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/schedules" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(url string) config.Config {
	return config.Config{APIURL: url, APIToken: "token", HTTPTimeout: time.Second, Location: time.UTC}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRun_RendersMonth(t *testing.T) {
	srv := scheduleServer(t, sundayMass)

	var out strings.Builder
	opts := options{year: 2025, month: time.March}
	if err := run(context.Background(), testConfig(srv.URL), opts, &out, quietLogger()); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	got := out.String()
	if !strings.HasPrefix(got, "March 2025\n") {
		t.Fatalf("expected month header, got:\n%s", got)
	}
	for _, day := range []string{"[ 2]", "[ 9]", "[16]", "[23]", "[30]"} {
		if !strings.Contains(got, day) {
			t.Errorf("expected Sunday %s to be available, got:\n%s", day, got)
		}
	}
	if strings.Contains(got, "[ 3]") || strings.Contains(got, "[ 1]") {
		t.Errorf("only Sundays should be available, got:\n%s", got)
	}
	if strings.Contains(got, "09:00-10:00") {
		t.Errorf("slots must not be listed without -slots")
	}
}

func TestRun_CutoffAndSlots(t *testing.T) {
	srv := scheduleServer(t, sundayMass)

	cutoff := recurrence.NewDate(2025, time.March, 16)
	var out strings.Builder
	opts := options{year: 2025, month: time.March, cutoff: &cutoff, slots: true}
	if err := run(context.Background(), testConfig(srv.URL), opts, &out, quietLogger()); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	got := out.String()
	if strings.Contains(got, "[16]") || strings.Contains(got, "[23]") {
		t.Errorf("dates on or after the cutoff must be excluded, got:\n%s", got)
	}
	want := "2025-03-02  07:00-08:00  sch-1\n2025-03-02  09:00-10:00  sch-1\n2025-03-09  07:00-08:00  sch-1\n2025-03-09  09:00-10:00  sch-1\n"
	if !strings.HasSuffix(got, want) {
		t.Errorf("unexpected slots, got:\n%s", got)
	}
}

func TestRun_NoSchedulesFailsOpen(t *testing.T) {
	srv := scheduleServer(t, `[]`)

	var out strings.Builder
	opts := options{year: 2025, month: time.February}
	if err := run(context.Background(), testConfig(srv.URL), opts, &out, quietLogger()); err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if got := strings.Count(out.String(), "["); got != 28 {
		t.Fatalf("expected all 28 days available, got %d:\n%s", got, out.String())
	}
}

func TestRun_RejectedToken(t *testing.T) {
	srv := scheduleServer(t, sundayMass)
	cfg := testConfig(srv.URL)
	cfg.APIToken = "wrong"

	err := run(context.Background(), cfg, options{year: 2025, month: time.March}, io.Discard, quietLogger())
	if err == nil || !strings.Contains(err.Error(), "PARISH_API_TOKEN") {
		t.Fatalf("expected a token hint, got %v", err)
	}
}

func TestParseFlags(t *testing.T) {
	now := time.Date(2025, time.March, 2, 9, 0, 0, 0, time.UTC)

	t.Run("defaults to the current month", func(t *testing.T) {
		opts, err := parseFlags(nil, now)
		if err != nil {
			t.Fatalf("parseFlags returned error: %v", err)
		}
		if opts.year != 2025 || opts.month != time.March || opts.cutoff != nil || opts.slots {
			t.Fatalf("unexpected options %+v", opts)
		}
	})

	t.Run("parses every flag", func(t *testing.T) {
		opts, err := parseFlags([]string{"-month", "2025-12", "-before", "2025-12-25", "-slots"}, now)
		if err != nil {
			t.Fatalf("parseFlags returned error: %v", err)
		}
		if opts.month != time.December || opts.cutoff == nil || opts.cutoff.Day != 25 || !opts.slots {
			t.Fatalf("unexpected options %+v", opts)
		}
	})

	t.Run("rejects bad values", func(t *testing.T) {
		for _, args := range [][]string{{"-month", "March"}, {"-before", "25/12/2025"}} {
			if _, err := parseFlags(args, now); err == nil {
				t.Fatalf("expected error for %v", args)
			}
		}
	})
}

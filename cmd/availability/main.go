// Command availability prints which days of a month the church schedules
// admit, as a calendar grid followed by the bookable slots.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/example/parish-portal/internal/client"
	"github.com/example/parish-portal/internal/config"
	"github.com/example/parish-portal/internal/recurrence"
)

type options struct {
	year   int
	month  time.Month
	cutoff *recurrence.Date
	slots  bool
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if err := config.LoadDotEnv(); err != nil {
		logger.Error("failed to read .env", "error", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	opts, err := parseFlags(os.Args[1:], time.Now().In(cfg.Location))
	if err != nil {
		logger.Error("invalid arguments", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, os.Stdout, logger); err != nil {
		logger.Error("availability failed", "error", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, now time.Time) (options, error) {
	fs := flag.NewFlagSet("availability", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	month := fs.String("month", now.Format("2006-01"), "month to show, as YYYY-MM")
	cutoff := fs.String("before", "", "only show dates strictly before this YYYY-MM-DD")
	slots := fs.Bool("slots", false, "list the time slots of every available date")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	parsed, err := time.Parse("2006-01", *month)
	if err != nil {
		return options{}, fmt.Errorf("invalid -month %q", *month)
	}
	opts := options{year: parsed.Year(), month: parsed.Month(), slots: *slots}
	if strings.TrimSpace(*cutoff) != "" {
		date, err := recurrence.ParseDate(*cutoff)
		if err != nil {
			return options{}, fmt.Errorf("invalid -before %q", *cutoff)
		}
		opts.cutoff = &date
	}
	return opts, nil
}

func run(ctx context.Context, cfg config.Config, opts options, out io.Writer, logger *slog.Logger) error {
	api, err := client.New(cfg.APIURL,
		client.WithToken(cfg.APIToken),
		client.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
		client.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	schedules, err := api.ListSchedules(ctx)
	if err != nil {
		if errors.Is(err, client.ErrUnauthorized) {
			return fmt.Errorf("the token was rejected, check PARISH_API_TOKEN: %w", err)
		}
		return err
	}

	matcher := recurrence.NewMatcher(cfg.Location)
	available := matcher.MonthAvailability(schedules, opts.year, opts.month, recurrence.Options{Cutoff: opts.cutoff})
	renderMonth(out, opts.year, opts.month, available)

	if !opts.slots || len(available) == 0 {
		return nil
	}
	first, last := available[0], available[len(available)-1]
	for _, schedule := range schedules {
		occurrences, err := matcher.GenerateOccurrences(schedule, first, last)
		if err != nil {
			logger.Warn("skipping schedule with unusable time ranges", "schedule_id", schedule.ID, "error", err)
			continue
		}
		for _, occ := range occurrences {
			if opts.cutoff != nil && !occ.Date.Before(*opts.cutoff) {
				continue
			}
			fmt.Fprintf(out, "%s  %s-%s  %s\n", occ.Date, occ.Start.Format("15:04"), occ.End.Format("15:04"), occ.ScheduleID)
		}
	}
	return nil
}

// renderMonth prints a Sunday-first grid; admitted days are bracketed.
func renderMonth(out io.Writer, year int, month time.Month, available []recurrence.Date) {
	open := make(map[int]bool, len(available))
	for _, d := range available {
		open[d.Day] = true
	}

	first := recurrence.NewDate(year, month, 1)
	fmt.Fprintf(out, "%s %d\n", month, year)
	fmt.Fprintln(out, " Su   Mo   Tu   We   Th   Fr   Sa")

	var line strings.Builder
	line.WriteString(strings.Repeat("     ", int(first.Weekday())))
	for day := 1; day <= first.DaysInMonth(); day++ {
		if open[day] {
			fmt.Fprintf(&line, "[%2d] ", day)
		} else {
			fmt.Fprintf(&line, " %2d  ", day)
		}
		if recurrence.NewDate(year, month, day).Weekday() == time.Saturday {
			fmt.Fprintln(out, strings.TrimRight(line.String(), " "))
			line.Reset()
		}
	}
	if line.Len() > 0 {
		fmt.Fprintln(out, strings.TrimRight(line.String(), " "))
	}
}

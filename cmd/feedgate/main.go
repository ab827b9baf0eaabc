// Command feedgate retrieves daily market data through a shared admission
// chain: quota, rate limits, circuit breakers, retries, and recovery.
//
// Usage:
//
//	feedgate [--config feedgate.yaml] <command>
//
// Commands:
//
//	fetch       download daily bars for the configured instruments
//	serve       run the health and metrics endpoint
//	quota       status | allocate | reset
//	resilience  status | health | reset | recovery
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/feedgate/feedgate/config"
	"github.com/feedgate/feedgate/feed"
	"github.com/feedgate/feedgate/health"
	"github.com/feedgate/feedgate/quota"
	"github.com/feedgate/feedgate/resilience"
)

const usage = `usage: feedgate [--config path] <command>

commands:
  fetch       [--symbols ES,NQ] [--start YYYYMMDD] [--end YYYYMMDD]
  serve
  quota       status [--environment NAME] [--watch] [--interval 5s]
              allocate --environment NAME --amount N
              reset
  resilience  status | health | reset | recovery
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	global := flag.NewFlagSet("feedgate", flag.ContinueOnError)
	global.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	configPath := global.String("config", getenv("FEEDGATE_CONFIG", "feedgate.yaml"), "path to the configuration file")
	if err := global.Parse(args); err != nil {
		return 2
	}
	rest := global.Args()
	if len(rest) == 0 {
		global.Usage()
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "feedgate:", err)
		return 1
	}

	a, err := buildApp(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "feedgate:", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.shutdown(shutdownCtx); err != nil {
			fmt.Fprintln(os.Stderr, "feedgate: shutdown:", err)
		}
	}()

	switch rest[0] {
	case "fetch":
		return cmdFetch(ctx, a, rest[1:])
	case "serve":
		return cmdServe(ctx, a)
	case "quota":
		return cmdQuota(ctx, a, rest[1:])
	case "resilience":
		return cmdResilience(ctx, a, rest[1:])
	default:
		fmt.Fprintf(os.Stderr, "feedgate: unknown command %q\n\n%s", rest[0], usage)
		return 2
	}
}

func cmdFetch(ctx context.Context, a *app, args []string) int {
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	symbols := fs.String("symbols", "", "comma-separated symbols, defaults to the configured instruments")
	startStr := fs.String("start", "", "start day YYYYMMDD, defaults to today")
	endStr := fs.String("end", "", "end day YYYYMMDD, defaults to start")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	instruments := a.cfg.Download.Instruments
	if *symbols != "" {
		instruments = nil
		for _, s := range strings.Split(*symbols, ",") {
			if s = strings.TrimSpace(s); s != "" {
				instruments = append(instruments, feed.Instrument{Symbol: s})
			}
		}
	}
	if len(instruments) == 0 {
		fmt.Fprintln(os.Stderr, "feedgate: no instruments to fetch; pass --symbols or configure download.instruments")
		return 2
	}

	start, end, err := parseDayRange(*startStr, *endStr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "feedgate:", err)
		return 2
	}

	results, err := a.downloader.Run(ctx, feed.DownloadRequest{
		Instruments: instruments,
		Start:       start,
		End:         end,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "feedgate: fetch aborted:", err)
		return 1
	}

	failed := 0
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SYMBOL\tBARS\tSTATUS")
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Fprintf(w, "%s\t%d\terror: %v\n", r.Symbol, len(r.Bars), r.Err)
			continue
		}
		fmt.Fprintf(w, "%s\t%d\tok\n", r.Symbol, len(r.Bars))
	}
	w.Flush()

	if failed > 0 {
		fmt.Fprintf(os.Stderr, "feedgate: %d of %d instruments failed\n", failed, len(results))
		return 1
	}
	return 0
}

func cmdServe(ctx context.Context, a *app) int {
	if err := a.serveHealth(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "feedgate:", err)
		return 1
	}
	return 0
}

func cmdQuota(ctx context.Context, a *app, args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	switch args[0] {
	case "status":
		return cmdQuotaStatus(ctx, a, args[1:])
	case "allocate":
		return cmdQuotaAllocate(ctx, a, args[1:])
	case "reset":
		if err := a.quota.Reset(ctx); err != nil {
			fmt.Fprintln(os.Stderr, "feedgate:", err)
			return 1
		}
		fmt.Println("quota counters reset for today")
		return 0
	default:
		fmt.Fprintf(os.Stderr, "feedgate: unknown quota subcommand %q\n", args[0])
		return 2
	}
}

func cmdQuotaStatus(ctx context.Context, a *app, args []string) int {
	fs := flag.NewFlagSet("quota status", flag.ContinueOnError)
	environment := fs.String("environment", "", "show a single environment")
	watch := fs.Bool("watch", false, "refresh continuously until interrupted")
	interval := fs.Duration("interval", 5*time.Second, "refresh interval with --watch")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	for {
		if code := printQuotaStatus(ctx, a, *environment); code != 0 || !*watch {
			return code
		}
		select {
		case <-ctx.Done():
			return 0
		case <-time.After(*interval):
		}
		fmt.Println()
	}
}

func printQuotaStatus(ctx context.Context, a *app, environment string) int {
	global, err := a.quota.GlobalStatus(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "feedgate:", err)
		return 1
	}

	var statuses []quota.EnvironmentStatus
	if environment != "" {
		st, err := a.quota.UsageStatus(ctx, environment)
		if err != nil {
			fmt.Fprintln(os.Stderr, "feedgate:", err)
			return 1
		}
		statuses = []quota.EnvironmentStatus{st}
	} else {
		statuses, err = a.quota.Statuses(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, "feedgate:", err)
			return 1
		}
	}

	fmt.Printf("day %s  global %d/%d used, %d available\n",
		quota.Day(time.Now()), global.Used, global.TotalDailyLimit, global.Available)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ENVIRONMENT\tPRIORITY\tALLOCATED\tUSED\tAVAILABLE")
	for _, st := range statuses {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n",
			st.Environment, st.Priority, st.Allocated, st.Used, st.Available)
	}
	w.Flush()

	if global.Available <= 0 {
		fmt.Fprintln(os.Stderr, "feedgate: daily quota exhausted")
		return 1
	}
	return 0
}

func cmdQuotaAllocate(ctx context.Context, a *app, args []string) int {
	fs := flag.NewFlagSet("quota allocate", flag.ContinueOnError)
	environment := fs.String("environment", "", "environment to adjust")
	amount := fs.Int64("amount", -1, "new allocation for the environment")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *environment == "" || *amount < 0 {
		fmt.Fprintln(os.Stderr, "feedgate: quota allocate requires --environment and --amount")
		return 2
	}

	if err := a.quota.Allocate(ctx, *environment, *amount); err != nil {
		fmt.Fprintln(os.Stderr, "feedgate:", err)
		return 1
	}
	fmt.Printf("allocation for %s set to %d for today\n", *environment, *amount)
	return 0
}

func cmdResilience(ctx context.Context, a *app, args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	switch args[0] {
	case "status":
		statuses := a.breakers.Statuses()
		if len(statuses) == 0 {
			fmt.Println("no circuit breakers created yet")
			return 0
		}
		open := 0
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CIRCUIT\tSTATE\tFAILURES\tCALLS\tRETRY AFTER")
		for _, st := range statuses {
			if st.State == resilience.StateOpen {
				open++
			}
			retryAfter := "-"
			if st.RetryAfter > 0 {
				retryAfter = st.RetryAfter.Round(time.Second).String()
			}
			fmt.Fprintf(w, "%s\t%s\t%d/%d\t%d\t%s\n",
				st.Name, st.State, st.WindowFailures, st.FailureThreshold, st.WindowCalls, retryAfter)
		}
		w.Flush()
		if open > 0 {
			fmt.Fprintf(os.Stderr, "feedgate: %d circuit(s) open\n", open)
			return 1
		}
		return 0

	case "health":
		results := a.health.CheckAll(ctx)
		overall := health.OverallStatus(results)
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CHECK\tSTATUS\tMESSAGE")
		for name, r := range results {
			fmt.Fprintf(w, "%s\t%s\t%s\n", name, r.Status, r.Message)
		}
		w.Flush()
		fmt.Println("overall:", overall)
		if overall == health.StatusUnhealthy {
			return 1
		}
		return 0

	case "reset":
		a.breakers.Reset()
		fmt.Println("all circuit breakers reset to closed")
		return 0

	case "recovery":
		fmt.Println("recovery strategies, in order:")
		for i, s := range a.recovery.Strategies() {
			fmt.Printf("  %d. %s\n", i+1, s)
		}
		return 0

	default:
		fmt.Fprintf(os.Stderr, "feedgate: unknown resilience subcommand %q\n", args[0])
		return 2
	}
}

// parseDayRange resolves the fetch window. Missing start means today;
// missing end means a single-day window.
func parseDayRange(startStr, endStr string) (time.Time, time.Time, error) {
	today := time.Now().UTC().Truncate(24 * time.Hour)

	start := today
	if startStr != "" {
		var err error
		start, err = time.ParseInLocation("20060102", startStr, time.UTC)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --start %q, want YYYYMMDD", startStr)
		}
	}
	end := start
	if endStr != "" {
		var err error
		end, err = time.ParseInLocation("20060102", endStr, time.UTC)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --end %q, want YYYYMMDD", endStr)
		}
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, errors.New("--end is before --start")
	}
	return start, end, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

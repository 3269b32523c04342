package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"warble/internal/analytics"
	"warble/internal/cmdlog"
	"warble/internal/config"
	"warble/internal/engine"
	"warble/internal/logging"
	"warble/internal/metrics"
	"warble/internal/model"
	"warble/internal/policy"
	"warble/internal/state"
	"warble/internal/suggest"
	"warble/internal/targets"
	"warble/internal/theme"
	"warble/internal/window"
	"warble/internal/xclient"
)

func main() {
	cmd := ""
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}
	var err error
	switch cmd {
	case "init":
		err = cmdlog.Run("init", cmdInit)
	case "run":
		err = cmdlog.Run("run", cmdRun)
	case "status":
		err = cmdlog.Run("status", cmdStatus)
	case "prune":
		err = cmdlog.Run("prune", cmdPrune)
	default:
		printHelp()
		return
	}
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func printHelp() {
	theme.PrintBanner()
	fmt.Println("Usage: warble <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  init     Create a config file at ./warble.yaml")
	fmt.Println("  run      Start the engagement scheduler")
	fmt.Println("  status   Show quota usage and per-target progress")
	fmt.Println("  prune    Drop counters for long-closed windows")
}

func cmdInit() error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	path := fs.String("path", "./warble.yaml", "path to write config")
	_ = fs.Parse(os.Args[2:])
	if err := config.Save(*path, config.Default()); err != nil {
		return err
	}
	abs, _ := filepath.Abs(*path)
	theme.PrintBanner()
	fmt.Println("Config written to:", abs)
	fmt.Println("Add target handles, then set API_KEY, API_SECRET, ACCESS_TOKEN, ACCESS_SECRET and OPENAI_API_KEY.")
	return nil
}

func cmdRun() error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "./warble.yaml", "config path")
	_ = fs.Parse(os.Args[2:])
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	if err := cfg.ValidateCredentials(); err != nil {
		return err
	}
	logging.Init(cfg.Debug)
	defer logging.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer st.Close()

	metrics.StartServer(cfg.MetricsAddr)

	client := xclient.NewV1Client(xclient.Credentials{
		ConsumerKey:    cfg.Credentials.APIKey,
		ConsumerSecret: cfg.Credentials.APISecret,
		AccessToken:    cfg.Credentials.AccessToken,
		AccessSecret:   cfg.Credentials.AccessSecret,
	})
	drafter := suggest.NewOpenAIDrafter(cfg.LLM.APIKey, suggest.Options{
		Model:        cfg.LLM.Model,
		SystemPrompt: cfg.LLM.SystemPrompt,
		MaxTokens:    cfg.LLM.MaxTokens,
		Temperature:  cfg.LLM.Temperature,
	})
	pol := policy.New(limitsFrom(cfg.Quota), st)
	sel := targets.New(st, cfg.Targets, cfg.Engagement.TweetsPerUserPerCycle, time.Duration(cfg.Engagement.MaxCycleDuration))

	theme.PrintBanner()
	eng := engine.New(cfg, client, drafter, st, pol, sel)
	if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func cmdStatus() error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	cfgPath := fs.String("config", "./warble.yaml", "config path")
	_ = fs.Parse(os.Args[2:])
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	ctx := context.Background()
	st, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer st.Close()

	now := time.Now().UTC()
	snap := st.Snapshot()
	theme.PrintBanner()
	if snap.Cycle.ID == "" {
		fmt.Println("Cycle: none yet")
	} else {
		fmt.Printf("Cycle: %s (started %s)\n", snap.Cycle.ID, snap.Cycle.StartedAt.Format(time.RFC3339))
	}
	if !snap.SavedAt.IsZero() {
		fmt.Printf("Last saved: %s\n", snap.SavedAt.Format(time.RFC3339))
	}
	fmt.Printf("Replies: %d/%d today, %d/%d this quarter hour\n",
		st.Count(model.ActionReply, window.At(window.Daily, now)), cfg.Quota.DailyReplyGoal,
		st.Count(model.ActionReply, window.At(window.FifteenMinute, now)), cfg.Quota.Per15MinReplyLimit)
	fmt.Printf("Likes:   %d/%d today, %d/%d this quarter hour\n",
		st.Count(model.ActionLike, window.At(window.Daily, now)), cfg.Quota.DailyLikeGoal,
		st.Count(model.ActionLike, window.At(window.FifteenMinute, now)), cfg.Quota.Per15MinLikeLimit)
	pol := policy.New(limitsFrom(cfg.Quota), st)
	fmt.Printf("Permitted now: %d replies, %d likes (quarter hour rolls over in %s)\n",
		pol.Remaining(model.ActionReply, now), pol.Remaining(model.ActionLike, now),
		window.UntilRollover(window.FifteenMinute, now).Round(time.Second))
	fmt.Println("Targets:")
	for _, h := range cfg.Targets {
		t := snap.Targets[h]
		if t == nil {
			fmt.Printf("  @%-20s no activity yet\n", h)
			continue
		}
		last := t.LastSeenPostID
		if last == "" {
			last = "-"
		}
		fmt.Printf("  @%-20s cycle actions: %d  last seen post: %s\n", h, t.ActionsThisCycle, last)
	}
	if rows := analytics.WindowUsage(snap); len(rows) > 0 {
		fmt.Println("Recent windows:")
		for _, r := range rows {
			fmt.Printf("  %-6s %s  replies=%d likes=%d\n", r.Kind, r.Start.Format("2006-01-02 15:04"), r.Replies, r.Likes)
		}
	}
	return nil
}

func cmdPrune() error {
	fs := flag.NewFlagSet("prune", flag.ExitOnError)
	cfgPath := fs.String("config", "./warble.yaml", "config path")
	grace := fs.Int64("grace", 2, "window lengths to keep after close")
	_ = fs.Parse(os.Args[2:])
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	ctx := context.Background()
	st, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer st.Close()

	pruned := st.PruneExpired(time.Now().UTC(), *grace)
	if pruned > 0 {
		if err := st.Save(ctx); err != nil {
			return err
		}
	}
	fmt.Printf("Pruned %d expired counters\n", pruned)
	return nil
}

func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func limitsFrom(q config.QuotaConfig) policy.Limits {
	return policy.Limits{
		DailyReplies: q.DailyReplyGoal,
		DailyLikes:   q.DailyLikeGoal,
		Per15Replies: q.Per15MinReplyLimit,
		Per15Likes:   q.Per15MinLikeLimit,
	}
}

func openStore(ctx context.Context, sc config.StorageConfig) (*state.Store, error) {
	backend, err := openBackend(sc)
	if err != nil {
		return nil, err
	}
	st, err := state.Open(ctx, backend)
	if err != nil {
		if errors.Is(err, state.ErrCorruptState) {
			return nil, errors.WithMessage(err, "refusing to start with unreadable state; inspect or move the state file, never delete it blindly")
		}
		return nil, err
	}
	return st, nil
}

func openBackend(sc config.StorageConfig) (state.Backend, error) {
	switch sc.Driver {
	case "json":
		return state.NewJSONFileBackend(sc.Path)
	case "sqlite":
		return state.NewSQLiteBackend(sc.Path)
	case "redis":
		return state.NewRedisBackend(sc.RedisAddr, sc.RedisPassword, sc.RedisDB)
	case "memory":
		return state.NewMemoryBackend(), nil
	default:
		return nil, errors.Errorf("unknown storage driver %q", sc.Driver)
	}
}

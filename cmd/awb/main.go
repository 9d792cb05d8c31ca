package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LZ58840/AnimewallpaperBot/automod/consumer"
	"github.com/LZ58840/AnimewallpaperBot/automod/visual"
	"github.com/LZ58840/AnimewallpaperBot/util/cliutil"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "awb",
		Usage:   "moderation daemon for anime wallpaper communities",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Value:   "sqlite://data/awb/awb.db",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-metadb-connections",
			EnvVars: []string{"MAX_METADB_CONNECTIONS"},
			Value:   40,
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis connection, for the submission queue and shared counters; in-process state is used if not set",
			EnvVars: []string{"AWB_REDIS_URL", "REDIS_URL"},
		},
		&cli.StringFlag{
			Name:    "reddit-client-id",
			EnvVars: []string{"AWB_REDDIT_CLIENT_ID"},
		},
		&cli.StringFlag{
			Name:    "reddit-client-secret",
			EnvVars: []string{"AWB_REDDIT_CLIENT_SECRET"},
		},
		&cli.StringFlag{
			Name:    "reddit-refresh-token",
			Usage:   "OAuth refresh token of the bot account",
			EnvVars: []string{"AWB_REDDIT_REFRESH_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "reddit-user-agent",
			Value:   "AnimewallpaperBot/" + versioninfo.Short(),
			EnvVars: []string{"AWB_REDDIT_USER_AGENT"},
		},
		&cli.Float64Flag{
			Name:    "reddit-rate-limit",
			Usage:   "max reddit API requests per second",
			Value:   100.0 / 60.0,
			EnvVars: []string{"AWB_REDDIT_RATE_LIMIT"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			EnvVars: []string{"AWB_LOG_LEVEL", "LOG_LEVEL"},
		},
	}

	app.Commands = []*cli.Command{
		runCmd,
		scheduleCmd,
		refreshSettingsCmd,
		addSubredditCmd,
		similarityCmd,
	}

	return app.Run(args)
}

func configLogger(cctx *cli.Context) (*slog.Logger, error) {
	return cliutil.SetupSlog(cliutil.LogOptions{
		LogLevel: cctx.String("log-level"),
	})
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the moderation consumer",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":3998",
			EnvVars: []string{"AWB_METRICS_LISTEN"},
		},
		&cli.IntFlag{
			Name:    "max-inflight",
			Usage:   "max submissions moderated concurrently",
			Value:   consumer.DefaultMaxInflight,
			EnvVars: []string{"AWB_MAX_INFLIGHT"},
		},
		&cli.IntFlag{
			Name:    "similarity-workers",
			Usage:   "max duplicate detection jobs run concurrently",
			Value:   4,
			EnvVars: []string{"AWB_SIMILARITY_WORKERS"},
		},
		&cli.DurationFlag{
			Name:    "poll-interval",
			Usage:   "how often long-running rules re-check the submission and the removal latch",
			Value:   5 * time.Second,
			EnvVars: []string{"AWB_POLL_INTERVAL"},
		},
		&cli.IntFlag{
			Name:    "removal-quota-day",
			Usage:   "max removals per community per day; 0 disables the limit",
			EnvVars: []string{"AWB_REMOVAL_QUOTA_DAY"},
		},
		&cli.BoolFlag{
			Name:    "schedule",
			Usage:   "also run the scheduler in this process (implied when redis is not configured)",
			EnvVars: []string{"AWB_SCHEDULE"},
		},
		&cli.StringFlag{
			Name:    "slack-webhook-url",
			Usage:   "full URL of slack webhook",
			EnvVars: []string{"SLACK_WEBHOOK_URL"},
		},
		&cli.StringFlag{
			Name:    "discord-webhook-url",
			Usage:   "full URL of discord webhook",
			EnvVars: []string{"DISCORD_WEBHOOK_URL"},
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx, cancel := signalContext()
		defer cancel()
		logger, err := configLogger(cctx)
		if err != nil {
			return err
		}

		shutdown := configOTEL(ctx, "awb")
		defer shutdown()

		srv, err := NewServer(ctx, configFromCLI(cctx, logger))
		if err != nil {
			return err
		}
		defer srv.Close()

		go func() {
			if err := srv.RunMetrics(cctx.String("metrics-listen")); err != nil {
				slog.Error("failed to start metrics endpoint", "error", err)
				panic(fmt.Errorf("failed to start metrics endpoint: %w", err))
			}
		}()

		if cctx.Bool("schedule") || srv.rdb == nil {
			go func() {
				if err := srv.Scheduler().Run(ctx); err != nil {
					logger.Error("scheduler failed", "err", err)
					cancel()
				}
			}()
		}

		c := srv.Consumer()
		c.MaxInflight = cctx.Int("max-inflight")
		if err := c.Run(ctx); err != nil {
			return fmt.Errorf("failed to run moderation consumer: %w", err)
		}
		return nil
	},
}

var scheduleCmd = &cli.Command{
	Name:  "schedule",
	Usage: "periodically refresh settings and enqueue recent submissions",
	Action: func(cctx *cli.Context) error {
		ctx, cancel := signalContext()
		defer cancel()
		logger, err := configLogger(cctx)
		if err != nil {
			return err
		}
		cfg := configFromCLI(cctx, logger)
		if cfg.RedisURL == "" {
			return fmt.Errorf("redis is required for a standalone scheduler (or use 'run --schedule')")
		}

		srv, err := NewServer(ctx, cfg)
		if err != nil {
			return err
		}
		defer srv.Close()

		return srv.Scheduler().Run(ctx)
	},
}

var refreshSettingsCmd = &cli.Command{
	Name:  "refresh-settings",
	Usage: "read the settings wiki page of every community once, and store them",
	Action: func(cctx *cli.Context) error {
		ctx, cancel := signalContext()
		defer cancel()
		logger, err := configLogger(cctx)
		if err != nil {
			return err
		}

		srv, err := NewServer(ctx, configFromCLI(cctx, logger))
		if err != nil {
			return err
		}
		defer srv.Close()

		return srv.Refresher().RefreshAll(ctx)
	},
}

var addSubredditCmd = &cli.Command{
	Name:      "add-subreddit",
	Usage:     "start moderating a community",
	ArgsUsage: "<name>",
	Action: func(cctx *cli.Context) error {
		ctx, cancel := signalContext()
		defer cancel()
		name := cctx.Args().First()
		if name == "" {
			return fmt.Errorf("need to provide community name as an argument")
		}
		logger, err := configLogger(cctx)
		if err != nil {
			return err
		}
		store, err := openStore(cctx.String("database-url"), cctx.Int("max-metadb-connections"), logger)
		if err != nil {
			return err
		}
		if err := store.AddSubreddit(ctx, name); err != nil {
			return err
		}
		logger.Info("added community", "subreddit", name)
		return nil
	},
}

var similarityCmd = &cli.Command{
	Name:      "similarity",
	Usage:     "print duplicate candidates for the images of one submission, as JSON",
	ArgsUsage: "<submission-id>",
	Flags: []cli.Flag{
		&cli.Float64Flag{
			Name:  "threshold",
			Value: visual.DefaultThreshold,
		},
		&cli.IntFlag{
			Name:  "months",
			Usage: "only compare against submissions from the last N months; 0 for all time",
			Value: 0,
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx, cancel := signalContext()
		defer cancel()
		id := cctx.Args().First()
		if id == "" {
			return fmt.Errorf("need to provide submission id as an argument")
		}
		logger, err := configLogger(cctx)
		if err != nil {
			return err
		}
		store, err := openStore(cctx.String("database-url"), cctx.Int("max-metadb-connections"), logger)
		if err != nil {
			return err
		}

		sub, err := store.GetSubmission(ctx, id)
		if err != nil {
			return err
		}
		if sub == nil {
			return fmt.Errorf("submission not found: %s", id)
		}

		d := visual.NewDispatcher(store, logger, 1)
		matches, err := d.Similarity(ctx, visual.Request{
			SubmissionID: sub.ID,
			Subreddit:    sub.Subreddit,
			Threshold:    cctx.Float64("threshold"),
			Months:       cctx.Int("months"),
		})
		if err != nil {
			return err
		}

		b, err := json.MarshalIndent(matches, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(b))
		return nil
	},
}

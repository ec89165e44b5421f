package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"flipwatch/internal/domain/model"
	"flipwatch/internal/infrastructure/config"
	"flipwatch/internal/infrastructure/logger"
	"flipwatch/internal/infrastructure/svc"
	"flipwatch/internal/interfaces/console"
	"flipwatch/internal/interfaces/httpapi"
)

const usage = `usage: flipwatch [-config path] [-owner id] <command>

commands:
  serve            run the scheduler and the HTTP API (default)
  sync <source>    process one batch for buybox | secondary | peer_listing
  refresh          rebuild the watchlist
  status           print today's sync cursors
`

func main() {
	logger.Setup(logger.Options{})

	// .env 可选，缺失时忽略
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("load .env failed")
	}

	configPath := flag.String("config", "configs/config.toml", "path to config.toml")
	ownerFlag := flag.String("owner", "", "limit one-shot commands to a single owner")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}
	logCloser := logger.Setup(logger.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		MaxBackups: cfg.Log.MaxBackups,
	})
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc, err := svc.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init components failed")
	}
	defer sc.Close()

	owners := cfg.App.Owners
	if *ownerFlag != "" {
		owners = []string{*ownerFlag}
	}

	cmd := "serve"
	if flag.NArg() > 0 {
		cmd = flag.Arg(0)
	}
	switch cmd {
	case "serve":
		err = serve(ctx, sc)
	case "sync":
		if flag.NArg() < 2 {
			flag.Usage()
			os.Exit(2)
		}
		err = syncOnce(ctx, sc, owners, flag.Arg(1))
	case "refresh":
		err = refresh(ctx, sc, owners)
	case "status":
		err = status(ctx, sc, owners)
	default:
		flag.Usage()
		os.Exit(2)
	}
	sc.Coordinator().Drain()
	if err != nil {
		log.Error().Err(err).Str("command", cmd).Msg("command failed")
		sc.Close()
		os.Exit(1)
	}
}

func serve(ctx context.Context, sc *svc.ServiceContext) error {
	if err := sc.Coordinator().Start(ctx); err != nil {
		return err
	}

	h := httpapi.NewHandler(sc.Coordinator(), sc.Aggregator(), sc.Ledger(), sc.Config.App.Owners)
	router := httpapi.NewRouter(h, httpapi.RouterOptions{
		Health:  sc.Ping,
		Metrics: sc.Metrics().Handler(),
	})

	log.Info().
		Str("addr", sc.Config.HTTP.Addr).
		Strs("owners", sc.Config.App.Owners).
		Dur("sync_interval", sc.Config.SyncInterval()).
		Msg("flipwatch started")

	return httpapi.NewServer(sc.Config.HTTP.Addr, router).Run(ctx)
}

func syncOnce(ctx context.Context, sc *svc.ServiceContext, owners []string, name string) error {
	src, err := model.ParseSource(name)
	if err != nil {
		return err
	}
	for _, owner := range owners {
		res, err := sc.Coordinator().Sync(ctx, owner, src)
		if err != nil {
			return fmt.Errorf("sync %s/%s: %w", owner, src, err)
		}
		fmt.Printf("%s/%s: attempted=%d processed=%d failed=%d cursor=%d/%d complete=%t stopped_early=%t\n",
			owner, src, res.Attempted, res.Processed, res.Failed,
			res.CursorPosition, res.TotalForDay, res.Complete, res.StoppedEarly)
	}
	return nil
}

func refresh(ctx context.Context, sc *svc.ServiceContext, owners []string) error {
	for _, owner := range owners {
		res, err := sc.Coordinator().Refresh(ctx, owner)
		if err != nil {
			return fmt.Errorf("refresh %s: %w", owner, err)
		}
		fmt.Printf("%s: total=%d added=%d skipped=%d\n", owner, res.Total, res.Added, res.Skipped)
	}
	return nil
}

func status(ctx context.Context, sc *svc.ServiceContext, owners []string) error {
	for _, owner := range owners {
		cursors, err := sc.Coordinator().Status(ctx, owner)
		if err != nil {
			return fmt.Errorf("status %s: %w", owner, err)
		}
		fmt.Printf("== %s ==\n", owner)
		fmt.Print(console.RenderStatus(cursors, time.Now(), true))
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rujukan/cfg"
	"rujukan/svc/api"
	"rujukan/svc/cache"
	"rujukan/svc/db"
	"rujukan/svc/svc"
	"rujukan/svc/util"

	"golang.org/x/sync/errgroup"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "-health":
			os.Exit(health())
		case "cleanup":
			os.Exit(cleanup())
		case "purge":
			if len(os.Args) < 3 {
				fmt.Fprintln(os.Stderr, "usage: rujukan purge <id>")
				os.Exit(2)
			}
			os.Exit(purge(os.Args[2]))
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
			os.Exit(2)
		}
	}
	serve()
}

func loadConfig() *cfg.Cfg {
	c, err := cfg.Load()
	if err != nil {
		util.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := cfg.Validate(c); err != nil {
		util.Fatal().Err(err).Msg("invalid configuration")
	}
	util.InitLog(util.LogOptions{
		Level: c.LogLevel,
		Dev:   c.Environment == "development",
		File:  c.LogFile,
	})
	return c
}

func openStore(c *cfg.Cfg) *db.SQLite {
	sqlDB, err := db.OpenWithConfig(c.DatabasePath, c.DBMaxOpenConns, c.DBMaxIdleConns, c.DBQueryTimeout)
	if err != nil {
		util.Fatal().Err(err).Str("path", c.DatabasePath).Msg("failed to initialize database")
	}
	return sqlDB
}

func health() int {
	c, err := cfg.Load()
	if err != nil {
		return 1
	}
	return checkHealth(c.DatabasePath)
}

// checkHealth pings an existing database. A missing file is unhealthy and is
// left missing.
func checkHealth(dbPath string) int {
	if _, err := os.Stat(dbPath); err != nil {
		return 1
	}
	sqlDB, err := db.Open(dbPath)
	if err != nil {
		return 1
	}
	defer sqlDB.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sqlDB.Ping(ctx); err != nil {
		return 1
	}
	return 0
}

func cleanup() int {
	c := loadConfig()
	sqlDB := openStore(c)
	defer sqlDB.Close()
	deleted, err := sqlDB.CleanupExpired(context.Background())
	if err != nil {
		util.Error().Err(err).Int("deleted", deleted).Msg("cleanup failed")
		return 1
	}
	fmt.Printf("removed %d expired pastes\n", deleted)
	return 0
}

func purge(id string) int {
	c := loadConfig()
	sqlDB := openStore(c)
	defer sqlDB.Close()
	removed, err := sqlDB.Purge(context.Background(), id)
	if err != nil {
		util.Error().Err(err).Str("id", id).Msg("purge failed")
		return 1
	}
	if !removed {
		fmt.Printf("no paste %s\n", id)
		return 1
	}
	util.Info().Str("id", id).Msg("paste purged by operator")
	fmt.Printf("purged %s\n", id)
	return 0
}

func serve() {
	c := loadConfig()
	defer c.Wipe()
	util.Info().Msg("starting rujukan")

	sqlDB := openStore(c)
	defer sqlDB.Close()
	util.Info().Str("path", c.DatabasePath).Msg("database initialized")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := db.MigrateLegacy(ctx, sqlDB, c.LegacyDatabasePath); err != nil {
		util.Error().Err(err).Str("path", c.LegacyDatabasePath).Msg("legacy import failed")
	}

	var (
		rdb     *db.Redis
		reveals svc.Reveals
		err     error
	)
	if c.RedisURL != "" {
		rdb, err = db.NewRedis(c.RedisURL, c)
		if err != nil {
			if c.Environment == "production" {
				util.Fatal().Err(err).Msg("redis required in production when REDIS_URL is set")
			}
			util.Warn().Err(err).Msg("redis unavailable, keeping token reveals in process")
			rdb = nil
		} else {
			util.Info().Msg("redis connected")
			defer rdb.Close()
			reveals = rdb
		}
	}
	if reveals == nil {
		lru, err := cache.NewLRU(c.RevealCacheSize, c.SessionTTL)
		if err != nil {
			util.Fatal().Err(err).Msg("failed to create reveal cache")
		}
		util.Info().Int("size", c.RevealCacheSize).Msg("in-process reveal cache initialized")
		reveals = lru
	}

	pasteSvc := svc.NewPaste(sqlDB, reveals, c)
	if deleted, err := pasteSvc.Cleanup(ctx); err != nil {
		util.Error().Err(err).Msg("startup cleanup failed")
	} else {
		util.Info().Int("deleted", deleted).Msg("startup cleanup completed")
	}

	server := api.NewServer(c, pasteSvc, sqlDB, rdb)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		util.Info().Msg("shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return pasteSvc.StartCleaner(gctx, c.CleanupInterval)
	})
	g.Go(func() error {
		db.RunWALMaintenance(gctx, sqlDB.DB(), 0)
		return nil
	})
	util.Info().Str("port", c.Port).Str("environment", c.Environment).Msg("server starting")
	if err := g.Wait(); err != nil {
		util.Error().Err(err).Msg("server stopped with error")
	}
	pasteSvc.Shutdown()
	util.Info().Msg("shutdown complete")
}

package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sleepstars/baidubackup/internal/bypy"
	"github.com/sleepstars/baidubackup/internal/config"
	"github.com/sleepstars/baidubackup/internal/database"
	"github.com/sleepstars/baidubackup/internal/integration"
	"github.com/sleepstars/baidubackup/internal/metrics"
	"github.com/sleepstars/baidubackup/internal/scheduler"
	"github.com/sleepstars/baidubackup/internal/server"
	"github.com/sleepstars/baidubackup/internal/watcher"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// .env 可选
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		panic(err)
	}

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal("load timezone failed", zap.Error(err))
	}

	db, err := database.New(cfg.Database.Path, logger.Named("database"))
	if err != nil {
		logger.Fatal("open database failed", zap.Error(err))
	}
	defer db.Close()

	m := metrics.New()
	hub := server.NewHub(logger.Named("hub"))

	client := bypy.New(bypy.Options{
		Path:        cfg.Bypy.Path,
		Nice:        cfg.Bypy.Nice,
		Python:      cfg.Bypy.Python,
		PipIndexURL: cfg.Bypy.PipIndexURL,
	}, logger.Named("bypy"))

	// 等待信号
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	integ := integration.New(ctx, client, db, m, integration.Options{
		BackupDir:     cfg.BackupDir(),
		RemoteDir:     cfg.Bypy.RemoteDir,
		ScanInterval:  cfg.Timings.ScanInterval,
		UploadTimeout: cfg.Timings.UploadTimeout,
		Location:      loc,
	}, hub.Publish, logger.Named("integration"))

	if ok, err := integ.Setup(ctx); err != nil {
		logger.Error("integration setup failed", zap.Error(err))
	} else if !ok {
		logger.Warn("integration not loaded, authorize via /api/flow/start")
	}

	// 初始化文件监控
	if cfg.Watch.Enabled {
		w, err := watcher.New(cfg.BackupDir(), cfg.Timings.SettleAfter, integ, logger.Named("watcher"))
		if err != nil {
			logger.Fatal("create watcher failed", zap.Error(err))
		}
		defer w.Close()

		if err := w.Start(); err != nil {
			logger.Error("start watcher failed", zap.Error(err))
		}
	}

	// 定时上传
	if cfg.Schedule.Cron != "" {
		sched, err := scheduler.New(cfg.Schedule.Cron, loc, integ, logger.Named("scheduler"))
		if err != nil {
			logger.Fatal("create scheduler failed", zap.Error(err))
		}
		sched.Start()
		defer sched.Stop()
		logger.Info("next scheduled upload", zap.Time("at", sched.Next()))
	}

	srv := server.New(integ, hub, m.Registry, logger.Named("server"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		integ.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return srv.Start(cfg.Server.Listen)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("daemon stopped with error", zap.Error(err))
	}

	// 正在进行的上传已随 ctx 取消，等待其记录结果
	integ.Wait()
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logConfig := zap.NewProductionConfig()
	logConfig.OutputPaths = []string{cfg.Logging.File}
	logConfig.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if level, err := zapcore.ParseLevel(cfg.Logging.Level); err == nil {
		logConfig.Level = zap.NewAtomicLevelAt(level)
	}

	// 确保日志目录存在
	if f := cfg.Logging.File; f != "stderr" && f != "stdout" {
		if err := os.MkdirAll(filepath.Dir(f), 0755); err != nil {
			return nil, err
		}
	}
	return logConfig.Build()
}

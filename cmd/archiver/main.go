// Команда archiver — владелец Telegram-сессии: живой слушатель каналов,
// дискавери папки, детектор дыр и раннер бэкфилла под одним деревом
// жизненного цикла. Ровно один экземпляр на деплой.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"telegram-archiver/internal/backfill"
	"telegram-archiver/internal/broker"
	"telegram-archiver/internal/discovery"
	"telegram-archiver/internal/infra/config"
	"telegram-archiver/internal/infra/lifecycle"
	"telegram-archiver/internal/infra/logger"
	"telegram-archiver/internal/listener"
	"telegram-archiver/internal/store"
	tgclient "telegram-archiver/internal/telegram"
)

const appVersion = "archiver/1.0.0"

func main() {
	envPath := flag.String("env", ".env", "path to .env file")
	flag.Parse()

	if err := config.Load(*envPath); err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	cfg := config.Env()

	logger.Init(cfg.LogLevel)
	logger.EnableFile(logger.FileOptions{
		Path:       cfg.LogFile,
		Level:      cfg.LogFileLevel,
		MaxSizeMB:  cfg.LogFileMaxSize,
		MaxBackups: cfg.LogFileMaxBackups,
		MaxAgeDays: cfg.LogFileMaxAge,
		Compress:   cfg.LogFileCompress,
	})
	for _, msg := range config.Warnings() {
		logger.Warn(msg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.New(ctx, cfg.PostgresDSN, cfg.MigrationsPath)
	if err != nil {
		logger.Fatal("postgres init failed", zap.Error(err))
	}
	defer st.Close()

	br, err := broker.New(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis init failed", zap.Error(err))
	}
	defer br.Close()
	if err := br.EnsureGroups(ctx); err != nil {
		logger.Fatal("consumer groups init failed", zap.Error(err))
	}

	client, err := tgclient.New(tgclient.Options{
		APIID:       cfg.APIID,
		APIHash:     cfg.APIHash,
		PhoneNumber: cfg.PhoneNumber,
		SessionFile: cfg.SessionFile,
		StateFile:   cfg.StateFile,
		ThrottleRPS: cfg.ThrottleRPS,
		TestDC:      cfg.TestDC,
		AppVersion:  appVersion,
	})
	if err != nil {
		logger.Fatal("telegram client init failed", zap.Error(err))
	}
	defer client.Close()

	runErr := client.Run(ctx, func(ctx context.Context) error {
		return runServices(ctx, cfg, client, br, st)
	})
	stop()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Fatal("archiver run failed", zap.Error(runErr))
	}
	logger.Info("Graceful shutdown complete")
}

// runServices поднимает дерево сервисов внутри живой Telegram-сессии и
// блокируется до сигнала остановки.
func runServices(ctx context.Context, cfg config.EnvConfig, client *tgclient.Client, br *broker.Client, st *store.Store) error {
	lst := listener.New(client, br, st.Channels, cfg.SourceAccount)

	disc := discovery.New(client, st.Channels, discovery.Options{
		FolderPattern:       cfg.FolderArchivePattern,
		SourceAccount:       cfg.SourceAccount,
		Interval:            cfg.DiscoveryInterval,
		BackfillOnDiscovery: cfg.BackfillEnabled && cfg.BackfillMode == "on_discovery",
		BackfillFrom:        cfg.BackfillStartDate,
		GapDetection:        cfg.GapDetectionEnabled,
		GapThreshold:        cfg.GapThreshold,
		GapInterval:         cfg.GapCheckInterval,
		GapMaxChannels:      cfg.GapMaxChannelsPerRun,
	}, func(ctx context.Context) {
		if err := lst.Refresh(ctx); err != nil {
			logger.Warnf("archiver: обновление набора после сверки: %v", err)
		}
	})

	mgr := lifecycle.New(ctx)
	if err := registerService(mgr, "listener", nil, lst.Run); err != nil {
		return err
	}
	if err := registerService(mgr, "discovery", []string{"listener"}, disc.Run); err != nil {
		return err
	}
	if cfg.BackfillEnabled {
		bf := backfill.New(client, br, st.Channels, st.Messages, backfill.Options{
			SourceAccount: cfg.SourceAccount,
			StartDate:     cfg.BackfillStartDate,
			BatchSize:     cfg.BackfillBatchSize,
			Delay:         cfg.BackfillDelay,
		})
		if err := registerService(mgr, "backfill", []string{"discovery"}, bf.Run); err != nil {
			return err
		}
	}

	if err := mgr.StartAll(); err != nil {
		shutdown(mgr, cfg.ShutdownTimeout)
		return err
	}

	<-ctx.Done()
	logger.Info("archiver: получен сигнал остановки")
	shutdown(mgr, cfg.ShutdownTimeout)
	return nil
}

// registerService регистрирует долгоживущий сервис как узел жизненного цикла:
// старт порождает горутину, остановка дожидается её завершения.
func registerService(mgr *lifecycle.Manager, name string, deps []string, run func(ctx context.Context) error) error {
	var wg sync.WaitGroup
	return mgr.Register(name, "", deps,
		func(ctx context.Context) (context.Context, error) {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Errorf("%s завершился с ошибкой: %v", name, err)
				}
			}()
			return nil, nil
		},
		func(context.Context) error {
			wg.Wait()
			return nil
		})
}

// shutdown останавливает дерево сервисов, укладываясь в дедлайн. Работа за
// дедлайном бросается: недообработанные записи вернёт авто-переподхват брокера.
func shutdown(mgr *lifecycle.Manager, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := mgr.Shutdown(); err != nil {
			logger.Errorf("archiver: остановка сервисов: %v", err)
		}
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		logger.Error("archiver: дедлайн остановки истёк, работа брошена")
	}
}

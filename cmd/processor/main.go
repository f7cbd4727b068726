// Команда processor — обработчик записей приоритетных потоков: дедупликация,
// извлечение сущностей, опциональный перевод, архивация медиа и долговечная
// запись. Масштабируется горизонтально числом процессов.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"telegram-archiver/internal/archiver"
	"telegram-archiver/internal/broker"
	"telegram-archiver/internal/infra/config"
	"telegram-archiver/internal/infra/logger"
	"telegram-archiver/internal/objstore"
	"telegram-archiver/internal/store"
	tgclient "telegram-archiver/internal/telegram"
	"telegram-archiver/internal/translate"
	"telegram-archiver/internal/worker"
)

const appVersion = "archiver-processor/1.0.0"

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

	// Воркер переиспользует файл сессии архиватора только для скачивания
	// медиа; менеджер апдейтов здесь не поднимается.
	client, err := tgclient.New(tgclient.Options{
		APIID:       cfg.APIID,
		APIHash:     cfg.APIHash,
		PhoneNumber: cfg.PhoneNumber,
		SessionFile: cfg.SessionFile,
		ThrottleRPS: cfg.ThrottleRPS,
		TestDC:      cfg.TestDC,
		AppVersion:  appVersion,
	})
	if err != nil {
		logger.Fatal("telegram client init failed", zap.Error(err))
	}
	defer client.Close()

	var translator *translate.Translator
	if cfg.TranslationEnabled && cfg.TranslationAPIKey != "" {
		translator = translate.New(translate.Options{
			APIKey:     cfg.TranslationAPIKey,
			APIURL:     cfg.TranslationAPIURL,
			TargetLang: cfg.TranslationTarget,
		})
	}

	runErr := client.Run(ctx, func(ctx context.Context) error {
		arch, err := buildArchiver(ctx, cfg, client, st)
		if err != nil {
			return err
		}
		w := worker.New(br, cfg.ProcessorBatchSize, st, arch, translator)
		return w.Run(ctx)
	})
	stop()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Fatal("processor run failed", zap.Error(runErr))
	}
	logger.Info("Graceful shutdown complete")
}

// buildArchiver собирает архиватор медиа. Без настроенного объектного
// хранилища воркер работает в текстовом режиме: записи сохраняются без блобов.
func buildArchiver(ctx context.Context, cfg config.EnvConfig, client *tgclient.Client, st *store.Store) (*archiver.Archiver, error) {
	if cfg.S3Endpoint == "" {
		logger.Warn("S3_ENDPOINT не задан: архивация медиа выключена")
		return nil, nil
	}

	obj, err := objstore.New(ctx, objstore.Options{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
		UseSSL:    cfg.S3UseSSL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "object store init")
	}
	return archiver.New(client, obj, st.Media), nil
}

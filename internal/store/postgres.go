// Пакет store — авторитетное реляционное состояние архива: каналы, сообщения,
// медиа-блобы и их связи. Единственный мутатор состояния; все операции
// идемпотентны по естественным ключам, поэтому воркеры не нуждаются в
// межпроцессных блокировках.
package store

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"

	"telegram-archiver/internal/infra/logger"
)

// Store держит пул соединений и отдаёт репозитории по доменам.
type Store struct {
	pool *pgxpool.Pool

	Channels *ChannelRepo
	Messages *MessageRepo
	Media    *MediaRepo
}

// New открывает пул, проверяет соединение и применяет миграции из каталога
// migrationsPath (file://-источник). Пустой путь отключает миграции — для
// деплоев, где схему катит отдельный шаг.
func New(ctx context.Context, dsn, migrationsPath string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "pgx pool")
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "postgres ping")
	}

	if migrationsPath != "" {
		if err := runMigrations(dsn, migrationsPath); err != nil {
			pool.Close()
			return nil, err
		}
	}

	s := &Store{pool: pool}
	s.Channels = &ChannelRepo{pool: pool}
	s.Messages = &MessageRepo{pool: pool}
	s.Media = &MediaRepo{pool: pool}
	return s, nil
}

// Close закрывает пул соединений.
func (s *Store) Close() { s.pool.Close() }

// Pool отдаёт пул для метрик и интеграционных тестов.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func runMigrations(dsn, path string) error {
	m, err := migrate.New("file://"+path, dsn)
	if err != nil {
		return errors.Wrap(err, "migrator")
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Debug("store: схема актуальна, миграции не требуются")
			return nil
		}
		return errors.Wrap(err, "migrate up")
	}
	logger.Info("store: миграции применены")
	return nil
}

// Пакет broker — durable-очереди на Redis Streams с consumer group.
// Два рабочих потока (realtime и backfill) плюс legacy-поток на время миграции
// и ограниченный DLQ. Доставка at-least-once: запись видна группе после XADD,
// неподтверждённые записи переподхватываются через XAUTOCLAIM.
package broker

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"telegram-archiver/internal/infra/logger"
)

// Имена потоков и группы. Менять нельзя: на них завязаны чужие деплойменты.
const (
	StreamRealtime = "telegram:messages:realtime"
	StreamBackfill = "telegram:messages:backfill"
	StreamLegacy   = "telegram:messages"
	StreamDLQ      = "telegram:messages:dlq"

	Group = "processor-workers"

	// Приблизительная верхняя граница длины рабочих потоков (XADD ~ MAXLEN).
	maxStreamLen = 100_000
	dlqMaxLen    = 10_000

	// Порог доставок, после которого запись уходит в DLQ.
	MaxDeliveries = 3

	// Простой, после которого чужая pending-запись считается брошенной.
	claimMinIdle = 5 * time.Minute
	// Простой, после которого consumer удаляется даже с непустым pending.
	consumerForceIdle = 50 * time.Minute

	// Отрицательный Block у XREADGROUP убирает опцию BLOCK целиком.
	noBlock = time.Duration(-1)
)

// workStreams — потоки, на которых живёт consumer group, в порядке приоритета.
var workStreams = []string{StreamRealtime, StreamLegacy, StreamBackfill}

// ConsumerName строит имя консьюмера вида worker-{hostname}-{pid}.
// Имя стабильно в пределах процесса: перезапуск наследует pending-лист.
func ConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return "worker-" + host + "-" + itoa(os.Getpid())
}

func itoa(v int) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// Client — подключение к брокеру плюс операции на потоках.
type Client struct {
	rdb      *redis.Client
	consumer string
}

// New парсит redis://-URL, проверяет соединение и возвращает клиент.
func New(ctx context.Context, redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, errors.Wrap(err, "redis url")
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, errors.Wrap(err, "redis ping")
	}

	return &Client{rdb: rdb, consumer: ConsumerName()}, nil
}

// Consumer возвращает имя консьюмера этого процесса.
func (c *Client) Consumer() string { return c.consumer }

// Close закрывает соединение с брокером.
func (c *Client) Close() error { return c.rdb.Close() }

// EnsureGroups создаёт consumer group на всех рабочих потоках (MKSTREAM).
// BUSYGROUP не ошибка: группа уже есть.
func (c *Client) EnsureGroups(ctx context.Context) error {
	for _, stream := range workStreams {
		err := c.rdb.XGroupCreateMkStream(ctx, stream, Group, "0").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return errors.Wrapf(err, "xgroup create %s", stream)
		}
	}
	return nil
}

// Publish добавляет запись в поток с приблизительной обрезкой длины.
// Возвращает stream id записи.
func (c *Client) Publish(ctx context.Context, stream string, values map[string]any) (string, error) {
	id, err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxStreamLen,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		return "", errors.Wrapf(err, "xadd %s", stream)
	}
	return id, nil
}

// Ack подтверждает запись, убирая её из pending-листа группы.
func (c *Client) Ack(ctx context.Context, stream, id string) error {
	if err := c.rdb.XAck(ctx, stream, Group, id).Err(); err != nil {
		return errors.Wrapf(err, "xack %s %s", stream, id)
	}
	return nil
}

// DeliveryCount возвращает число доставок записи по pending-листу.
// 0 означает, что записи в pending уже нет (подтверждена или обрезана).
func (c *Client) DeliveryCount(ctx context.Context, stream, id string) (int64, error) {
	pending, err := c.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  Group,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "xpending %s %s", stream, id)
	}
	if len(pending) == 0 {
		return 0, nil
	}
	return pending[0].RetryCount, nil
}

// DeadLetter копирует исчерпавшую доставки запись в DLQ и подтверждает её на
// исходном потоке. DLQ ограничен по длине: при переполнении старые записи
// вытесняются, это осознанная потеря.
func (c *Client) DeadLetter(ctx context.Context, d Delivery, procErr error) error {
	payload, err := json.Marshal(d.Values)
	if err != nil {
		payload = []byte(`{}`)
	}
	reason := ""
	if procErr != nil {
		reason = procErr.Error()
	}

	addErr := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamDLQ,
		MaxLen: dlqMaxLen,
		Approx: true,
		Values: map[string]any{
			"original_stream_id":   d.ID,
			"original_stream":      d.Stream,
			"message_payload_json": string(payload),
			"error":                reason,
			"retry_count":          d.RetryCount,
			"failed_at":            time.Now().UTC().Format(time.RFC3339),
		},
	}).Err()
	if addErr != nil {
		return errors.Wrapf(addErr, "xadd %s", StreamDLQ)
	}

	logger.Warnf("broker: запись %s/%s отправлена в DLQ после %d доставок: %s",
		d.Stream, d.ID, d.RetryCount, reason)
	return c.Ack(ctx, d.Stream, d.ID)
}

// janitor — операции группы, нужные уборке брошенных консьюмеров. Выделен в
// интерфейс по той же причине, что и source: порядок «спасти pending, потом
// удалить» проверяется без живого Redis.
type janitor interface {
	groupConsumers(ctx context.Context, stream string) ([]redis.XInfoConsumer, error)
	claimAllFrom(ctx context.Context, stream, consumer string) (int, error)
	deleteConsumer(ctx context.Context, stream, consumer string) error
}

// CleanupConsumers удаляет брошенные консьюмеры группы: простой > 5 минут с
// пустым pending — обычное удаление, простой > 50 минут — принудительное.
// Вызывается один раз при подключении воркера.
func (c *Client) CleanupConsumers(ctx context.Context) {
	for _, stream := range workStreams {
		cleanupStreamConsumers(ctx, c, stream, c.consumer)
	}
}

// cleanupStreamConsumers чистит консьюмеры одного потока. XGROUP DELCONSUMER
// выбрасывает pending-лист безвозвратно: записи уже позади last-delivered-id
// группы, и XAUTOCLAIM их больше не увидит. Поэтому перед принудительным
// удалением pending перехватывается на текущий консьюмер.
func cleanupStreamConsumers(ctx context.Context, j janitor, stream, self string) {
	infos, err := j.groupConsumers(ctx, stream)
	if err != nil {
		// Поток мог ещё не существовать — не повод падать при старте.
		logger.Debugf("broker: xinfo consumers %s: %v", stream, err)
		return
	}
	for _, info := range infos {
		if info.Name == self {
			continue
		}
		stale := info.Idle > claimMinIdle && info.Pending == 0
		force := info.Idle > consumerForceIdle
		if !stale && !force {
			continue
		}
		if info.Pending > 0 {
			rescued, err := j.claimAllFrom(ctx, stream, info.Name)
			if err != nil {
				logger.Warnf("broker: не удалось перехватить pending консьюмера %s на %s: %v",
					info.Name, stream, err)
				continue
			}
			if rescued > 0 {
				logger.Infof("broker: перехвачено %d записей консьюмера %s (поток %s)",
					rescued, info.Name, stream)
			}
		}
		if err := j.deleteConsumer(ctx, stream, info.Name); err != nil {
			logger.Warnf("broker: не удалось удалить консьюмера %s на %s: %v", info.Name, stream, err)
			continue
		}
		logger.Infof("broker: удалён брошенный консьюмер %s (поток %s, простой %s, pending %d)",
			info.Name, stream, info.Idle.Truncate(time.Second), info.Pending)
	}
}

func (c *Client) groupConsumers(ctx context.Context, stream string) ([]redis.XInfoConsumer, error) {
	return c.rdb.XInfoConsumers(ctx, stream, Group).Result()
}

// claimAllFrom перехватывает весь pending-лист консьюмера на текущий процесс.
// Страницами: после XCLAIM записи покидают чужой pending, и следующий
// XPENDING с тем же фильтром отдаёт остаток.
func (c *Client) claimAllFrom(ctx context.Context, stream, consumer string) (int, error) {
	total := 0
	for {
		pending, err := c.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream:   stream,
			Group:    Group,
			Start:    "-",
			End:      "+",
			Count:    100,
			Consumer: consumer,
		}).Result()
		if err != nil {
			return total, errors.Wrapf(err, "xpending %s %s", stream, consumer)
		}
		if len(pending) == 0 {
			return total, nil
		}
		ids := make([]string, 0, len(pending))
		for _, p := range pending {
			ids = append(ids, p.ID)
		}
		err = c.rdb.XClaim(ctx, &redis.XClaimArgs{
			Stream:   stream,
			Group:    Group,
			Consumer: c.consumer,
			MinIdle:  0,
			Messages: ids,
		}).Err()
		// Nil — все записи за это время обрезаны из потока; XCLAIM всё равно
		// убрал их из pending.
		if err != nil && !errors.Is(err, redis.Nil) {
			return total, errors.Wrapf(err, "xclaim %s", stream)
		}
		total += len(ids)
	}
}

func (c *Client) deleteConsumer(ctx context.Context, stream, consumer string) error {
	return c.rdb.XGroupDelConsumer(ctx, stream, Group, consumer).Err()
}

// PendingDepth возвращает размер pending-листа потока. Используется метриками.
func (c *Client) PendingDepth(ctx context.Context, stream string) (int64, error) {
	info, err := c.rdb.XPending(ctx, stream, Group).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "xpending %s", stream)
	}
	return info.Count, nil
}

// StreamLen возвращает текущую длину потока.
func (c *Client) StreamLen(ctx context.Context, stream string) (int64, error) {
	n, err := c.rdb.XLen(ctx, stream).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "xlen %s", stream)
	}
	return n, nil
}

// AutoClaim переподхватывает записи потока, простоявшие в чужом pending
// дольше claimMinIdle.
func (c *Client) AutoClaim(ctx context.Context, stream string, count int64) ([]Delivery, error) {
	msgs, _, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    Group,
		Consumer: c.consumer,
		MinIdle:  claimMinIdle,
		Start:    "0-0",
		Count:    count,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "xautoclaim %s", stream)
	}
	return c.toDeliveries(ctx, stream, msgs), nil
}

// ReadGroup читает до count новых записей потока; block < 0 — без блокировки.
func (c *Client) ReadGroup(ctx context.Context, stream string, count int64, block time.Duration) ([]Delivery, error) {
	res, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    Group,
		Consumer: c.consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "xreadgroup %s", stream)
	}

	var out []Delivery
	for _, sr := range res {
		out = append(out, c.toDeliveries(ctx, sr.Stream, sr.Messages)...)
	}
	return out, nil
}

// toDeliveries дополняет сообщения счётчиком доставок из pending-листа.
// Ошибка XPENDING не фатальна: без счётчика запись просто не уйдёт в DLQ
// на этой итерации.
func (c *Client) toDeliveries(ctx context.Context, stream string, msgs []redis.XMessage) []Delivery {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]Delivery, 0, len(msgs))
	for _, m := range msgs {
		d := Delivery{Stream: stream, ID: m.ID, Values: m.Values, RetryCount: 1}
		if n, err := c.DeliveryCount(ctx, stream, m.ID); err == nil && n > 0 {
			d.RetryCount = n
		}
		out = append(out, d)
	}
	return out
}

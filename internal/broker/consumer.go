package broker

import (
	"context"
	"time"
)

// Delivery — одна доставленная запись потока вместе со счётчиком доставок.
type Delivery struct {
	Stream     string
	ID         string
	Values     map[string]any
	RetryCount int64
}

// Exhausted сообщает, исчерпан ли бюджет доставок записи.
func (d Delivery) Exhausted() bool { return d.RetryCount >= MaxDeliveries }

// source — операции чтения, нужные приоритетному циклу. Выделен в интерфейс,
// чтобы порядок опроса потоков проверялся без живого Redis.
type source interface {
	AutoClaim(ctx context.Context, stream string, count int64) ([]Delivery, error)
	ReadGroup(ctx context.Context, stream string, count int64, block time.Duration) ([]Delivery, error)
}

// Consumer реализует приоритетный порядок выборки: сначала переподхват
// брошенных записей, затем realtime, затем legacy, и только при полном
// простое — ровно одна запись backfill. Исторический поток не может
// вытеснить живой трафик.
type Consumer struct {
	src   source
	batch int64
}

// NewConsumer создаёт консьюмер поверх клиента брокера.
func NewConsumer(client *Client, batchSize int) *Consumer {
	return newConsumer(client, batchSize)
}

func newConsumer(src source, batchSize int) *Consumer {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &Consumer{src: src, batch: int64(batchSize)}
}

// Next выполняет одну итерацию приоритетного цикла и возвращает первую
// непустую порцию. Пустой результат без ошибки означает «нечего делать»;
// блокировка на realtime (1 с) не даёт циклу крутиться вхолостую.
func (c *Consumer) Next(ctx context.Context) ([]Delivery, error) {
	// 1. Переподхват: брошенные записи важнее любых новых.
	for _, stream := range workStreams {
		claimed, err := c.src.AutoClaim(ctx, stream, c.batch)
		if err != nil {
			return nil, err
		}
		if len(claimed) > 0 {
			return claimed, nil
		}
	}

	// 2. Живой поток, с блокировкой.
	if ds, err := c.src.ReadGroup(ctx, StreamRealtime, c.batch, time.Second); err != nil || len(ds) > 0 {
		return ds, err
	}

	// 3. Legacy-поток времён миграции, без блокировки.
	if ds, err := c.src.ReadGroup(ctx, StreamLegacy, c.batch, noBlock); err != nil || len(ds) > 0 {
		return ds, err
	}

	// 4. Ровно одна историческая запись — и только при полном простое выше.
	return c.src.ReadGroup(ctx, StreamBackfill, 1, noBlock)
}

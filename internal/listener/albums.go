package listener

import (
	"context"
	"sync"
	"time"

	"github.com/gotd/td/tg"

	"telegram-archiver/internal/infra/logger"
)

const (
	// Период фонового свипера буфера альбомов.
	defaultSweepInterval = 30 * time.Second
	// Возраст, после которого группа считается залежавшейся и сбрасывается.
	defaultStaleAfter = 60 * time.Second
	// Жёсткая граница числа одновременно буферизуемых групп: при переполнении
	// самая старая группа сбрасывается немедленно.
	defaultMaxGroups = 512
)

// flushFunc получает канал (marked id) и собранных участников альбома.
type flushFunc func(ctx context.Context, channelID int64, members []*tg.Message)

// completeFunc дочитывает альбом из Telegram диапазонным чтением вокруг
// известного участника. Возвращает полный состав или ошибку.
type completeFunc func(ctx context.Context, channelID, anchorID, groupedID int64) ([]*tg.Message, error)

type pendingGroup struct {
	channelID int64
	groupedID int64
	members   []*tg.Message
	lastSeen  time.Time
}

// looksIncomplete: единственный участник либо полное отсутствие подписи —
// признаки того, что часть событий альбома потерялась по дороге.
func (g *pendingGroup) looksIncomplete() bool {
	if len(g.members) <= 1 {
		return true
	}
	for _, m := range g.members {
		if m.Message != "" {
			return false
		}
	}
	return true
}

// Collector буферизует события сообщений с общим grouped-id и сбрасывает
// собранные альбомы. Telegram не гарантирует доставку альбома одним событием
// (известный сбой: 1 фото + 1 видео), поэтому сборка идёт в три эшелона:
// буфер событий, фоновый свипер по staleAfter и диапазонное дочитывание у
// сервера для подозрительно неполных групп.
type Collector struct {
	mu     sync.Mutex
	groups map[int64]*pendingGroup

	sweepInterval time.Duration
	staleAfter    time.Duration
	maxGroups     int

	flush    flushFunc
	complete completeFunc
	now      func() time.Time
}

// NewCollector создаёт сборщик с дефолтными окнами.
func NewCollector(flush flushFunc, complete completeFunc) *Collector {
	return &Collector{
		groups:        make(map[int64]*pendingGroup),
		sweepInterval: defaultSweepInterval,
		staleAfter:    defaultStaleAfter,
		maxGroups:     defaultMaxGroups,
		flush:         flush,
		complete:      complete,
		now:           time.Now,
	}
}

// Add кладёт сообщение в буфер его группы. При переполнении буфера самая
// старая группа сбрасывается немедленно, не дожидаясь свипера.
func (c *Collector) Add(ctx context.Context, channelID int64, msg *tg.Message) {
	gid, ok := msg.GetGroupedID()
	if !ok {
		return
	}

	c.mu.Lock()
	g, exists := c.groups[gid]
	if !exists {
		g = &pendingGroup{channelID: channelID, groupedID: gid}
		c.groups[gid] = g
	}
	g.members = append(g.members, msg)
	g.lastSeen = c.now()

	var overflow *pendingGroup
	if len(c.groups) > c.maxGroups {
		overflow = c.evictOldestLocked(gid)
	}
	c.mu.Unlock()

	if overflow != nil {
		logger.Warnf("listener: буфер альбомов переполнен, группа %d сброшена досрочно", overflow.groupedID)
		c.finalize(ctx, overflow)
	}
}

// Run запускает периодический свипер до отмены контекста. На выходе буфер
// сбрасывается целиком: при остановке слушателя недособранные альбомы
// уходят в поток как есть.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.FlushAll(context.WithoutCancel(ctx))
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

// sweep сбрасывает группы, не получавшие сообщений дольше staleAfter.
func (c *Collector) sweep(ctx context.Context) {
	cutoff := c.now().Add(-c.staleAfter)

	c.mu.Lock()
	var stale []*pendingGroup
	for gid, g := range c.groups {
		if g.lastSeen.Before(cutoff) {
			stale = append(stale, g)
			delete(c.groups, gid)
		}
	}
	c.mu.Unlock()

	for _, g := range stale {
		c.finalize(ctx, g)
	}
}

// FlushAll сбрасывает все буферизованные группы немедленно.
func (c *Collector) FlushAll(ctx context.Context) {
	c.mu.Lock()
	all := make([]*pendingGroup, 0, len(c.groups))
	for gid, g := range c.groups {
		all = append(all, g)
		delete(c.groups, gid)
	}
	c.mu.Unlock()

	for _, g := range all {
		c.finalize(ctx, g)
	}
}

// Pending возвращает число буферизуемых групп (для метрик и тестов).
func (c *Collector) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.groups)
}

// finalize дочитывает подозрительно неполную группу у сервера и сбрасывает её.
// Ошибка дочитывания нефатальна: лучше неполный альбом, чем потерянный.
func (c *Collector) finalize(ctx context.Context, g *pendingGroup) {
	members := g.members
	if g.looksIncomplete() && c.complete != nil && len(members) > 0 {
		fetched, err := c.complete(ctx, g.channelID, int64(members[0].ID), g.groupedID)
		if err != nil {
			logger.Warnf("listener: дочитать альбом %d не удалось: %v", g.groupedID, err)
		} else if len(fetched) >= len(members) {
			members = fetched
		}
	}
	c.flush(ctx, g.channelID, members)
}

// evictOldestLocked выбирает самую старую группу кроме keep и убирает её из
// карты. Вызывается под мьютексом; сброс делает вызывающий.
func (c *Collector) evictOldestLocked(keep int64) *pendingGroup {
	var oldest *pendingGroup
	for gid, g := range c.groups {
		if gid == keep {
			continue
		}
		if oldest == nil || g.lastSeen.Before(oldest.lastSeen) {
			oldest = g
		}
	}
	if oldest != nil {
		delete(c.groups, oldest.groupedID)
	}
	return oldest
}

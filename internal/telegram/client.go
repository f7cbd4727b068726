package telegram

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	boltstor "github.com/gotd/contrib/bbolt"
	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/contrib/middleware/ratelimit"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/dcs"
	tgupdates "github.com/gotd/td/telegram/updates"
	"github.com/gotd/td/tg"

	"telegram-archiver/internal/infra/logger"
	"telegram-archiver/internal/infra/storage"
)

// Options — параметры сборки MTProto-клиента.
type Options struct {
	APIID       int
	APIHash     string
	PhoneNumber string
	SessionFile string
	// StateFile — bbolt-хранилище состояния апдейтов. Пустая строка отключает
	// менеджер апдейтов (воркеры и импортёр живые события не слушают).
	StateFile   string
	ThrottleRPS int
	TestDC      bool
	AppVersion  string
}

// lazyUpdateHandler откладывает установку реального обработчика апдейтов,
// разрывая цикл инициализации клиент ↔ менеджер апдейтов.
type lazyUpdateHandler struct {
	mu      sync.RWMutex
	handler telegram.UpdateHandler
}

func (h *lazyUpdateHandler) Handle(ctx context.Context, u tg.UpdatesClass) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.handler != nil {
		return h.handler.Handle(ctx, u)
	}
	return nil
}

func (h *lazyUpdateHandler) set(realHandler telegram.UpdateHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = realHandler
}

// Client — собранный MTProto-клиент с диспетчером апдейтов, floodwait-мидлварью
// и rate-limit. Один аутентифицированный клиент на процесс.
type Client struct {
	opts Options

	tgc        *telegram.Client
	api        *tg.Client
	Dispatcher tg.UpdateDispatcher

	waiter  *floodwait.Waiter
	updMgr  *tgupdates.Manager
	stateDB *bbolt.DB

	selfMu sync.RWMutex
	self   *tg.User
}

// New собирает клиент: файловая сессия, floodwait.Waiter и ratelimit в цепочке
// мидлварей, опциональный менеджер апдейтов поверх bbolt-состояния.
func New(opts Options) (*Client, error) {
	if opts.ThrottleRPS <= 0 {
		opts.ThrottleRPS = 1
	}

	c := &Client{
		opts:       opts,
		Dispatcher: tg.NewUpdateDispatcher(),
		waiter:     floodwait.NewWaiter(),
	}
	lazyHandler := &lazyUpdateHandler{}

	tgOpts := telegram.Options{
		SessionStorage: &FileStorage{Path: opts.SessionFile},
		UpdateHandler:  lazyHandler,
		Middlewares: []telegram.Middleware{
			c.waiter,
			ratelimit.New(
				rate.Limit(opts.ThrottleRPS),
				opts.ThrottleRPS*2, //nolint:mnd // burst = 2*rate
			),
		},
		Device: telegram.DeviceConfig{
			DeviceModel:   "MacBookPro18,1",
			SystemVersion: "macOS v15.6.1 build 24G90",
			AppVersion:    opts.AppVersion,
		},
	}
	if opts.TestDC {
		tgOpts.DCList = dcs.Test()
	}

	c.tgc = telegram.NewClient(opts.APIID, opts.APIHash, tgOpts)
	c.api = c.tgc.API()

	if opts.StateFile != "" {
		if err := storage.EnsureDir(opts.StateFile); err != nil {
			return nil, errors.Wrap(err, "ensure state dir")
		}
		stateDB, err := bbolt.Open(opts.StateFile, storage.DefaultFilePerm, nil)
		if err != nil {
			return nil, errors.Wrap(err, "open bolt state storage")
		}
		c.stateDB = stateDB

		c.updMgr = tgupdates.New(tgupdates.Config{
			Handler: c.Dispatcher,
			Storage: boltstor.NewStateStorage(stateDB),
		})
		lazyHandler.set(c.updMgr)
	} else {
		lazyHandler.set(c.Dispatcher)
	}

	return c, nil
}

// API отдаёт сырой RPC-интерфейс gotd.
func (c *Client) API() *tg.Client { return c.api }

// Self возвращает авторизованного пользователя; nil до логина.
func (c *Client) Self() *tg.User {
	c.selfMu.RLock()
	defer c.selfMu.RUnlock()
	return c.self
}

// Run устанавливает соединение, при необходимости проводит интерактивный
// логин, поднимает менеджер апдейтов (если сконфигурирован) и передаёт
// управление fn. Блокируется до возврата fn; floodwait-мидлварь живёт всё
// это время и глушит FLOOD_WAIT на каждом RPC.
func (c *Client) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	return c.waiter.Run(ctx, func(ctx context.Context) error {
		return c.tgc.Run(ctx, func(ctx context.Context) error {
			self, err := c.login(ctx)
			if err != nil {
				return err
			}

			if c.updMgr == nil {
				return fn(ctx)
			}

			updatesCtx, updatesCancel := context.WithCancel(ctx)
			defer updatesCancel()

			var updatesWG sync.WaitGroup
			updatesWG.Add(1)
			go func() {
				defer updatesWG.Done()
				mgrErr := c.updMgr.Run(updatesCtx, c.api, self.ID, tgupdates.AuthOptions{
					OnStart: func(context.Context) {
						logger.Debug("telegram: менеджер апдейтов запущен")
					},
				})
				if mgrErr != nil && !errors.Is(mgrErr, context.Canceled) {
					logger.Errorf("telegram: менеджер апдейтов завершился: %v", mgrErr)
				}
			}()

			err = fn(ctx)
			updatesCancel()
			updatesWG.Wait()
			return err
		})
	})
}

// Close освобождает локальные ресурсы клиента (bbolt-состояние апдейтов).
func (c *Client) Close() error {
	if c.stateDB != nil {
		return c.stateDB.Close()
	}
	return nil
}

func (c *Client) login(ctx context.Context) (*tg.User, error) {
	flow := auth.NewFlow(
		TerminalAuthenticator{PhoneNumber: c.opts.PhoneNumber},
		auth.SendCodeOptions{},
	)
	if err := c.tgc.Auth().IfNecessary(ctx, flow); err != nil {
		return nil, errors.Wrap(err, "auth")
	}

	self, err := c.tgc.Self(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "self")
	}

	c.selfMu.Lock()
	c.self = self
	c.selfMu.Unlock()

	logger.Logger().Info("Logged in as:",
		zap.String("Username", self.Username),
		zap.Int64("ID", self.ID),
	)
	return self, nil
}

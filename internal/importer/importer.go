package importer

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"

	"telegram-archiver/internal/infra/logger"
	"telegram-archiver/internal/infra/throttle"
	tgclient "telegram-archiver/internal/telegram"
)

const (
	validateBatchSize = 10
	validatePause     = 5 * time.Second
	joinDelayMin      = 30 * time.Second
	joinDelayMax      = 60 * time.Second
	// Запас к серверной паузе FLOOD_WAIT перед единственным ретраем вступления.
	joinWaitScale = 1.5
	joinRetries   = 1
)

// telegramAPI — часть Telegram-клиента, нужная импорту.
type telegramAPI interface {
	ResolveChannel(ctx context.Context, ref string) (*tg.Channel, error)
	JoinChannel(ctx context.Context, ch *tg.Channel) (already bool, err error)
	DialogFilters(ctx context.Context) ([]tgclient.Folder, error)
	FindFolder(ctx context.Context, title string) (tgclient.Folder, bool, error)
	UpsertFolder(ctx context.Context, folderID int, title string, peers []tg.InputPeerClass) error
}

// Pipeline проводит задание импорта через валидацию, вступления и папку.
type Pipeline struct {
	tg          telegramAPI
	folderTitle string
	joiner      *throttle.Throttler

	// Подменяются в тестах.
	sleep func(ctx context.Context, d time.Duration) error
	rand  func() float64
}

// New собирает конвейер импорта для целевой папки.
func New(tg telegramAPI, folderTitle string) *Pipeline {
	return &Pipeline{
		tg:          tg,
		folderTitle: folderTitle,
		joiner: throttle.New(1,
			throttle.WithMaxRetries(joinRetries),
			throttle.WithWaitExtractors(tgclient.FloodWaitExtractor),
			throttle.WithWaitScale(joinWaitScale),
		),
		sleep: sleepCtx,
		rand:  rand.Float64,
	}
}

// Run проводит задание от CSV-ссылок до папки целиком: валидация, вступления,
// папка. Отмена контекста переводит задание в cancelled.
func (p *Pipeline) Run(ctx context.Context, refs []string) (*Job, error) {
	job := NewJob(refs)

	if err := p.Validate(ctx, job); err != nil {
		job.State = JobCancelled
		return job, err
	}
	if err := p.Process(ctx, job); err != nil {
		job.State = JobCancelled
		return job, err
	}

	s := job.Summarize()
	logger.Infof("importer: задание %s завершено: всего %d, вступили %d, уже состояли %d, отказов %d/%d",
		job.ID, s.Total, s.Joined, s.AlreadyMember, s.ValidationFailed, s.JoinFailed)
	return job, nil
}

// Validate резолвит кандидатов пачками по 10 с пятисекундной паузой между
// пачками. Ошибка резолва помечает кандидата, но не останавливает задание.
func (p *Pipeline) Validate(ctx context.Context, job *Job) error {
	job.State = JobValidating

	for i, cand := range job.Candidates {
		if i > 0 && i%validateBatchSize == 0 {
			if err := p.sleep(ctx, validatePause); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		ch, err := p.tg.ResolveChannel(ctx, cand.Ref)
		if err != nil {
			cand.State = CandidateValidationFailed
			cand.Reason = err.Error()
			logger.Warnf("importer: %q не прошёл валидацию: %v", cand.Ref, err)
			continue
		}

		cand.channel = ch
		cand.Title = ch.Title
		cand.Username = ch.Username
		if ch.Left {
			cand.State = CandidateValidated
		} else {
			cand.State = CandidateAlreadyMember
		}
	}

	job.State = JobReady
	return nil
}

// Process вступает в провалидированные каналы по одному с равномерно
// случайной паузой 30–60 секунд между вступлениями, затем добавляет
// вступившие и уже состоящие каналы в целевую папку.
func (p *Pipeline) Process(ctx context.Context, job *Job) error {
	job.State = JobProcessing
	p.joiner.Start(ctx)
	defer p.joiner.Stop()

	first := true
	for _, cand := range job.Candidates {
		if cand.State != CandidateValidated {
			continue
		}
		if !first {
			if err := p.sleep(ctx, p.joinDelay()); err != nil {
				return err
			}
		}
		first = false

		err := p.joiner.Do(ctx, func() error {
			already, joinErr := p.tg.JoinChannel(ctx, cand.channel)
			if joinErr != nil {
				return joinErr
			}
			if already {
				cand.State = CandidateAlreadyMember
			} else {
				cand.State = CandidateJoined
			}
			return nil
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			cand.State = CandidateJoinFailed
			cand.Reason = err.Error()
			logger.Warnf("importer: вступление в %q не удалось: %v", cand.Ref, err)
			continue
		}
		logger.Infof("importer: канал %q (%s) — %s", cand.Title, cand.Username, cand.State)
	}

	if err := p.wireFolder(ctx, job); err != nil {
		return err
	}
	job.State = JobCompleted
	return nil
}

// wireFolder добавляет членов (вступивших и уже состоявших) в целевую папку,
// создавая её при отсутствии. Папка вмещает не более ста пиров; лишние
// кандидаты остаются вне папки с предупреждением.
func (p *Pipeline) wireFolder(ctx context.Context, job *Job) error {
	additions := memberPeers(job)
	if len(additions) == 0 {
		return nil
	}

	folder, found, err := p.tg.FindFolder(ctx, p.folderTitle)
	if err != nil {
		return errors.Wrap(err, "find target folder")
	}

	folderID := folder.ID
	title := folder.Title
	peers := folder.IncludePeers
	if !found {
		folders, err := p.tg.DialogFilters(ctx)
		if err != nil {
			return errors.Wrap(err, "list folders")
		}
		folderID, err = tgclient.NextFolderID(folders)
		if err != nil {
			return err
		}
		title = p.folderTitle
		peers = nil
	}

	merged := mergePeers(peers, additions)
	if len(merged) > tgclient.MaxFolderPeers {
		logger.Warnf("importer: папка %q переполнена: %d пиров не добавлены",
			title, len(merged)-tgclient.MaxFolderPeers)
		merged = merged[:tgclient.MaxFolderPeers]
	}
	if len(merged) == len(peers) {
		return nil
	}

	if err := p.tg.UpsertFolder(ctx, folderID, title, merged); err != nil {
		return errors.Wrap(err, "update target folder")
	}
	logger.Infof("importer: папка %q обновлена, %d пиров", title, len(merged))
	return nil
}

// joinDelay — равномерно случайная пауза между вступлениями.
func (p *Pipeline) joinDelay() time.Duration {
	return joinDelayMin + time.Duration(p.rand()*float64(joinDelayMax-joinDelayMin))
}

// memberPeers собирает пиров кандидатов, состоящих в канале по итогам задания.
func memberPeers(job *Job) []tg.InputPeerClass {
	var peers []tg.InputPeerClass
	for _, cand := range job.Candidates {
		if cand.channel == nil {
			continue
		}
		if cand.State != CandidateJoined && cand.State != CandidateAlreadyMember {
			continue
		}
		peers = append(peers, &tg.InputPeerChannel{
			ChannelID:  cand.channel.ID,
			AccessHash: cand.channel.AccessHash,
		})
	}
	return peers
}

// mergePeers дописывает новых пиров к include-списку без дублей по id канала.
func mergePeers(existing []tg.InputPeerClass, additions []tg.InputPeerClass) []tg.InputPeerClass {
	known := make(map[int64]struct{})
	for _, peer := range existing {
		if ch, ok := peer.(*tg.InputPeerChannel); ok {
			known[ch.ChannelID] = struct{}{}
		}
	}

	merged := make([]tg.InputPeerClass, len(existing), len(existing)+len(additions))
	copy(merged, existing)
	for _, peer := range additions {
		ch, ok := peer.(*tg.InputPeerChannel)
		if !ok {
			continue
		}
		if _, dup := known[ch.ChannelID]; dup {
			continue
		}
		known[ch.ChannelID] = struct{}{}
		merged = append(merged, peer)
	}
	return merged
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

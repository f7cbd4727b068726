package telegram

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"

	"telegram-archiver/internal/domain/model"
	"telegram-archiver/internal/infra/logger"
)

// MaxFolderPeers — лимит Telegram на число пиров в одной папке.
const MaxFolderPeers = 100

// Folder — нормализованная пользовательская папка (dialog filter).
type Folder struct {
	ID           int
	Title        string
	IncludePeers []tg.InputPeerClass
}

// DialogFilters читает все папки аккаунта. Неизвестные типы фильтров
// (дефолтный, chatlist) пропускаются без ошибки: дрейф схемы апстрима не
// должен ронять цикл дискавери.
func (c *Client) DialogFilters(ctx context.Context) ([]Folder, error) {
	res, err := c.api.MessagesGetDialogFilters(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "get dialog filters")
	}

	var out []Folder
	for _, f := range res.Filters {
		df, ok := f.(*tg.DialogFilter)
		if !ok {
			logger.Debugf("telegram: пропущен фильтр неподдерживаемого типа %T", f)
			continue
		}
		out = append(out, Folder{
			ID:           df.ID,
			Title:        df.Title.Text,
			IncludePeers: df.IncludePeers,
		})
	}
	return out, nil
}

// FindFolder ищет папку по точному имени без учёта регистра.
// ok=false — папки с таким именем нет, вызывающий ничего не меняет.
func (c *Client) FindFolder(ctx context.Context, title string) (Folder, bool, error) {
	folders, err := c.DialogFilters(ctx)
	if err != nil {
		return Folder{}, false, err
	}
	for _, f := range folders {
		if strings.EqualFold(f.Title, title) {
			return f, true, nil
		}
	}
	return Folder{}, false, nil
}

// ChannelCandidates резолвит каналы из include-списка папки в дескрипторы
// для сверки. Пиры, не являющиеся каналами, игнорируются.
func (c *Client) ChannelCandidates(ctx context.Context, folder Folder) ([]model.ChannelCandidate, error) {
	var inputs []tg.InputChannelClass
	for _, peer := range folder.IncludePeers {
		if ch, ok := peer.(*tg.InputPeerChannel); ok {
			inputs = append(inputs, &tg.InputChannel{
				ChannelID:  ch.ChannelID,
				AccessHash: ch.AccessHash,
			})
		}
	}
	if len(inputs) == 0 {
		return nil, nil
	}

	chats, err := c.api.ChannelsGetChannels(ctx, inputs)
	if err != nil {
		return nil, errors.Wrap(err, "get channels")
	}

	var out []model.ChannelCandidate
	for _, chat := range chats.GetChats() {
		ch, ok := chat.(*tg.Channel)
		if !ok || ch.Left {
			continue
		}
		out = append(out, model.ChannelCandidate{
			TelegramID: MarkChannelID(ch.ID),
			AccessHash: ch.AccessHash,
			Username:   ch.Username,
			Name:       ch.Title,
			Folder:     folder.Title,
		})
	}
	return out, nil
}

// NextFolderID подбирает свободный id папки из диапазона 2–255
// (0 и 1 зарезервированы платформой под встроенные вкладки).
func NextFolderID(folders []Folder) (int, error) {
	used := make(map[int]struct{}, len(folders))
	for _, f := range folders {
		used[f.ID] = struct{}{}
	}
	for id := 2; id <= 255; id++ {
		if _, ok := used[id]; !ok {
			return id, nil
		}
	}
	return 0, errors.New("no free dialog filter id in 2..255")
}

// UpsertFolder создаёт или обновляет папку с заданным include-списком.
// Папка вмещает не более MaxFolderPeers пиров.
func (c *Client) UpsertFolder(ctx context.Context, folderID int, title string, peers []tg.InputPeerClass) error {
	if len(peers) > MaxFolderPeers {
		return errors.Errorf("folder %q holds %d peers, max %d", title, len(peers), MaxFolderPeers)
	}

	filter := &tg.DialogFilter{
		ID:           folderID,
		Title:        tg.TextWithEntities{Text: title},
		IncludePeers: peers,
	}
	req := &tg.MessagesUpdateDialogFilterRequest{ID: folderID}
	req.SetFilter(filter)

	if _, err := c.api.MessagesUpdateDialogFilter(ctx, req); err != nil {
		return errors.Wrapf(err, "update dialog filter %d", folderID)
	}
	return nil
}

package telegram

// Платформенный «marked»-префикс для id каналов: внешние системы (и наша БД)
// оперируют отрицательными id вида -100XXXXXXXXXX, MTProto — голыми.
const channelMark = int64(1_000_000_000_000)

// MarkChannelID переводит голый MTProto-id канала в marked-форму.
func MarkChannelID(id int64) int64 {
	if id < 0 {
		return id
	}
	return -(channelMark + id)
}

// UnmarkChannelID переводит marked-id обратно в голый id канала.
func UnmarkChannelID(marked int64) int64 {
	if marked >= 0 {
		return marked
	}
	return -marked - channelMark
}

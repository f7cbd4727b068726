package entities_test

import (
	"reflect"
	"testing"

	"telegram-archiver/internal/domain/entities"
)

func TestExtractCategories(t *testing.T) {
	t.Parallel()

	x := entities.New()

	cases := []struct {
		name     string
		content  string
		self     string
		category string
		want     []string
	}{
		{
			name:     "hashtags",
			content:  "срочно #новости #сводка_дня и ещё раз #новости",
			category: entities.CategoryHashtags,
			want:     []string{"#новости", "#сводка_дня"},
		},
		{
			name:     "mentions",
			content:  "обсуждение у @some_channel и @another_one",
			category: entities.CategoryMentions,
			want:     []string{"@another_one", "@some_channel"},
		},
		{
			name:     "urls",
			content:  "подробнее: https://example.com/a?b=1 и http://news.local/x",
			category: entities.CategoryURLs,
			want:     []string{"http://news.local/x", "https://example.com/a?b=1"},
		},
		{
			name:     "telegramDeepLinks",
			content:  "источник https://t.me/milinfolive/12345 и t.me/osintual",
			category: entities.CategoryTelegram,
			want:     []string{"https://t.me/milinfolive/12345", "t.me/osintual"},
		},
		{
			name:     "coordinates",
			content:  "удар по координатам 48.5123, 37.9988",
			category: entities.CategoryCoordinates,
			want:     []string{"48.5123, 37.9988"},
		},
		{
			name:     "militaryUnits",
			content:  "позиции 47 ОМБр и 58 бригады",
			category: entities.CategoryMilUnits,
			want:     []string{"47 ОМБр", "58 бригады"},
		},
		{
			name:     "equipment",
			content:  "расчёт HIMARS отработал по С-400, рядом Ланцет",
			category: entities.CategoryEquipment,
			want:     []string{"HIMARS", "Ланцет", "С-400"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := x.Extract(tc.content, tc.self)
			if !reflect.DeepEqual(got[tc.category], tc.want) {
				t.Errorf("Extract()[%s] = %v, want %v", tc.category, got[tc.category], tc.want)
			}
		})
	}
}

func TestExtractFiltersSelfReferences(t *testing.T) {
	t.Parallel()

	x := entities.New()
	content := "подписывайтесь @our_channel, репост от @other_channel, https://t.me/our_channel/55"

	got := x.Extract(content, "our_channel")

	if !reflect.DeepEqual(got[entities.CategoryMentions], []string{"@other_channel"}) {
		t.Errorf("mentions = %v, want only @other_channel", got[entities.CategoryMentions])
	}
	if _, ok := got[entities.CategoryTelegram]; ok {
		t.Errorf("telegram_links = %v, want self link filtered", got[entities.CategoryTelegram])
	}
}

func TestExtractEmptyAndPlainText(t *testing.T) {
	t.Parallel()

	x := entities.New()

	if got := x.Extract("", "self"); got != nil {
		t.Errorf("Extract(empty) = %v, want nil", got)
	}
	if got := x.Extract("просто текст без сущностей", ""); got != nil {
		t.Errorf("Extract(plain) = %v, want nil", got)
	}
	if got := x.ExtractJSON("просто текст", ""); got != nil {
		t.Errorf("ExtractJSON(plain) = %s, want nil", got)
	}
}

func TestExtractRejectsOutOfRangeCoordinates(t *testing.T) {
	t.Parallel()

	x := entities.New()
	got := x.Extract("числа 123.4567, 250.9999 не координаты", "")
	if _, ok := got[entities.CategoryCoordinates]; ok {
		t.Errorf("coordinates = %v, want none", got[entities.CategoryCoordinates])
	}
}

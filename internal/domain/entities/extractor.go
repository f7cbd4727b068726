// Пакет entities извлекает структурированные сущности из текста сообщения
// чистыми regex-проходами, без I/O. Результат — JSON-объект массивов по
// категориям; пустые категории опускаются. Упоминания и t.me-ссылки на сам
// канал отфильтровываются, чтобы не плодить артефакты самоссылок
// (подписи вида «подписывайтесь на @наш_канал» есть почти в каждом посте).
package entities

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Категории результата. Ключи совпадают с полями JSON в колонке entities.
const (
	CategoryHashtags    = "hashtags"
	CategoryMentions    = "mentions"
	CategoryURLs        = "urls"
	CategoryTelegram    = "telegram_links"
	CategoryCoordinates = "coordinates"
	CategoryMilUnits    = "military_units"
	CategoryEquipment   = "equipment"
)

var (
	hashtagRe = regexp.MustCompile(`#[\p{L}\p{N}_]+`)
	mentionRe = regexp.MustCompile(`@[A-Za-z][A-Za-z0-9_]{3,31}`)
	urlRe     = regexp.MustCompile(`https?://[^\s<>"')\]]+`)
	tmeRe     = regexp.MustCompile(`(?:https?://)?t\.me/(?:s/)?([A-Za-z][A-Za-z0-9_]{3,31})(?:/\d+)?`)

	// Пары десятичных градусов: «48.5123, 37.9988» и похожие. Широта/долгота
	// валидируются по диапазону уже после матча.
	coordRe = regexp.MustCompile(`(-?\d{1,3}\.\d{3,8})[,;]\s*(-?\d{1,3}\.\d{3,8})`)

	// Номерные воинские формирования: «47 ОМБр», бригады, полки, батальоны в
	// русском и украинском написании. \b в RE2 работает только для ASCII,
	// поэтому границы слов заданы явными классами вокруг захватываемой группы.
	milUnitRe = regexp.MustCompile(
		`(?i)(?:^|[^\p{L}\p{N}])(\d{1,4}[\s-]?(?:` +
			`ОМБр|ОШБр|ОДШБр|ОГШБр|ОМПБр|ОАБр|ОреАБр|ОБрТрО|ОПБр|ОТБр|ОБрНГ|` +
			`омсбр|мсп|дшб|ОБТрО|` +
			`бригад[аыиу]|полк[ау]?|батальйон[ау]?|батальон[ау]?` +
			`))(?:$|[^\p{L}\p{N}])`)

	// Известные образцы техники и вооружения; список пополняется по мере
	// появления новых наименований в лентах.
	equipmentRe = regexp.MustCompile(
		`(?i)(?:^|[^\p{L}\p{N}])((?:` +
			`HIMARS|ATACMS|Storm\s?Shadow|SCALP|Patriot|NASAMS|IRIS-T|Leopard\s?[12]?A?\d?|` +
			`Abrams|Bradley|Stryker|CV90|Caesar|PzH\s?2000|Archer|M777|M109|HARM|JDAM|GLSDB|` +
			`Т-\d{2}[БМА]?\d?|БМП-\d|БТР-\d{2}|` +
			`Град|Смерч|Ураган|Искандер|Кинжал|Калибр|Ланцет|` +
			`Shahed(?:-13[16])?|Шахед|Герань-?2?|Mavic|FPV(?:-дрон)?|` +
			`С-[34]00|Бук-?М?\d?|Тор-?М?\d?|Панцирь(?:-С1)?` +
			`))(?:$|[^\p{L}\p{N}])`)
)

// Extractor выполняет regex-проходы по контенту. Потокобезопасен: всё
// состояние — предкомпилированные выражения пакета.
type Extractor struct{}

// New возвращает готовый к работе экстрактор.
func New() *Extractor {
	return &Extractor{}
}

// Extract возвращает карту категорий с найденными сущностями.
// selfUsername — username собственного канала (без @); совпадающие упоминания
// и deep-ссылки исключаются. Пустые категории не включаются в результат.
func (x *Extractor) Extract(content, selfUsername string) map[string][]string {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	out := make(map[string][]string)
	self := strings.ToLower(strings.TrimPrefix(selfUsername, "@"))

	put := func(category string, values []string) {
		if len(values) > 0 {
			out[category] = values
		}
	}

	put(CategoryHashtags, dedup(hashtagRe.FindAllString(content, -1)))

	mentions := make([]string, 0, 4)
	for _, m := range mentionRe.FindAllString(content, -1) {
		if self != "" && strings.EqualFold(strings.TrimPrefix(m, "@"), self) {
			continue
		}
		mentions = append(mentions, m)
	}
	put(CategoryMentions, dedup(mentions))

	tme := make([]string, 0, 4)
	urls := make([]string, 0, 4)
	for _, u := range urlRe.FindAllString(content, -1) {
		if sub := tmeRe.FindStringSubmatch(u); sub != nil {
			if self != "" && strings.EqualFold(sub[1], self) {
				continue
			}
			tme = append(tme, u)
			continue
		}
		urls = append(urls, u)
	}
	// t.me без схемы не матчится urlRe — добираем отдельным проходом.
	for _, sub := range tmeRe.FindAllStringSubmatch(content, -1) {
		if strings.HasPrefix(sub[0], "http") {
			continue
		}
		if self != "" && strings.EqualFold(sub[1], self) {
			continue
		}
		tme = append(tme, sub[0])
	}
	put(CategoryURLs, dedup(urls))
	put(CategoryTelegram, dedup(tme))

	coords := make([]string, 0, 2)
	for _, sub := range coordRe.FindAllStringSubmatch(content, -1) {
		if validCoordinate(sub[1], sub[2]) {
			coords = append(coords, sub[1]+", "+sub[2])
		}
	}
	put(CategoryCoordinates, dedup(coords))

	put(CategoryMilUnits, dedup(submatches(milUnitRe, content)))
	put(CategoryEquipment, dedup(submatches(equipmentRe, content)))

	if len(out) == 0 {
		return nil
	}
	return out
}

// ExtractJSON возвращает сущности как JSON-блоб для колонки entities.
// nil означает «ничего не извлечено» и хранится как NULL.
func (x *Extractor) ExtractJSON(content, selfUsername string) []byte {
	m := x.Extract(content, selfUsername)
	if m == nil {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return b
}

// validCoordinate проверяет диапазоны широты/долготы по строковым значениям.
func validCoordinate(latStr, lonStr string) bool {
	lat, latErr := strconv.ParseFloat(latStr, 64)
	lon, lonErr := strconv.ParseFloat(lonStr, 64)
	if latErr != nil || lonErr != nil {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180 && (lat != 0 || lon != 0)
}

// submatches возвращает первую захватываемую группу каждого совпадения.
func submatches(re *regexp.Regexp, content string) []string {
	subs := re.FindAllStringSubmatch(content, -1)
	if len(subs) == 0 {
		return nil
	}
	out := make([]string, 0, len(subs))
	for _, sub := range subs {
		out = append(out, sub[1])
	}
	return out
}

// dedup убирает дубликаты, сохраняя стабильный отсортированный порядок.
func dedup(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		key := strings.ToLower(v)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

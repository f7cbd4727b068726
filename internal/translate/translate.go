// Пакет translate — определение языка и перевод контента сообщений.
// Детекция локальная (whatlanggo, без сети); перевод ходит в DeepL-совместимый
// HTTP API. Любая ошибка перевода нефатальна: сообщение архивируется как есть.
package translate

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/abadojack/whatlanggo"
	"github.com/go-faster/errors"
)

// LangUnknown возвращается детектором при недостаточной уверенности.
const LangUnknown = ""

// Порог уверенности whatlanggo: ниже — считаем язык неопределённым и не
// тратим деньги на перевод.
const minConfidence = 0.5

// Стоимость DeepL API Pro: 25 USD за миллион символов. Храним оценку затрат
// рядом с переводом, чтобы видеть расход по каналам.
const costPerChar = 25.0 / 1_000_000

// DetectLanguage возвращает ISO 639-1 код языка текста или LangUnknown.
func DetectLanguage(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return LangUnknown
	}
	info := whatlanggo.Detect(text)
	if !info.IsReliable() || info.Confidence < minConfidence {
		return LangUnknown
	}
	return info.Lang.Iso6391()
}

// Result — итог одного перевода.
type Result struct {
	Text       string
	SourceLang string
	TargetLang string
	Provider   string
	CostUSD    float64
}

// Translator — клиент DeepL-совместимого API.
type Translator struct {
	apiKey     string
	apiURL     string
	targetLang string
	httpClient *http.Client
}

// Options — параметры клиента перевода.
type Options struct {
	APIKey string
	// APIURL — базовый URL; пустой означает официальный DeepL API.
	APIURL     string
	TargetLang string
}

// New создаёт клиент перевода.
func New(opts Options) *Translator {
	apiURL := opts.APIURL
	if apiURL == "" {
		apiURL = "https://api.deepl.com/v2/translate"
	}
	target := opts.TargetLang
	if target == "" {
		target = "en"
	}
	return &Translator{
		apiKey:     opts.APIKey,
		apiURL:     apiURL,
		targetLang: target,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// TargetLang возвращает целевой язык перевода.
func (t *Translator) TargetLang() string { return t.targetLang }

// ShouldTranslate решает, нужен ли перевод: язык определён и отличается от
// целевого. Неопределённый язык не переводим — на мусорном входе API вернёт
// мусор за деньги.
func (t *Translator) ShouldTranslate(sourceLang string) bool {
	return sourceLang != LangUnknown && !strings.EqualFold(sourceLang, t.targetLang)
}

type deeplResponse struct {
	Translations []struct {
		DetectedSourceLanguage string `json:"detected_source_language"`
		Text                   string `json:"text"`
	} `json:"translations"`
}

// Translate переводит текст на целевой язык. sourceLang подсказывает API
// исходный язык (пустой — автодетект на стороне провайдера).
func (t *Translator) Translate(ctx context.Context, text, sourceLang string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, errors.New("empty text")
	}
	if t.apiKey == "" {
		return Result{}, errors.New("translation api key is not configured")
	}

	form := url.Values{}
	form.Set("text", text)
	form.Set("target_lang", strings.ToUpper(t.targetLang))
	if sourceLang != LangUnknown {
		form.Set("source_lang", strings.ToUpper(sourceLang))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Result{}, errors.Wrap(err, "build request")
	}
	req.Header.Set("Authorization", "DeepL-Auth-Key "+t.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return Result{}, errors.Wrap(err, "translation request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, errors.Errorf("translation api status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded deeplResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Result{}, errors.Wrap(err, "decode response")
	}
	if len(decoded.Translations) == 0 {
		return Result{}, errors.New("translation api returned no translations")
	}

	tr := decoded.Translations[0]
	source := sourceLang
	if tr.DetectedSourceLanguage != "" {
		source = strings.ToLower(tr.DetectedSourceLanguage)
	}

	return Result{
		Text:       tr.Text,
		SourceLang: source,
		TargetLang: t.targetLang,
		Provider:   "deepl",
		CostUSD:    float64(len([]rune(text))) * costPerChar,
	}, nil
}

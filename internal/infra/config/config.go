// Пакет config отвечает за сбор и предоставление конфигурации всего приложения
// (архиватор Telegram-каналов). Он:
//  1. читает переменные окружения из .env (через godotenv),
//  2. нормализует и валидирует входные значения,
//  3. фиксирует результат как неизменяемый снимок EnvConfig.
//
// Бизнес-контекст: конфиг описывает подключение к Telegram API (учётные данные,
// файл сессии), брокеру (Redis Streams), реляционному хранилищу (Postgres) и
// объектному хранилищу (S3/MinIO), а также «ручки» дискавери, бэкфилла,
// перевода и обработчиков. Отсутствие обязательных значений — отказ от старта.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// EnvConfig описывает параметры, приходящие из окружения (.env). Это
// «операционные» настройки запуска: учётные данные MTProto, адреса внешних
// систем и лимиты конвейера. Значения уже прошли минимальную валидацию и
// нормализацию в loadConfig; в рантайме EnvConfig считается согласованным.
type EnvConfig struct {
	// Telegram MTProto
	APIID       int
	APIHash     string
	PhoneNumber string
	SessionFile string
	StateFile   string
	PeersFile   string
	TestDC      bool
	ThrottleRPS int

	// Источник набора каналов
	SourceAccount        string
	FolderArchivePattern string

	// Бэкфилл
	BackfillEnabled   bool
	BackfillMode      string // on_discovery | manual | scheduled
	BackfillStartDate time.Time
	BackfillBatchSize int
	BackfillDelay     time.Duration

	// Обнаружение «дыр» в ленте
	GapDetectionEnabled  bool
	GapThreshold         time.Duration
	GapCheckInterval     time.Duration
	GapMaxChannelsPerRun int

	// Дискавери
	DiscoveryInterval time.Duration

	// Перевод
	TranslationEnabled bool
	TranslationAPIKey  string
	TranslationAPIURL  string
	TranslationTarget  string

	// Обработчики
	ProcessorBatchSize int

	// Внешние системы
	RedisURL       string
	PostgresDSN    string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3Bucket       string
	S3UseSSL       bool
	MigrationsPath string

	// Завершение работы
	ShutdownTimeout time.Duration

	// Логирование
	LogLevel          string
	LogFile           string
	LogFileLevel      string
	LogFileMaxSize    int
	LogFileMaxBackups int
	LogFileMaxAge     int
	LogFileCompress   bool
}

// Config хранит конфигурацию среды и предупреждения, накопленные при загрузке.
type Config struct {
	Env      EnvConfig
	warnings []string
	mu       sync.RWMutex
}

// Значения по умолчанию для параметров окружения.
const (
	defaultSessionFile       = "data/session.bin"
	defaultStateFile         = "data/state.bbolt"
	defaultPeersFile         = "data/peers.bbolt"
	defaultThrottleRPS       = 1
	defaultFolderPattern     = "Archive"
	defaultBackfillMode      = "on_discovery"
	defaultBackfillBatch     = 100
	defaultBackfillDelayMS   = 1000
	defaultGapThresholdHours = 2
	defaultGapCheckSec       = 3600
	defaultGapMaxChannels    = 10
	defaultDiscoverySec      = 300
	defaultProcessorBatch    = 10
	defaultRedisURL          = "redis://localhost:6379/0"
	defaultMigrationsPath    = "migrations"
	defaultShutdownSec       = 30
	defaultTranslationTarget = "en"
	defaultLogLevel          = "info"
	defaultLogFileLevel      = "debug"
	defaultLogFileMaxSize    = 50
	defaultLogFileMaxBackups = 3
	defaultLogFileMaxAge     = 7
	defaultLogFileCompress   = true
)

var backfillModes = map[string]struct{}{
	"on_discovery": {},
	"manual":       {},
	"scheduled":    {},
}

var (
	cfgInstance *Config
	cfgDone     bool
)

// Load — точка входа для инициализации глобальной конфигурации. При первом
// вызове читает .env, формирует EnvConfig и фиксирует результат в singleton.
// Повторный вызов запрещён, чтобы избежать гонок конфигурации на старте.
func Load(envPath string) error {
	if cfgDone {
		return errors.New("config already loaded")
	}
	newCfg, err := loadConfig(envPath)
	if err != nil {
		return err
	}
	cfgInstance = newCfg
	cfgDone = true
	return nil
}

// loadConfig выполняет фактическую загрузку/валидацию без установки глобального
// состояния. Удобно для тестов: можно собрать временный Config и проверить его.
func loadConfig(envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	apiID, err := parseRequiredInt("API_ID")
	if err != nil {
		return nil, err
	}
	apiHash, err := requiredString("API_HASH")
	if err != nil {
		return nil, err
	}
	phone, err := requiredString("PHONE_NUMBER")
	if err != nil {
		return nil, err
	}
	postgresDSN, err := requiredString("POSTGRES_DSN")
	if err != nil {
		return nil, err
	}

	var warnings []string

	env := EnvConfig{
		APIID:       apiID,
		APIHash:     apiHash,
		PhoneNumber: phone,
		SessionFile: stringDefault("SESSION_FILE", defaultSessionFile, &warnings),
		StateFile:   stringDefault("STATE_FILE", defaultStateFile, &warnings),
		PeersFile:   stringDefault("PEERS_FILE", defaultPeersFile, &warnings),
		TestDC:      strings.EqualFold(strings.TrimSpace(os.Getenv("TEST_DC")), "true"),
		ThrottleRPS: parseIntDefault("THROTTLE_RPS", defaultThrottleRPS, greaterThanZero, &warnings),

		SourceAccount:        stringDefault("SOURCE_ACCOUNT", phone, nil),
		FolderArchivePattern: stringDefault("FOLDER_ARCHIVE_ALL_PATTERN", defaultFolderPattern, &warnings),

		BackfillEnabled:   parseBoolDefault("BACKFILL_ENABLED", true, &warnings),
		BackfillMode:      sanitizeBackfillMode(os.Getenv("BACKFILL_MODE"), &warnings),
		BackfillBatchSize: parseIntDefault("BACKFILL_BATCH_SIZE", defaultBackfillBatch, greaterThanZero, &warnings),
		BackfillDelay: time.Duration(parseIntDefault(
			"BACKFILL_DELAY_MS", defaultBackfillDelayMS, nonNegative, &warnings)) * time.Millisecond,

		GapDetectionEnabled: parseBoolDefault("GAP_DETECTION_ENABLED", true, &warnings),
		GapThreshold: time.Duration(parseIntDefault(
			"GAP_THRESHOLD_HOURS", defaultGapThresholdHours, greaterThanZero, &warnings)) * time.Hour,
		GapCheckInterval: time.Duration(parseIntDefault(
			"GAP_CHECK_INTERVAL_SECONDS", defaultGapCheckSec, greaterThanZero, &warnings)) * time.Second,
		GapMaxChannelsPerRun: parseIntDefault("GAP_MAX_CHANNELS_PER_CHECK", defaultGapMaxChannels, greaterThanZero, &warnings),

		DiscoveryInterval: time.Duration(parseIntDefault(
			"DISCOVERY_INTERVAL_SECONDS", defaultDiscoverySec, greaterThanZero, &warnings)) * time.Second,

		TranslationEnabled: parseBoolDefault("TRANSLATION_ENABLED", false, &warnings),
		TranslationAPIKey:  strings.TrimSpace(os.Getenv("TRANSLATION_API_KEY")),
		TranslationAPIURL:  strings.TrimSpace(os.Getenv("TRANSLATION_API_URL")),
		TranslationTarget:  stringDefault("TRANSLATION_TARGET_LANG", defaultTranslationTarget, nil),

		ProcessorBatchSize: parseIntDefault("PROCESSOR_BATCH_SIZE", defaultProcessorBatch, greaterThanZero, &warnings),

		RedisURL:       stringDefault("REDIS_URL", defaultRedisURL, &warnings),
		PostgresDSN:    postgresDSN,
		S3Endpoint:     strings.TrimSpace(os.Getenv("S3_ENDPOINT")),
		S3AccessKey:    strings.TrimSpace(os.Getenv("S3_ACCESS_KEY")),
		S3SecretKey:    strings.TrimSpace(os.Getenv("S3_SECRET_KEY")),
		S3Bucket:       stringDefault("S3_BUCKET", "telegram-media", &warnings),
		S3UseSSL:       parseBoolDefault("S3_USE_SSL", false, nil),
		MigrationsPath: stringDefault("MIGRATIONS_PATH", defaultMigrationsPath, nil),

		ShutdownTimeout: time.Duration(parseIntDefault(
			"SHUTDOWN_TIMEOUT_SECONDS", defaultShutdownSec, greaterThanZero, &warnings)) * time.Second,

		LogLevel:          sanitizeLogLevel(os.Getenv("LOG_LEVEL"), defaultLogLevel, &warnings),
		LogFile:           strings.TrimSpace(os.Getenv("LOG_FILE")),
		LogFileLevel:      sanitizeLogLevel(os.Getenv("LOG_FILE_LEVEL"), defaultLogFileLevel, nil),
		LogFileMaxSize:    parseIntDefault("LOG_FILE_MAX_SIZE_MB", defaultLogFileMaxSize, greaterThanZero, nil),
		LogFileMaxBackups: parseIntDefault("LOG_FILE_MAX_BACKUPS", defaultLogFileMaxBackups, nonNegative, nil),
		LogFileMaxAge:     parseIntDefault("LOG_FILE_MAX_AGE_DAYS", defaultLogFileMaxAge, nonNegative, nil),
		LogFileCompress:   parseBoolDefault("LOG_FILE_COMPRESS", defaultLogFileCompress, nil),
	}

	if env.BackfillStartDate, err = parseDateDefault("BACKFILL_START_DATE", &warnings); err != nil {
		return nil, err
	}

	return &Config{Env: env, warnings: warnings}, nil
}

// Warnings возвращает накопленные предупреждения, возникшие при загрузке .env
// (например, когда подставлено значение по умолчанию). Возвращается копия.
func Warnings() []string {
	cfgInstance.mu.RLock()
	defer cfgInstance.mu.RUnlock()
	result := make([]string, len(cfgInstance.warnings))
	copy(result, cfgInstance.warnings)
	return result
}

// Env возвращает EnvConfig из глобального singleton. Это неизменяемый снимок
// на момент загрузки; для обновления нужен перезапуск процесса.
func Env() EnvConfig {
	return cfgInstance.Env
}

// requiredString читает обязательную строковую переменную окружения.
func requiredString(name string) (string, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return "", fmt.Errorf("env %s must be set", name)
	}
	return v, nil
}

// parseRequiredInt читает обязательную целочисленную переменную окружения name.
// Используется для критичных параметров, без которых приложение не стартует.
func parseRequiredInt(name string) (int, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return 0, fmt.Errorf("env %s must be set", name)
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("env %s must be a valid integer: %w", name, err)
	}
	return v, nil
}

// parseIntDefault читает name как int. Если пусто/некорректно/не проходит
// дополнительную проверку validator — возвращает defaultVal и пишет предупреждение.
func parseIntDefault(name string, defaultVal int, validator func(int) bool, warnings *[]string) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %d", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid integer; using default %d", name, value, defaultVal)
		return defaultVal
	}
	if validator != nil && !validator(v) {
		appendWarningf(warnings, "env %s value %d does not satisfy constraints; using default %d", name, v, defaultVal)
		return defaultVal
	}
	return v
}

// parseBoolDefault читает name как bool. Если пусто/некорректно — возвращает
// defaultVal и пишет предупреждение.
func parseBoolDefault(name string, defaultVal bool, warnings *[]string) bool {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %v", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid boolean; using default %v", name, value, defaultVal)
		return defaultVal
	}
	return v
}

// parseDateDefault читает name как дату RFC3339 либо YYYY-MM-DD. Пустое
// значение допустимо: в этом случае точку старта бэкфилла задаёт оператор.
func parseDateDefault(name string, warnings *[]string) (time.Time, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; backfill start defaults to channel discovery time", name)
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("env %s value %q is not a valid date: %w", name, value, err)
	}
	return t, nil
}

// stringDefault возвращает валидное строковое значение либо fallback.
func stringDefault(name, fallback string, warnings *[]string) string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		appendWarningf(warnings, "env %s is not set; using default %q", name, fallback)
		return fallback
	}
	return v
}

// sanitizeBackfillMode ограничивает BACKFILL_MODE набором
// {on_discovery, manual, scheduled}. Всё остальное — режим по умолчанию.
func sanitizeBackfillMode(value string, warnings *[]string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		appendWarningf(warnings, "env BACKFILL_MODE is not set; using default %q", defaultBackfillMode)
		return defaultBackfillMode
	}
	if _, ok := backfillModes[v]; ok {
		return v
	}
	appendWarningf(warnings, "env BACKFILL_MODE value %q is invalid; using default %q", value, defaultBackfillMode)
	return defaultBackfillMode
}

// sanitizeLogLevel нормализует уровень логирования и ограничивает значения
// набором {debug, info, warn, error}. Всё остальное превращается в defaultVal.
func sanitizeLogLevel(level string, defaultVal string, warnings *[]string) string {
	lvl := strings.ToLower(strings.TrimSpace(level))
	if lvl == "" {
		appendWarningf(warnings, "env LOG_LEVEL is not set; using default %q", defaultVal)
		return defaultVal
	}
	switch lvl {
	case "debug", "info", "warn", "error":
		return lvl
	default:
		appendWarningf(warnings, "env LOG_LEVEL value %q is invalid; using default %q", level, defaultVal)
		return defaultVal
	}
}

// appendWarningf — служебная функция для накопления предупреждений о
// некорректных переменных окружения.
func appendWarningf(warnings *[]string, format string, args ...any) {
	if warnings == nil {
		return
	}
	*warnings = append(*warnings, fmt.Sprintf(format, args...))
}

// greaterThanZero / nonNegative — простые валидаторы чисел для parseIntDefault.
func greaterThanZero(v int) bool { return v > 0 }
func nonNegative(v int) bool     { return v >= 0 }

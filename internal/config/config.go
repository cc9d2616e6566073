// Пакет config — загрузка и валидация конфигурации мигратора.
//
// Порядок применения: встроенные значения по умолчанию → YAML-файл
// (если указан) → переменные окружения с префиксом MG_. Флаги CLI
// применяются поверх результата в cmd/archive-migrator.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Драйверы хранилища леджера.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// defaultFileTypes — типы файлов, переносимые по умолчанию.
var defaultFileTypes = []string{
	"jpg", "jpeg", "png", "gif",
	"mp4", "mov", "avi", "webm",
	"pdf", "doc", "docx", "xls", "xlsx", "ppt", "pptx", "txt", "csv", "zip",
}

// Config содержит все параметры конфигурации мигратора.
type Config struct {
	// --- Сервер ---

	// Адрес прослушивания HTTP-сервера
	Host string
	// Порт HTTP-сервера (webhook + API)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration

	// --- Леджер ---

	// Драйвер хранилища: postgres или memory (dev-режим без БД)
	DBDriver string
	// Хост PostgreSQL
	DBHost string
	// Порт PostgreSQL
	DBPort int
	// Имя базы данных
	DBName string
	// Имя пользователя PostgreSQL
	DBUser string
	// Пароль пользователя PostgreSQL
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Источник (Slack) ---

	// Bot token Slack Web API
	SlackBotToken string
	// Базовый URL Slack Web API
	SlackAPIURL string
	// Размер страницы files.list
	SlackPageSize int
	// Типы файлов, подлежащие переносу
	FileTypes []string
	// Максимальный размер файла в мегабайтах
	MaxFileSizeMB int

	// --- Google ---

	// Путь к JSON-ключу сервисного аккаунта (пусто — ADC)
	GoogleCredentialsPath string
	// ID проекта Google Cloud (для квот Vision/Video Intelligence)
	GoogleProjectID string
	// Корневая папка Google Drive
	DriveRootFolderID string
	// Shared drive (опционально)
	DriveSharedDriveID string
	// Включён ли анализ содержимого
	AnalysisEnabled bool
	// Функции Vision API
	VisionFeatures []string
	// Максимум результатов на функцию Vision API
	VisionMaxResults int
	// Функции Video Intelligence API
	VideoFeatures []string

	// --- Webhook ---

	// Секрет подписи запросов Slack
	WebhookSecret string
	// Путь webhook-эндпоинта
	WebhookEndpoint string
	// Допустимое расхождение timestamp запроса
	WebhookMaxSkew time.Duration
	// Запускать пакет сразу после приёма нового файла
	WebhookProcessImmediately bool

	// --- Миграция ---

	// Размер пакета RunBatch
	BatchSize int
	// Число одновременных переносов
	MaxConcurrent int
	// Максимум попыток для автоматического повтора failed
	RetryAttempts int
	// Автоматически возвращать failed в pending перед прогоном
	AutoRetry bool
	// Интервал планировщика
	MigrationInterval time.Duration
	// Таймаут загрузки из источника
	DownloadTimeout time.Duration
	// Таймаут анализа содержимого
	AnalyzeTimeout time.Duration
	// Таймаут выгрузки в Drive
	UploadTimeout time.Duration
	// Через сколько промежуточное состояние считается прерванным
	StalledAfter time.Duration
	// Каталог временных файлов (пусто — os.TempDir)
	DownloadDir string
	// Размер LRU-кэша папок назначения
	FolderCacheSize int
	// TTL записей LRU-кэша папок
	FolderCacheTTL time.Duration

	// --- Redis (защита webhook от повторов) ---

	// Адрес Redis (пусто — защита в памяти процесса)
	RedisAddr string
	// Пароль Redis
	RedisPassword string
	// Номер базы Redis
	RedisDB int

	// --- Kafka (события о результатах) ---

	// Брокеры Kafka (пусто — события не публикуются)
	KafkaBrokers []string
	// Топик событий
	KafkaTopic string

	// --- JWT (операторский API) ---

	// URL JWKS endpoint (пусто — API без аутентификации)
	JWTJWKSURL string
	// Ожидаемый issuer JWT (опционально)
	JWTIssuer string
	// Интервал обновления JWKS
	JWKSRefreshInterval time.Duration
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration

	// --- topologymetrics ---

	// Имя группы в метриках зависимостей
	DephealthGroup string
	// Интервал проверки зависимостей
	DephealthCheckInterval time.Duration
}

// fileConfig — структура YAML-файла конфигурации.
// Нулевые значения означают «не задано».
type fileConfig struct {
	Server struct {
		Host            string        `yaml:"host"`
		Port            int           `yaml:"port"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
	Database struct {
		Driver   string `yaml:"driver"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Name     string `yaml:"name"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		SSLMode  string `yaml:"ssl_mode"`
	} `yaml:"database"`
	Slack struct {
		Token         string   `yaml:"token"`
		APIURL        string   `yaml:"api_url"`
		PageSize      int      `yaml:"page_size"`
		FileTypes     []string `yaml:"file_types"`
		MaxFileSizeMB int      `yaml:"max_file_size_mb"`
	} `yaml:"slack"`
	Google struct {
		CredentialsPath string `yaml:"credentials_path"`
		ProjectID       string `yaml:"project_id"`
		DriveFolderID   string `yaml:"drive_folder_id"`
		SharedDriveID   string `yaml:"shared_drive_id"`
		Analysis        *bool  `yaml:"analysis_enabled"`
		Vision          struct {
			Features   []string `yaml:"features"`
			MaxResults int      `yaml:"max_results"`
		} `yaml:"vision"`
		VideoIntelligence struct {
			Features []string `yaml:"features"`
		} `yaml:"video_intelligence"`
	} `yaml:"google"`
	Webhook struct {
		Secret             string        `yaml:"secret"`
		Host               string        `yaml:"host"`
		Port               int           `yaml:"port"`
		Endpoint           string        `yaml:"endpoint"`
		MaxSkew            time.Duration `yaml:"max_skew"`
		ProcessImmediately *bool         `yaml:"process_immediately"`
	} `yaml:"webhook"`
	Migration struct {
		BatchSize              int           `yaml:"batch_size"`
		MaxConcurrentDownloads int           `yaml:"max_concurrent_downloads"`
		RetryAttempts          int           `yaml:"retry_attempts"`
		AutoRetry              *bool         `yaml:"auto_retry"`
		Interval               time.Duration `yaml:"interval"`
		DownloadTimeout        time.Duration `yaml:"download_timeout"`
		AnalyzeTimeout         time.Duration `yaml:"analyze_timeout"`
		UploadTimeout          time.Duration `yaml:"upload_timeout"`
		StalledAfter           time.Duration `yaml:"stalled_after"`
		DownloadDir            string        `yaml:"download_dir"`
		FolderCacheSize        int           `yaml:"folder_cache_size"`
		FolderCacheTTL         time.Duration `yaml:"folder_cache_ttl"`
	} `yaml:"migration"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Kafka struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"kafka"`
	Auth struct {
		JWKSURL         string        `yaml:"jwks_url"`
		Issuer          string        `yaml:"issuer"`
		RefreshInterval time.Duration `yaml:"jwks_refresh_interval"`
		ClientTimeout   time.Duration `yaml:"jwks_client_timeout"`
		Leeway          time.Duration `yaml:"leeway"`
	} `yaml:"auth"`
	Dephealth struct {
		Group         string        `yaml:"group"`
		CheckInterval time.Duration `yaml:"check_interval"`
	} `yaml:"dephealth"`
}

// Load загружает конфигурацию из YAML-файла path (если не пуст)
// и переменных окружения, валидирует и возвращает Config или ошибку.
func Load(path string) (*Config, error) {
	fc := &fileConfig{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("чтение файла конфигурации %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, fc); err != nil {
			return nil, fmt.Errorf("разбор файла конфигурации %s: %w", path, err)
		}
	}

	cfg := &Config{}
	var err error

	// --- Сервер ---

	// MG_HOST — адрес прослушивания (по умолчанию 0.0.0.0)
	cfg.Host = getEnvDefault("MG_HOST", pick(fc.Server.Host, pick(fc.Webhook.Host, "0.0.0.0")))

	// MG_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("MG_PORT", pick(fc.Server.Port, pick(fc.Webhook.Port, 8080)))
	if err != nil {
		return nil, fmt.Errorf("MG_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("MG_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// MG_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("MG_LOG_LEVEL", pick(fc.Logging.Level, "info")))
	if err != nil {
		return nil, fmt.Errorf("MG_LOG_LEVEL: %w", err)
	}

	// MG_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("MG_LOG_FORMAT", pick(fc.Logging.Format, "json"))
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("MG_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// MG_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 30s)
	cfg.ShutdownTimeout, err = getEnvDuration("MG_SHUTDOWN_TIMEOUT", pick(fc.Server.ShutdownTimeout, 30*time.Second))
	if err != nil {
		return nil, fmt.Errorf("MG_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- Леджер ---

	// MG_DB_DRIVER — postgres (по умолчанию) или memory
	cfg.DBDriver = getEnvDefault("MG_DB_DRIVER", pick(fc.Database.Driver, DriverPostgres))
	if cfg.DBDriver != DriverPostgres && cfg.DBDriver != DriverMemory {
		return nil, fmt.Errorf("MG_DB_DRIVER: недопустимое значение %q, допустимые: postgres, memory", cfg.DBDriver)
	}

	if cfg.DBDriver == DriverPostgres {
		// MG_DB_HOST, MG_DB_NAME, MG_DB_USER, MG_DB_PASSWORD — обязательные
		if cfg.DBHost, err = getEnvRequiredOr("MG_DB_HOST", fc.Database.Host); err != nil {
			return nil, err
		}
		if cfg.DBName, err = getEnvRequiredOr("MG_DB_NAME", fc.Database.Name); err != nil {
			return nil, err
		}
		if cfg.DBUser, err = getEnvRequiredOr("MG_DB_USER", fc.Database.User); err != nil {
			return nil, err
		}
		if cfg.DBPassword, err = getEnvRequiredOr("MG_DB_PASSWORD", fc.Database.Password); err != nil {
			return nil, err
		}
	}

	// MG_DB_PORT — порт PostgreSQL (по умолчанию 5432)
	cfg.DBPort, err = getEnvInt("MG_DB_PORT", pick(fc.Database.Port, 5432))
	if err != nil {
		return nil, fmt.Errorf("MG_DB_PORT: %w", err)
	}

	// MG_DB_SSL_MODE — режим SSL (по умолчанию disable)
	cfg.DBSSLMode = getEnvDefault("MG_DB_SSL_MODE", pick(fc.Database.SSLMode, "disable"))
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("MG_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- Источник (Slack) ---

	// MG_SLACK_BOT_TOKEN — обязательный
	if cfg.SlackBotToken, err = getEnvRequiredOr("MG_SLACK_BOT_TOKEN", fc.Slack.Token); err != nil {
		return nil, err
	}

	// MG_SLACK_API_URL — базовый URL Web API (по умолчанию https://slack.com/api)
	cfg.SlackAPIURL = strings.TrimRight(
		getEnvDefault("MG_SLACK_API_URL", pick(fc.Slack.APIURL, "https://slack.com/api")), "/")

	// MG_SLACK_PAGE_SIZE — размер страницы files.list (по умолчанию 200)
	cfg.SlackPageSize, err = getEnvInt("MG_SLACK_PAGE_SIZE", pick(fc.Slack.PageSize, 200))
	if err != nil {
		return nil, fmt.Errorf("MG_SLACK_PAGE_SIZE: %w", err)
	}
	if cfg.SlackPageSize < 1 || cfg.SlackPageSize > 1000 {
		return nil, fmt.Errorf("MG_SLACK_PAGE_SIZE: значение %d вне допустимого диапазона 1-1000", cfg.SlackPageSize)
	}

	// MG_SLACK_FILE_TYPES — типы файлов через запятую
	cfg.FileTypes = lowerAll(getEnvCSV("MG_SLACK_FILE_TYPES", pickSlice(fc.Slack.FileTypes, defaultFileTypes)))
	if len(cfg.FileTypes) == 0 {
		return nil, errors.New("MG_SLACK_FILE_TYPES: список типов файлов пуст")
	}

	// MG_SLACK_MAX_FILE_SIZE_MB — максимальный размер файла (по умолчанию 100)
	cfg.MaxFileSizeMB, err = getEnvInt("MG_SLACK_MAX_FILE_SIZE_MB", pick(fc.Slack.MaxFileSizeMB, 100))
	if err != nil {
		return nil, fmt.Errorf("MG_SLACK_MAX_FILE_SIZE_MB: %w", err)
	}
	if cfg.MaxFileSizeMB < 1 {
		return nil, fmt.Errorf("MG_SLACK_MAX_FILE_SIZE_MB: значение %d должно быть положительным", cfg.MaxFileSizeMB)
	}

	// --- Google ---

	cfg.GoogleCredentialsPath = getEnvDefault("MG_GOOGLE_CREDENTIALS_PATH", fc.Google.CredentialsPath)
	cfg.GoogleProjectID = getEnvDefault("MG_GOOGLE_PROJECT_ID", fc.Google.ProjectID)

	// MG_GOOGLE_DRIVE_FOLDER_ID — обязательный
	if cfg.DriveRootFolderID, err = getEnvRequiredOr("MG_GOOGLE_DRIVE_FOLDER_ID", fc.Google.DriveFolderID); err != nil {
		return nil, err
	}
	cfg.DriveSharedDriveID = getEnvDefault("MG_GOOGLE_SHARED_DRIVE_ID", fc.Google.SharedDriveID)

	// MG_ANALYSIS_ENABLED — анализ содержимого (по умолчанию true)
	cfg.AnalysisEnabled, err = getEnvBool("MG_ANALYSIS_ENABLED", pickBool(fc.Google.Analysis, true))
	if err != nil {
		return nil, fmt.Errorf("MG_ANALYSIS_ENABLED: %w", err)
	}

	cfg.VisionFeatures = upperAll(getEnvCSV("MG_GOOGLE_VISION_FEATURES", pickSlice(fc.Google.Vision.Features, []string{
		"LABEL_DETECTION", "TEXT_DETECTION", "FACE_DETECTION",
		"LANDMARK_DETECTION", "LOGO_DETECTION", "WEB_DETECTION",
	})))
	cfg.VisionMaxResults, err = getEnvInt("MG_GOOGLE_VISION_MAX_RESULTS", pick(fc.Google.Vision.MaxResults, 10))
	if err != nil {
		return nil, fmt.Errorf("MG_GOOGLE_VISION_MAX_RESULTS: %w", err)
	}
	cfg.VideoFeatures = upperAll(getEnvCSV("MG_GOOGLE_VIDEO_FEATURES", pickSlice(fc.Google.VideoIntelligence.Features, []string{
		"LABEL_DETECTION", "SHOT_CHANGE_DETECTION", "TEXT_DETECTION",
	})))

	// --- Webhook ---

	cfg.WebhookSecret = getEnvDefault("MG_WEBHOOK_SECRET", fc.Webhook.Secret)
	cfg.WebhookEndpoint = getEnvDefault("MG_WEBHOOK_ENDPOINT", pick(fc.Webhook.Endpoint, "/slack/webhook"))
	if !strings.HasPrefix(cfg.WebhookEndpoint, "/") {
		return nil, fmt.Errorf("MG_WEBHOOK_ENDPOINT: путь %q должен начинаться с /", cfg.WebhookEndpoint)
	}
	cfg.WebhookMaxSkew, err = getEnvDuration("MG_WEBHOOK_MAX_SKEW", pick(fc.Webhook.MaxSkew, 5*time.Minute))
	if err != nil {
		return nil, fmt.Errorf("MG_WEBHOOK_MAX_SKEW: %w", err)
	}
	cfg.WebhookProcessImmediately, err = getEnvBool("MG_WEBHOOK_PROCESS_IMMEDIATELY",
		pickBool(fc.Webhook.ProcessImmediately, false))
	if err != nil {
		return nil, fmt.Errorf("MG_WEBHOOK_PROCESS_IMMEDIATELY: %w", err)
	}

	// --- Миграция ---

	// MG_MIGRATION_BATCH_SIZE — размер пакета (по умолчанию 10)
	cfg.BatchSize, err = getEnvInt("MG_MIGRATION_BATCH_SIZE", pick(fc.Migration.BatchSize, 10))
	if err != nil {
		return nil, fmt.Errorf("MG_MIGRATION_BATCH_SIZE: %w", err)
	}
	// MG_MIGRATION_MAX_CONCURRENT — одновременных переносов (по умолчанию 5)
	cfg.MaxConcurrent, err = getEnvInt("MG_MIGRATION_MAX_CONCURRENT", pick(fc.Migration.MaxConcurrentDownloads, 5))
	if err != nil {
		return nil, fmt.Errorf("MG_MIGRATION_MAX_CONCURRENT: %w", err)
	}
	// MG_MIGRATION_RETRY_ATTEMPTS — попыток до отказа от автоповтора (по умолчанию 3)
	cfg.RetryAttempts, err = getEnvInt("MG_MIGRATION_RETRY_ATTEMPTS", pick(fc.Migration.RetryAttempts, 3))
	if err != nil {
		return nil, fmt.Errorf("MG_MIGRATION_RETRY_ATTEMPTS: %w", err)
	}
	cfg.AutoRetry, err = getEnvBool("MG_MIGRATION_AUTO_RETRY", pickBool(fc.Migration.AutoRetry, true))
	if err != nil {
		return nil, fmt.Errorf("MG_MIGRATION_AUTO_RETRY: %w", err)
	}

	durations := []struct {
		key  string
		dst  *time.Duration
		file time.Duration
		def  time.Duration
	}{
		{"MG_MIGRATION_INTERVAL", &cfg.MigrationInterval, fc.Migration.Interval, time.Minute},
		{"MG_MIGRATION_DOWNLOAD_TIMEOUT", &cfg.DownloadTimeout, fc.Migration.DownloadTimeout, 5 * time.Minute},
		{"MG_MIGRATION_ANALYZE_TIMEOUT", &cfg.AnalyzeTimeout, fc.Migration.AnalyzeTimeout, 5 * time.Minute},
		{"MG_MIGRATION_UPLOAD_TIMEOUT", &cfg.UploadTimeout, fc.Migration.UploadTimeout, 10 * time.Minute},
		{"MG_MIGRATION_STALLED_AFTER", &cfg.StalledAfter, fc.Migration.StalledAfter, 30 * time.Minute},
		{"MG_FOLDER_CACHE_TTL", &cfg.FolderCacheTTL, fc.Migration.FolderCacheTTL, time.Hour},
	}
	for _, d := range durations {
		*d.dst, err = getEnvDuration(d.key, pick(d.file, d.def))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.key, err)
		}
		if *d.dst <= 0 {
			return nil, fmt.Errorf("%s: длительность должна быть положительной", d.key)
		}
	}

	cfg.DownloadDir = getEnvDefault("MG_MIGRATION_DOWNLOAD_DIR", fc.Migration.DownloadDir)
	cfg.FolderCacheSize, err = getEnvInt("MG_FOLDER_CACHE_SIZE", pick(fc.Migration.FolderCacheSize, 1024))
	if err != nil {
		return nil, fmt.Errorf("MG_FOLDER_CACHE_SIZE: %w", err)
	}

	// --- Redis ---

	cfg.RedisAddr = getEnvDefault("MG_REDIS_ADDR", fc.Redis.Addr)
	cfg.RedisPassword = getEnvDefault("MG_REDIS_PASSWORD", fc.Redis.Password)
	cfg.RedisDB, err = getEnvInt("MG_REDIS_DB", fc.Redis.DB)
	if err != nil {
		return nil, fmt.Errorf("MG_REDIS_DB: %w", err)
	}

	// --- Kafka ---

	cfg.KafkaBrokers = getEnvCSV("MG_KAFKA_BROKERS", fc.Kafka.Brokers)
	cfg.KafkaTopic = getEnvDefault("MG_KAFKA_TOPIC", pick(fc.Kafka.Topic, "archive-migrator.outcomes"))

	// --- JWT ---

	cfg.JWTJWKSURL = getEnvDefault("MG_JWT_JWKS_URL", fc.Auth.JWKSURL)
	cfg.JWTIssuer = getEnvDefault("MG_JWT_ISSUER", fc.Auth.Issuer)
	cfg.JWKSRefreshInterval, err = getEnvDuration("MG_JWKS_REFRESH_INTERVAL", pick(fc.Auth.RefreshInterval, 15*time.Minute))
	if err != nil {
		return nil, fmt.Errorf("MG_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.JWKSClientTimeout, err = getEnvDuration("MG_JWKS_CLIENT_TIMEOUT", pick(fc.Auth.ClientTimeout, 10*time.Second))
	if err != nil {
		return nil, fmt.Errorf("MG_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	cfg.JWTLeeway, err = getEnvDuration("MG_JWT_LEEWAY", pick(fc.Auth.Leeway, 5*time.Second))
	if err != nil {
		return nil, fmt.Errorf("MG_JWT_LEEWAY: %w", err)
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("MG_DEPHEALTH_GROUP", pick(fc.Dephealth.Group, "archive-migrator"))
	cfg.DephealthCheckInterval, err = getEnvDuration("MG_DEPHEALTH_CHECK_INTERVAL", pick(fc.Dephealth.CheckInterval, 15*time.Second))
	if err != nil {
		return nil, fmt.Errorf("MG_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	if err := cfg.validateMigration(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyOverrides применяет значения флагов CLI поверх загруженной
// конфигурации. Нулевые значения игнорируются.
func (c *Config) ApplyOverrides(batchSize, maxConcurrent int) error {
	if batchSize > 0 {
		c.BatchSize = batchSize
	}
	if maxConcurrent > 0 {
		c.MaxConcurrent = maxConcurrent
	}
	return c.validateMigration()
}

// ValidateWebhook проверяет параметры, обязательные для режима serve.
func (c *Config) ValidateWebhook() error {
	if c.WebhookSecret == "" {
		return errors.New("MG_WEBHOOK_SECRET: обязательная переменная окружения не задана")
	}
	return nil
}

// validateMigration проверяет диапазоны параметров пула.
func (c *Config) validateMigration() error {
	if c.BatchSize < 1 || c.BatchSize > 10000 {
		return fmt.Errorf("MG_MIGRATION_BATCH_SIZE: значение %d вне допустимого диапазона 1-10000", c.BatchSize)
	}
	if c.MaxConcurrent < 1 || c.MaxConcurrent > 256 {
		return fmt.Errorf("MG_MIGRATION_MAX_CONCURRENT: значение %d вне допустимого диапазона 1-256", c.MaxConcurrent)
	}
	if c.RetryAttempts < 0 {
		return fmt.Errorf("MG_MIGRATION_RETRY_ATTEMPTS: значение %d не может быть отрицательным", c.RetryAttempts)
	}
	return nil
}

// MaxFileSizeBytes возвращает предел размера файла в байтах.
func (c *Config) MaxFileSizeBytes() int64 {
	return int64(c.MaxFileSizeMB) * 1024 * 1024
}

// ListenAddr возвращает адрес HTTP-сервера.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для лейблов метрик).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%d/%s", c.DBHost, c.DBPort, c.DBName)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequiredOr возвращает значение переменной окружения, значение
// из файла или ошибку, если не задано ни то, ни другое.
func getEnvRequiredOr(key, fileVal string) (string, error) {
	val := getEnvDefault(key, fileVal)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// getEnvCSV возвращает список из переменной окружения или значение по умолчанию.
func getEnvCSV(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return parseCSV(val)
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// pick возвращает fileVal, если оно задано, иначе def.
func pick[T comparable](fileVal, def T) T {
	var zero T
	if fileVal != zero {
		return fileVal
	}
	return def
}

// pickSlice возвращает fileVal, если список не пуст, иначе def.
func pickSlice(fileVal, def []string) []string {
	if len(fileVal) > 0 {
		return fileVal
	}
	return def
}

// pickBool возвращает *fileVal, если значение задано в файле, иначе def.
func pickBool(fileVal *bool, def bool) bool {
	if fileVal != nil {
		return *fileVal
	}
	return def
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.TrimPrefix(strings.ToLower(s), "."))
	}
	return out
}

func upperAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToUpper(s))
	}
	return out
}

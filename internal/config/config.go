// Пакет config — загрузка и валидация конфигурации rcd
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Допустимые движки хранения пользовательских баз.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Config содержит все параметры конфигурации rcd.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (клиентский и межхостовый API)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL (системное хранилище) ---

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

	// --- Пользовательские базы ---

	// Движок хранения: postgres (схема на базу) или sqlite (файл на базу)
	Backend string
	// Каталог файлов SQLite
	SQLiteDir string

	// --- Идентичность хоста ---

	// Имя хоста, сообщаемое участникам
	HostName string
	// Адрес, по которому участники обращаются к этому процессу
	AdvertiseAddr string
	// Порт, по которому участники обращаются к этому процессу
	AdvertisePort int

	// --- Удалённые вызовы ---

	// Таймаут одного вызова к хосту или участнику
	RemoteTimeout time.Duration
	// Путь к CA-сертификату для TLS-соединений с удалёнными rcd (опционально)
	RemoteCACertPath string

	// --- Аутентификация клиентов ---

	// Имя начального администратора (создаётся при старте, если задан)
	AdminUser string
	// Пароль начального администратора
	AdminPassword string
	// Секрет подписи JWT (HS256)
	JWTSecret string
	// Время жизни выданного JWT
	JWTTTL time.Duration

	// --- Кэш политик ---

	// Максимальное количество записей кэша политик хранения
	PolicyCacheSize int
	// Время жизни записи кэша политик хранения
	PolicyCacheTTL time.Duration

	// --- Мониторинг зависимостей ---

	// Группа сервиса в topologymetrics
	DephealthGroup string
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Базовые URL удалённых rcd, за доступностью которых следить
	DephealthPeers []string

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// RCD_PORT — порт HTTP-сервера (по умолчанию 8050)
	cfg.Port, err = getEnvInt("RCD_PORT", 8050)
	if err != nil {
		return nil, fmt.Errorf("RCD_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("RCD_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// RCD_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("RCD_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("RCD_LOG_LEVEL: %w", err)
	}

	// RCD_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("RCD_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("RCD_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- PostgreSQL ---

	cfg.DBHost, err = getEnvRequired("RCD_DB_HOST")
	if err != nil {
		return nil, err
	}

	cfg.DBPort, err = getEnvInt("RCD_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("RCD_DB_PORT: %w", err)
	}

	cfg.DBName, err = getEnvRequired("RCD_DB_NAME")
	if err != nil {
		return nil, err
	}

	cfg.DBUser, err = getEnvRequired("RCD_DB_USER")
	if err != nil {
		return nil, err
	}

	cfg.DBPassword, err = getEnvRequired("RCD_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	cfg.DBSSLMode = getEnvDefault("RCD_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("RCD_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- Пользовательские базы ---

	// RCD_BACKEND — движок хранения (по умолчанию postgres)
	cfg.Backend = strings.ToLower(getEnvDefault("RCD_BACKEND", BackendPostgres))
	if cfg.Backend != BackendPostgres && cfg.Backend != BackendSQLite {
		return nil, fmt.Errorf("RCD_BACKEND: недопустимое значение %q, допустимые: postgres, sqlite", cfg.Backend)
	}

	// RCD_SQLITE_DIR — каталог файлов SQLite (по умолчанию ./data)
	cfg.SQLiteDir = getEnvDefault("RCD_SQLITE_DIR", "./data")

	// --- Идентичность хоста ---

	// RCD_HOST_NAME — по умолчанию имя машины
	defaultHostName, _ := os.Hostname()
	if defaultHostName == "" {
		defaultHostName = "rcd"
	}
	cfg.HostName = getEnvDefault("RCD_HOST_NAME", defaultHostName)

	// RCD_ADVERTISE_ADDR — адрес для участников (по умолчанию HostName)
	cfg.AdvertiseAddr = getEnvDefault("RCD_ADVERTISE_ADDR", cfg.HostName)

	// RCD_ADVERTISE_PORT — порт для участников (по умолчанию RCD_PORT)
	cfg.AdvertisePort, err = getEnvInt("RCD_ADVERTISE_PORT", cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("RCD_ADVERTISE_PORT: %w", err)
	}

	// --- Удалённые вызовы ---

	// RCD_REMOTE_TIMEOUT — таймаут удалённого вызова (по умолчанию 10s)
	cfg.RemoteTimeout, err = getEnvDuration("RCD_REMOTE_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("RCD_REMOTE_TIMEOUT: %w", err)
	}
	if cfg.RemoteTimeout <= 0 {
		return nil, fmt.Errorf("RCD_REMOTE_TIMEOUT: значение должно быть положительным")
	}

	cfg.RemoteCACertPath = getEnvDefault("RCD_REMOTE_CA_CERT_PATH", "")

	// --- Аутентификация клиентов ---

	cfg.AdminUser = getEnvDefault("RCD_ADMIN_USER", "")
	cfg.AdminPassword = getEnvDefault("RCD_ADMIN_PASSWORD", "")
	if cfg.AdminUser != "" && cfg.AdminPassword == "" {
		return nil, fmt.Errorf("RCD_ADMIN_PASSWORD: обязателен, если задан RCD_ADMIN_USER")
	}

	cfg.JWTSecret, err = getEnvRequired("RCD_JWT_SECRET")
	if err != nil {
		return nil, err
	}

	// RCD_JWT_TTL — время жизни токена (по умолчанию 1h)
	cfg.JWTTTL, err = getEnvDuration("RCD_JWT_TTL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("RCD_JWT_TTL: %w", err)
	}

	// --- Кэш политик ---

	cfg.PolicyCacheSize, err = getEnvInt("RCD_POLICY_CACHE_SIZE", 1024)
	if err != nil {
		return nil, fmt.Errorf("RCD_POLICY_CACHE_SIZE: %w", err)
	}
	if cfg.PolicyCacheSize < 1 {
		return nil, fmt.Errorf("RCD_POLICY_CACHE_SIZE: значение %d должно быть больше 0", cfg.PolicyCacheSize)
	}

	cfg.PolicyCacheTTL, err = getEnvDuration("RCD_POLICY_CACHE_TTL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("RCD_POLICY_CACHE_TTL: %w", err)
	}

	// --- Мониторинг зависимостей ---

	cfg.DephealthGroup = getEnvDefault("RCD_DEPHEALTH_GROUP", "rcd")

	cfg.DephealthCheckInterval, err = getEnvDuration("RCD_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("RCD_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	cfg.DephealthPeers = parseCSV(getEnvDefault("RCD_DEPHEALTH_PEERS", ""))

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("RCD_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("RCD_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL (postgres://host:port/dbname) без
// учётных данных. Используется в лейблах метрик topologymetrics.
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

func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

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
// Пустые элементы игнорируются.
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

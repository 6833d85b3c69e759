package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config содержит конфигурацию сервиса storyboard.
type Config struct {
	// HTTP server
	HTTPPort    string `envconfig:"HTTP_PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9091"`

	// Logging
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogEncoding string `envconfig:"LOG_ENCODING" default:"json"`

	// Разрешенные CORS origins через запятую.
	CORSAllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS" default:""`

	// PostgreSQL
	DBHost        string        `envconfig:"DB_HOST" default:"localhost"`
	DBPort        string        `envconfig:"DB_PORT" default:"5432"`
	DBUser        string        `envconfig:"DB_USER" default:"postgres"`
	DBPassword    string        `envconfig:"DB_PASSWORD" default:"postgres"`
	DBName        string        `envconfig:"DB_NAME" default:"storyboard_db"`
	DBSSLMode     string        `envconfig:"DB_SSL_MODE" default:"disable"`
	DBMaxConns    int           `envconfig:"DB_MAX_CONNECTIONS" default:"10"`
	DBIdleTimeout time.Duration `envconfig:"DB_MAX_IDLE_MINUTES" default:"5m"`
	MigrationsDir string        `envconfig:"MIGRATIONS_DIR" default:"migrations"`

	// Redis (credential pool and small settings)
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// Gemini (ключи хранятся в Redis, не в окружении)
	GeminiTextModel  string        `envconfig:"GEMINI_TEXT_MODEL" default:"gemini-2.5-flash"`
	GeminiProModel   string        `envconfig:"GEMINI_PRO_MODEL" default:"gemini-2.5-pro"`
	GeminiImageModel string        `envconfig:"GEMINI_IMAGE_MODEL" default:"gemini-2.5-flash-image"`
	GeminiTimeout    time.Duration `envconfig:"GEMINI_TIMEOUT" default:"120s"`

	// Retry profile for pooled-credential calls
	ExecMaxAttempts int           `envconfig:"EXEC_MAX_ATTEMPTS" default:"5"`
	ExecBaseBackoff time.Duration `envconfig:"EXEC_BASE_BACKOFF" default:"3s"`
	ExecMaxJitter   time.Duration `envconfig:"EXEC_MAX_JITTER" default:"1s"`

	// AIVideoAuto
	AIVideoBaseURL     string        `envconfig:"AIVIDEO_BASE_URL" default:"https://api.gommo.net/ai"`
	AIVideoDomain      string        `envconfig:"AIVIDEO_DOMAIN" default:"aivideoauto.com"`
	AIVideoTimeout     time.Duration `envconfig:"AIVIDEO_TIMEOUT" default:"60s"`
	AIVideoAccessToken string        `envconfig:"AIVIDEO_ACCESS_TOKEN" default:""`

	// WhomeAI (single fixed credential, short retry profile)
	WhomeAIBaseURL     string        `envconfig:"WHOMEAI_BASE_URL" default:"https://api.whomeai.com/v1"`
	WhomeAIImageModel  string        `envconfig:"WHOMEAI_IMAGE_MODEL" default:"nano-banana"`
	WhomeAIEditModel   string        `envconfig:"WHOMEAI_EDIT_MODEL" default:"nano-banana-r2i"`
	WhomeAITimeout     time.Duration `envconfig:"WHOMEAI_TIMEOUT" default:"120s"`
	WhomeAIMaxAttempts int           `envconfig:"WHOMEAI_MAX_ATTEMPTS" default:"3"`
	WhomeAIBaseBackoff time.Duration `envconfig:"WHOMEAI_BASE_BACKOFF" default:"2s"`
	WhomeAIAPIKey      string        `envconfig:"WHOMEAI_API_KEY" default:""`

	// Scene batch generation and pacing
	SceneSeconds      float64       `envconfig:"SCENE_SECONDS" default:"8"`
	SceneMaxStalls    int           `envconfig:"SCENE_MAX_STALLS" default:"5"`
	SceneEmitDelay    time.Duration `envconfig:"SCENE_EMIT_DELAY" default:"200ms"`
	BatchPacingDelay  time.Duration `envconfig:"BATCH_PACING_DELAY" default:"2s"`
	AutosaveDebounce  time.Duration `envconfig:"AUTOSAVE_DEBOUNCE" default:"2s"`
	VideoPollInterval time.Duration `envconfig:"VIDEO_POLL_INTERVAL" default:"10s"`
	VideoPollTimeout  time.Duration `envconfig:"VIDEO_POLL_TIMEOUT" default:"10m"`
}

// GetAllowedOrigins возвращает список разрешенных CORS origins.
func (c *Config) GetAllowedOrigins() []string {
	if c.CORSAllowedOrigins == "" {
		return nil
	}
	parts := strings.Split(c.CORSAllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

// GetDSN возвращает строку подключения (DSN) для PostgreSQL.
func (c *Config) GetDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// LoadConfig загружает конфигурацию из .env файла и переменных окружения.
func LoadConfig() (*Config, error) {
	// .env не обязателен: в проде переменные задаются окружением.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}

	log.Printf("Конфигурация загружена:")
	log.Printf("  HTTP Port: %s, Metrics Port: %s", cfg.HTTPPort, cfg.MetricsPort)
	log.Printf("  DB DSN: %s", cfg.getMaskedDSN())
	log.Printf("  Redis: %s (db %d)", cfg.RedisAddr, cfg.RedisDB)
	log.Printf("  Gemini Models: text=%s pro=%s image=%s, Timeout: %v",
		cfg.GeminiTextModel, cfg.GeminiProModel, cfg.GeminiImageModel, cfg.GeminiTimeout)
	log.Printf("  Executor: max attempts=%d, base backoff=%v, jitter=%v",
		cfg.ExecMaxAttempts, cfg.ExecBaseBackoff, cfg.ExecMaxJitter)
	log.Printf("  AIVideoAuto Base URL: %s (domain %s)", cfg.AIVideoBaseURL, cfg.AIVideoDomain)
	log.Printf("  WhomeAI Base URL: %s, max attempts=%d, base backoff=%v",
		cfg.WhomeAIBaseURL, cfg.WhomeAIMaxAttempts, cfg.WhomeAIBaseBackoff)
	log.Printf("  Scenes: %.0fs per scene, max stalls=%d, pacing=%v",
		cfg.SceneSeconds, cfg.SceneMaxStalls, cfg.BatchPacingDelay)
	log.Printf("  Video Poll: every %v, timeout %v", cfg.VideoPollInterval, cfg.VideoPollTimeout)

	return &cfg, nil
}

// getMaskedDSN возвращает DSN с замаскированным паролем для логирования.
func (c *Config) getMaskedDSN() string {
	dsn := c.GetDSN()
	parts := strings.Split(dsn, "@")
	if len(parts) != 2 {
		return "[invalid dsn format]"
	}
	userInfo := strings.Split(parts[0], ":")
	if len(userInfo) >= 2 {
		userInfo[len(userInfo)-1] = "********"
	}
	return strings.Join(userInfo, ":") + "@" + parts[1]
}

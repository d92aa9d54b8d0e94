package config

import (
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type HTTP struct {
	Addr              string        `yaml:"addr" env:"HTTP_ADDR" env-default:":8080"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" env:"HTTP_READ_HEADER_TIMEOUT" env-default:"10s"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"15s"`
	RequestsPerMinute int           `yaml:"requests_per_minute" env:"HTTP_REQUESTS_PER_MINUTE" env-default:"0"`
	RequestBurst      int           `yaml:"request_burst" env:"HTTP_REQUEST_BURST" env-default:"10"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes" env:"HTTP_MAX_BODY_BYTES" env-default:"1048576"`
}

type Gateway struct {
	APIKey           string            `yaml:"api_key" env:"GATEWAY_API_KEY,LOVABLE_API_KEY"`
	BaseURL          string            `yaml:"base_url" env:"GATEWAY_BASE_URL" env-default:"https://ai.gateway.lovable.dev/v1"`
	DefaultModel     string            `yaml:"default_model" env:"GATEWAY_DEFAULT_MODEL" env-default:"google/gemini-3-flash-preview"`
	Models           map[string]string `yaml:"models" env:"GATEWAY_MODELS"`
	MaxContextTokens int               `yaml:"max_context_tokens" env:"GATEWAY_MAX_CONTEXT_TOKENS" env-default:"0"`
	// Timeout bounds the wait for upstream response headers, not the stream.
	Timeout          time.Duration     `yaml:"timeout" env:"GATEWAY_TIMEOUT" env-default:"0s"`
}

type Assistant struct {
	Enabled      bool   `yaml:"enabled" env:"ASSISTANT_ENABLED" env-default:"true"`
	SystemPrompt string `yaml:"system_prompt" env:"ASSISTANT_SYSTEM_PROMPT"`
	Model        string `yaml:"model" env:"ASSISTANT_MODEL"`
}

type Storage struct {
	// Personas is one of: memory, redis, postgres.
	Personas string `yaml:"personas" env:"STORAGE_PERSONAS" env-default:"memory"`
	// ChatLog is one of: none, memory, redis, postgres, sqlite.
	ChatLog      string `yaml:"chat_log" env:"STORAGE_CHAT_LOG" env-default:"memory"`
	PersonasFile string `yaml:"personas_file" env:"STORAGE_PERSONAS_FILE"`
}

type Redis struct {
	Endpoint string `yaml:"endpoint" env:"REDIS_ENDPOINT" env-default:"localhost:6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

type Postgres struct {
	DSN            string        `yaml:"dsn" env:"POSTGRES_DSN"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"POSTGRES_CONNECT_TIMEOUT" env-default:"5s"`
}

type SQLite struct {
	Path string `yaml:"path" env:"SQLITE_PATH" env-default:"chat-log.db"`
}

type Client struct {
	RelayURL       string        `yaml:"relay_url" env:"CLIENT_RELAY_URL" env-default:"http://localhost:8080/chat"`
	RelayAuthToken string        `yaml:"relay_auth_token" env:"CLIENT_RELAY_AUTH_TOKEN"`
	MaxPartialSize int           `yaml:"max_partial_size" env:"CLIENT_MAX_PARTIAL_SIZE" env-default:"65536"`
	PersistTimeout time.Duration `yaml:"persist_timeout" env:"CLIENT_PERSIST_TIMEOUT" env-default:"5s"`
}

type Telegram struct {
	TelegramAPIToken  string        `yaml:"api_token" env:"TELEGRAM_APITOKEN"`
	AllowedTelegramID []int64       `yaml:"allowed_telegram_id" env:"ALLOWED_TELEGRAM_ID" env-separator:","`
	DefaultPersona    string        `yaml:"default_persona" env:"TELEGRAM_DEFAULT_PERSONA"`
	EditInterval      time.Duration `yaml:"edit_interval" env:"TELEGRAM_EDIT_INTERVAL" env-default:"2500ms"`
}

type Log struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"text"`
}

type Config struct {
	HTTP      HTTP      `yaml:"http"`
	Gateway   Gateway   `yaml:"gateway"`
	Assistant Assistant `yaml:"assistant"`
	Storage   Storage   `yaml:"storage"`
	Redis     Redis     `yaml:"redis"`
	Postgres  Postgres  `yaml:"postgres"`
	SQLite    SQLite    `yaml:"sqlite"`
	Client    Client    `yaml:"client"`
	Telegram  Telegram  `yaml:"telegram"`
	Log       Log       `yaml:"log"`
}

// LoadConfig reads cfgPath when given and then overlays the environment.
func LoadConfig(cfgPath string) (*Config, error) {
	var cfg Config
	if cfgPath != "" {
		if err := cleanenv.ReadConfig(cfgPath, &cfg); err != nil {
			return nil, err
		}
		return &cfg, nil
	}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

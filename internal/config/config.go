package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type ServerConfig struct {
	Addr     string
	APIToken string
	Timezone string

	StoreBackend string
	DataDir      string
	DatabaseURL  string
	RedisURL     string
	RedisPrefix  string

	NATSURL     string
	NATSSubject string

	DiscordToken      string
	AdminUserIDs      []string
	ActiveChannelIDs  []string
	StockChannelID    string
	TerminalChannelID string

	TickSchedule     string
	DividendSchedule string
	DecaySchedule    string
	RunOnce          bool

	Economy Economy
}

type CLIConfig struct {
	APIBaseURL string
	UserID     string
	APIToken   string
}

func LoadServerFromEnv() (ServerConfig, error) {
	_ = godotenv.Load()

	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("CH3FX_API_ADDR", ":8080")
	}

	cfg := ServerConfig{
		Addr:              addr,
		APIToken:          strings.TrimSpace(os.Getenv("CH3FX_API_TOKEN")),
		Timezone:          envDefault("CH3FX_TIMEZONE", "America/New_York"),
		StoreBackend:      strings.ToLower(envDefault("CH3FX_STORE", "file")),
		DataDir:           envDefault("CH3FX_DATA_DIR", "data"),
		DatabaseURL:       strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisURL:          strings.TrimSpace(os.Getenv("REDIS_URL")),
		RedisPrefix:       envDefault("CH3FX_REDIS_PREFIX", "ch3fx:"),
		NATSURL:           strings.TrimSpace(os.Getenv("NATS_URL")),
		NATSSubject:       envDefault("CH3FX_NATS_SUBJECT", "ch3fx.events"),
		DiscordToken:      strings.TrimSpace(os.Getenv("DISCORD_BOT_TOKEN")),
		AdminUserIDs:      envList("CH3FX_ADMIN_USER_IDS"),
		ActiveChannelIDs:  envList("CH3FX_ACTIVE_CHANNEL_IDS"),
		StockChannelID:    strings.TrimSpace(os.Getenv("CH3FX_STOCK_CHANNEL_ID")),
		TerminalChannelID: strings.TrimSpace(os.Getenv("CH3FX_TERMINAL_CHANNEL_ID")),
		TickSchedule:      envDefault("CH3FX_TICK_SCHEDULE", "@every 45m"),
		DividendSchedule:  envDefault("CH3FX_DIVIDEND_SCHEDULE", "5 0 * * *"),
		DecaySchedule:     envDefault("CH3FX_DECAY_SCHEDULE", "@every 6h"),
		RunOnce:           envBoolDefault("CH3FX_RUN_ONCE", false),
		Economy:           DefaultEconomy(),
	}

	if path := strings.TrimSpace(os.Getenv("CH3FX_ECONOMY_FILE")); path != "" {
		econ, err := LoadEconomyFile(path, cfg.Economy)
		if err != nil {
			return cfg, err
		}
		cfg.Economy = econ
	}
	cfg.Economy.RegimeCooldown = envDurationDefault("CH3FX_REGIME_COOLDOWN", cfg.Economy.RegimeCooldown)

	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return cfg, fmt.Errorf("invalid CH3FX_TIMEZONE %q: %w", cfg.Timezone, err)
	}
	switch cfg.StoreBackend {
	case "file", "memory":
	case "postgres":
		if cfg.DatabaseURL == "" {
			return cfg, fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	case "redis":
		if cfg.RedisURL == "" {
			return cfg, fmt.Errorf("REDIS_URL is required for the redis store")
		}
	default:
		return cfg, fmt.Errorf("unknown CH3FX_STORE %q (want file, postgres, redis or memory)", cfg.StoreBackend)
	}
	if err := cfg.Economy.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	_ = godotenv.Load()
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("STK_API_BASE_URL", "http://localhost:8080"), "/"),
		UserID:     strings.TrimSpace(os.Getenv("STK_USER_ID")),
		APIToken:   strings.TrimSpace(os.Getenv("STK_API_TOKEN")),
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

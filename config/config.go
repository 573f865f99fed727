package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port           string      `yaml:"port"`
	Environment    string      `yaml:"environment"`
	AllowedOrigins []string    `yaml:"allowedOrigins"`
	JWTSecret      string      `yaml:"jwtSecret"`
	RequireAuth    bool        `yaml:"requireAuth"`
	LogLevel       string      `yaml:"logLevel"`
	PresenceMirror string      `yaml:"presenceMirror"`
	Redis          RedisConfig `yaml:"redis"`
	Call           CallConfig  `yaml:"call"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// CallConfig holds the timings and ICE setup used by call clients
type CallConfig struct {
	// How long an unanswered call rings before it times out.
	RingTimeout time.Duration `yaml:"ringTimeout"`
	// How long an ended call stays visible before the session returns to idle.
	EndedGrace time.Duration `yaml:"endedGrace"`
	// A repeated incoming call from the same peer inside this window is a retransmission.
	DuplicateWindow time.Duration `yaml:"duplicateWindow"`
	// Upper bound for local media acquisition.
	MediaTimeout time.Duration `yaml:"mediaTimeout"`
	ICEServers   []string      `yaml:"iceServers"`
}

const (
	MirrorRedis = "redis"
	MirrorNone  = "none"
)

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		Port:           "8080",
		Environment:    "development",
		AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		JWTSecret:      "change-me-in-production",
		LogLevel:       "info",
		PresenceMirror: MirrorRedis,
		Redis: RedisConfig{
			Host: "localhost",
			Port: "6379",
		},
		Call: DefaultCall(),
	}
}

// DefaultCall returns the call timings used by the browser client
func DefaultCall() CallConfig {
	return CallConfig{
		RingTimeout:     30 * time.Second,
		EndedGrace:      2 * time.Second,
		DuplicateWindow: time.Second,
		MediaTimeout:    15 * time.Second,
		ICEServers:      []string{"stun:stun.l.google.com:19302"},
	}
}

// Load builds the config from defaults, an optional YAML file named by
// CONFIG_FILE, and finally environment variables, which win.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	// Parse allowed origins (comma-separated)
	originsStr := getEnv("ALLOWED_ORIGINS", strings.Join(cfg.AllowedOrigins, ","))
	cfg.AllowedOrigins = splitList(originsStr)

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.Environment = getEnv("ENVIRONMENT", cfg.Environment)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	requireAuth, err := getEnvBool("REQUIRE_AUTH", cfg.RequireAuth)
	if err != nil {
		return nil, err
	}
	cfg.RequireAuth = requireAuth
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.PresenceMirror = getEnv("PRESENCE_MIRROR", cfg.PresenceMirror)
	cfg.Redis.Host = getEnv("REDIS_HOST", cfg.Redis.Host)
	cfg.Redis.Port = getEnv("REDIS_PORT", cfg.Redis.Port)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvInt("REDIS_DB", cfg.Redis.DB)

	cfg.Call.RingTimeout = getEnvDuration("CALL_RING_TIMEOUT", cfg.Call.RingTimeout)
	cfg.Call.EndedGrace = getEnvDuration("CALL_ENDED_GRACE", cfg.Call.EndedGrace)
	cfg.Call.DuplicateWindow = getEnvDuration("CALL_DUPLICATE_WINDOW", cfg.Call.DuplicateWindow)
	cfg.Call.MediaTimeout = getEnvDuration("CALL_MEDIA_TIMEOUT", cfg.Call.MediaTimeout)
	if servers := os.Getenv("ICE_SERVERS"); servers != "" {
		cfg.Call.ICEServers = splitList(servers)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the relay cannot run with
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("invalid config: empty port")
	}
	if c.PresenceMirror != MirrorRedis && c.PresenceMirror != MirrorNone {
		return fmt.Errorf("invalid config: unknown presence mirror %q", c.PresenceMirror)
	}
	if c.Call.RingTimeout <= 0 || c.Call.MediaTimeout <= 0 {
		return fmt.Errorf("invalid config: call timeouts must be positive")
	}
	if c.Call.EndedGrace < 0 || c.Call.DuplicateWindow < 0 {
		return fmt.Errorf("invalid config: negative call timing")
	}
	return nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to unmarshal YAML file: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool is strict: a value that is set but unparseable is an error
func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid config: %s must be a boolean, got %q", key, value)
	}
	return v, nil
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

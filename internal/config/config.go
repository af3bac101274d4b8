package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultJWTSecret is used when JWT_SECRET is unset. Only suitable for local development.
const DefaultJWTSecret = "default_secret"

// Config aggregates every setting of the service.
type Config struct {
	Server   ServerConfig
	Mongo    MongoConfig
	Auth     AuthConfig
	Realtime RealtimeConfig
	Log      LogConfig
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	mongo, err := loadMongoConfig()
	if err != nil {
		return nil, err
	}

	auth, err := loadAuthConfig()
	if err != nil {
		return nil, err
	}

	realtime, err := loadRealtimeConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:   server,
		Mongo:    mongo,
		Auth:     auth,
		Realtime: realtime,
		Log: LogConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "console"),
		},
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
	// ClientURLs are the browser origins allowed by CORS and the socket upgrader.
	ClientURLs []string
	// AuthRateLimit caps requests per minute per client IP on /api/auth. Zero disables it.
	AuthRateLimit int
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "5000"
	}

	var addr string
	switch {
	case strings.Contains(port, ":"):
		// Allow ":5000" or "127.0.0.1:5000" directly.
		addr = port
	case strings.Contains(port, " "):
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	default:
		addr = ":" + port
	}

	limit := 20
	if override, err := parseOptionalIntEnv("AUTH_RATE_LIMIT"); err != nil {
		return ServerConfig{}, err
	} else if override != nil {
		if *override < 0 {
			return ServerConfig{}, fmt.Errorf("invalid AUTH_RATE_LIMIT value %d: must not be negative", *override)
		}
		limit = *override
	}

	return ServerConfig{
		Addr:          addr,
		ClientURLs:    splitList(getEnvOrDefault("CLIENT_URL", "http://localhost:5173")),
		AuthRateLimit: limit,
	}, nil
}

// MongoConfig describes the document store. An empty URI selects in-memory stores.
type MongoConfig struct {
	URI            string
	Database       string
	MaxPoolSize    uint64
	ConnectRetries int
}

// Enabled reports whether a document store was configured.
func (c MongoConfig) Enabled() bool {
	return c.URI != ""
}

func loadMongoConfig() (MongoConfig, error) {
	pool, err := parseOptionalIntEnv("MONGO_MAX_POOL_SIZE")
	if err != nil {
		return MongoConfig{}, err
	}
	retries, err := parseOptionalIntEnv("MONGO_CONNECT_RETRIES")
	if err != nil {
		return MongoConfig{}, err
	}

	cfg := MongoConfig{
		URI:            strings.TrimSpace(os.Getenv("MONGO_URI")),
		Database:       getEnvOrDefault("MONGO_DATABASE", "taskpulse"),
		MaxPoolSize:    100,
		ConnectRetries: 3,
	}
	if pool != nil {
		if *pool <= 0 {
			return MongoConfig{}, fmt.Errorf("invalid MONGO_MAX_POOL_SIZE value %d: must be positive", *pool)
		}
		cfg.MaxPoolSize = uint64(*pool)
	}
	if retries != nil {
		if *retries < 0 {
			return MongoConfig{}, fmt.Errorf("invalid MONGO_CONNECT_RETRIES value %d: must not be negative", *retries)
		}
		cfg.ConnectRetries = *retries
	}
	return cfg, nil
}

// AuthConfig describes token signing and password hashing.
type AuthConfig struct {
	JWTSecret  string
	JWTAlg     string
	TokenTTL   time.Duration
	BcryptCost int
}

// DefaultSecret reports whether the development fallback secret is in use.
func (c AuthConfig) DefaultSecret() bool {
	return c.JWTSecret == DefaultJWTSecret
}

func loadAuthConfig() (AuthConfig, error) {
	ttl, err := parseDurationEnv("JWT_TTL", 30*24*time.Hour)
	if err != nil {
		return AuthConfig{}, err
	}

	cost := 10
	if override, err := parseOptionalIntEnv("BCRYPT_COST"); err != nil {
		return AuthConfig{}, err
	} else if override != nil {
		if *override < 4 || *override > 31 {
			return AuthConfig{}, fmt.Errorf("invalid BCRYPT_COST value %d: must be between 4 and 31", *override)
		}
		cost = *override
	}

	alg := strings.ToUpper(getEnvOrDefault("JWT_ALG", "HS256"))
	switch alg {
	case "HS256", "HS384", "HS512":
	default:
		return AuthConfig{}, fmt.Errorf("invalid JWT_ALG value %q: must be HS256, HS384 or HS512", alg)
	}

	return AuthConfig{
		JWTSecret:  getEnvOrDefault("JWT_SECRET", DefaultJWTSecret),
		JWTAlg:     alg,
		TokenTTL:   ttl,
		BcryptCost: cost,
	}, nil
}

// RealtimeConfig describes the chat socket.
type RealtimeConfig struct {
	// RequireToken makes authenticate demand a bearer token instead of a bare identity.
	RequireToken bool
	SendBuffer   int
}

func loadRealtimeConfig() (RealtimeConfig, error) {
	require, err := parseBoolEnv("REALTIME_REQUIRE_TOKEN", false)
	if err != nil {
		return RealtimeConfig{}, err
	}

	buffer := 64
	if override, err := parseOptionalIntEnv("REALTIME_SEND_BUFFER"); err != nil {
		return RealtimeConfig{}, err
	} else if override != nil {
		if *override < 1 {
			buffer = 1
		} else {
			buffer = *override
		}
	}

	return RealtimeConfig{RequireToken: require, SendBuffer: buffer}, nil
}

// LogConfig selects the log level and encoding.
type LogConfig struct {
	Level  string
	Format string
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
	}
	return val, nil
}

package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Store modes; memory runs the whole service without external backends.
const (
	StoreModeMemory  = "memory"
	StoreModeCluster = "cluster"
)

// Config aggregates application configuration values loaded from environment variables.
type Config struct {
	Env      string
	HTTPAddr string

	StoreMode string

	MongoURI string
	MongoDB  string

	ScyllaHosts       []string
	ScyllaKeyspace    string
	ScyllaUsername    string
	ScyllaPassword    string
	ScyllaTimeout     time.Duration
	ReplicationFactor int

	KafkaBrokers       []string
	KafkaTopicPrefix   string
	OutboxPollInterval time.Duration
	RetryBackoff       []time.Duration

	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3UseSSL    bool

	TypingTTL    time.Duration
	DeleteWindow time.Duration

	// StaticTokens maps bearer tokens to user ids for dev/test runs where no
	// identity service is wired.
	StaticTokens map[string]string
}

// Load parses configuration from the current environment.
func Load() (Config, error) {
	cfg := Config{
		Env:              getEnv("APP_ENV", "dev"),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		StoreMode:        strings.ToLower(getEnv("STORE_MODE", StoreModeMemory)),
		MongoURI:         os.Getenv("MONGO_URI"),
		MongoDB:          getEnv("MONGO_DB", "guildchat"),
		ScyllaKeyspace:   getEnv("SCYLLA_KEYSPACE", "guildchat"),
		ScyllaUsername:   os.Getenv("SCYLLA_USERNAME"),
		ScyllaPassword:   os.Getenv("SCYLLA_PASSWORD"),
		KafkaTopicPrefix: getEnv("KAFKA_TOPIC_PREFIX", ""),
		S3Endpoint:       getEnv("S3_ENDPOINT", ""),
		S3AccessKey:      getEnv("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:      getEnv("S3_SECRET_KEY", "minioadmin"),
		S3Bucket:         getEnv("S3_BUCKET", "guildchat-attachments"),
	}

	if hosts := getEnv("SCYLLA_HOSTS", ""); hosts != "" {
		for _, h := range strings.Split(hosts, ",") {
			if h = strings.TrimSpace(h); h != "" {
				cfg.ScyllaHosts = append(cfg.ScyllaHosts, h)
			}
		}
	}
	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}

	scyllaTimeout, err := parseDurationEnv("SCYLLA_TIMEOUT", 5*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg.ScyllaTimeout = scyllaTimeout

	rf, err := parseIntEnv("SCYLLA_REPLICATION_FACTOR", 1)
	if err != nil {
		return Config{}, err
	}
	cfg.ReplicationFactor = rf

	poll, err := parseDurationEnv("OUTBOX_POLL_INTERVAL", 500*time.Millisecond)
	if err != nil {
		return Config{}, err
	}
	cfg.OutboxPollInterval = poll

	typingTTL, err := parseDurationEnv("TYPING_TTL", time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg.TypingTTL = typingTTL

	deleteWindow, err := parseDurationEnv("DELETE_WINDOW", 5*time.Minute)
	if err != nil {
		return Config{}, err
	}
	cfg.DeleteWindow = deleteWindow

	retryStr := getEnv("RETRY_BACKOFF", "1s,5s,30s")
	for _, raw := range strings.Split(retryStr, ",") {
		val := strings.TrimSpace(raw)
		if val == "" {
			continue
		}
		d, err := time.ParseDuration(val)
		if err != nil {
			return Config{}, fmt.Errorf("invalid RETRY_BACKOFF component %q: %w", raw, err)
		}
		cfg.RetryBackoff = append(cfg.RetryBackoff, d)
	}

	useSSL, err := parseBoolEnv("S3_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg.S3UseSSL = useSSL

	if tokens := getEnv("AUTH_TOKENS", ""); tokens != "" {
		cfg.StaticTokens = map[string]string{}
		for _, pair := range strings.Split(tokens, ",") {
			parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
			if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
				return Config{}, fmt.Errorf("invalid AUTH_TOKENS entry %q", pair)
			}
			cfg.StaticTokens[parts[0]] = parts[1]
		}
	}

	switch cfg.StoreMode {
	case StoreModeMemory:
	case StoreModeCluster:
		if cfg.MongoURI == "" {
			return Config{}, fmt.Errorf("MONGO_URI is required in cluster mode")
		}
		if len(cfg.ScyllaHosts) == 0 {
			return Config{}, fmt.Errorf("SCYLLA_HOSTS is required in cluster mode")
		}
		if len(cfg.KafkaBrokers) == 0 {
			return Config{}, fmt.Errorf("KAFKA_BROKERS is required in cluster mode")
		}
	default:
		return Config{}, fmt.Errorf("unknown STORE_MODE %q", cfg.StoreMode)
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", key, err)
	}
	return d, nil
}

func parseIntEnv(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	var v int
	if _, err := fmt.Sscanf(raw, "%d", &v); err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s integer: %q", key, raw)
	}
	return v, nil
}

func parseBoolEnv(key string, def bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "t", "true", "yes", "y", "on":
		return true, nil
	case "0", "f", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid %s boolean: %q", key, raw)
	}
}

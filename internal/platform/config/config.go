package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile        = ".env"
	defaultPort           = "8080"
	defaultReadTimeout    = 15 * time.Second
	defaultWriteTimeout   = 30 * time.Second
	defaultIdleTimeout    = 120 * time.Second
	defaultPendingDwell   = 5 * time.Minute
	defaultProcessSweep   = time.Minute
	defaultShipSweep      = 5 * time.Minute
	defaultSweepBatch     = 200
	defaultUpdateInterval = time.Hour
	defaultUpdateChunk    = 250
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server    ServerConfig
	Firestore FirestoreConfig
	PubSub    PubSubConfig
	Orders    OrdersConfig
	Updates   UpdatesConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID       string
	EmulatorHost    string
	CredentialsFile string
}

// PubSubConfig stores domain event publishing parameters. Publishing to a
// stream is disabled when its topic is empty.
type PubSubConfig struct {
	ProjectID      string
	OrderTopic     string
	InventoryTopic string
}

// OrdersConfig controls the lifecycle sweeps.
type OrdersConfig struct {
	PendingDwell         time.Duration
	ProcessSweepInterval time.Duration
	ShipSweepInterval    time.Duration
	SweepBatchSize       int
}

// UpdatesConfig controls the periodic engagement/score refresh.
type UpdatesConfig struct {
	FullUpdateInterval time.Duration
	ChunkSize          int
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// Load assembles the application configuration by combining defaults, .env overrides,
// and environment variables.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	if ctx == nil {
		return Config{}, errors.New("config: context is required")
	}

	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}

	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "ORDERCORE_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "ORDERCORE_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "ORDERCORE_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "ORDERCORE_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:       stringWithDefault(lookup, "ORDERCORE_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost:    stringWithDefault(lookup, "ORDERCORE_FIRESTORE_EMULATOR_HOST", ""),
			CredentialsFile: stringWithDefault(lookup, "ORDERCORE_FIRESTORE_CREDENTIALS_FILE", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:      stringWithDefault(lookup, "ORDERCORE_PUBSUB_PROJECT_ID", ""),
			OrderTopic:     stringWithDefault(lookup, "ORDERCORE_PUBSUB_ORDER_TOPIC", ""),
			InventoryTopic: stringWithDefault(lookup, "ORDERCORE_PUBSUB_INVENTORY_TOPIC", ""),
		},
		Orders: OrdersConfig{
			PendingDwell:         durationWithDefault(lookup, "ORDERCORE_ORDERS_PENDING_DWELL", defaultPendingDwell),
			ProcessSweepInterval: durationWithDefault(lookup, "ORDERCORE_ORDERS_PROCESS_SWEEP_INTERVAL", defaultProcessSweep),
			ShipSweepInterval:    durationWithDefault(lookup, "ORDERCORE_ORDERS_SHIP_SWEEP_INTERVAL", defaultShipSweep),
			SweepBatchSize:       intWithDefault(lookup, "ORDERCORE_ORDERS_SWEEP_BATCH", defaultSweepBatch),
		},
		Updates: UpdatesConfig{
			FullUpdateInterval: durationWithDefault(lookup, "ORDERCORE_UPDATES_FULL_INTERVAL", defaultUpdateInterval),
			ChunkSize:          intWithDefault(lookup, "ORDERCORE_UPDATES_CHUNK_SIZE", defaultUpdateChunk),
		},
	}

	// Pub/Sub project defaults to the Firestore project when unspecified.
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Firestore.ProjectID == "" {
		missing = append(missing, "Firestore.ProjectID")
	}
	if cfg.Orders.PendingDwell <= 0 {
		missing = append(missing, "Orders.PendingDwell")
	}
	if cfg.Orders.ProcessSweepInterval <= 0 {
		missing = append(missing, "Orders.ProcessSweepInterval")
	}
	if cfg.Orders.ShipSweepInterval <= 0 {
		missing = append(missing, "Orders.ShipSweepInterval")
	}
	if cfg.Orders.SweepBatchSize <= 0 {
		missing = append(missing, "Orders.SweepBatchSize")
	}
	if cfg.Updates.FullUpdateInterval <= 0 {
		missing = append(missing, "Updates.FullUpdateInterval")
	}
	if cfg.Updates.ChunkSize <= 0 {
		missing = append(missing, "Updates.ChunkSize")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		value = strings.Trim(value, "\"'")
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Zitadel   ZitadelConfig
	RateLimit RateLimitConfig
	Storage   StorageConfig
	Compute   ComputeConfig
	Cache     CacheConfig
	Fetcher   FetcherConfig
	Worker    WorkerConfig
	Serving   ServingConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
	LogFile  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig selects how API callers are authenticated. Mode "jwt" checks
// bearer tokens; "gateway" trusts the X-User-* headers of a forward-auth proxy.
type JWTConfig struct {
	Mode   string
	Secret string
}

// ZitadelConfig points the JWKS verifier at the identity provider. JWKSURL
// skips OIDC discovery when set.
type ZitadelConfig struct {
	Domain   string
	ClientID string
	Issuer   string
	JWKSURL  string
}

type RateLimitConfig struct {
	WorkflowsPerHour int
	ReadsPerMin      int
}

// StorageConfig points at any S3-compatible object store (S3, MinIO, R2).
type StorageConfig struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	ProjectFolder   string
	UsePathStyle    bool
}

type ComputeConfig struct {
	BaseURL string
	APIKey  string
	Timeout int // seconds
}

type CacheConfig struct {
	TTL  time.Duration
	Size int
}

type FetcherConfig struct {
	Interval    time.Duration
	MaxAttempts int
}

type WorkerConfig struct {
	Mode        string // "local" or "asynq"
	Concurrency int
}

type ServingConfig struct {
	ResourcesDir string
}

// Load reads config.yaml from the working directory or ./config if present,
// then the environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. The file must exist.
func LoadFile(path string) (*Config, error) {
	viper.Reset()

	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("STORAGE_ACCESS_KEY_ID")
	readSecret("STORAGE_SECRET_ACCESS_KEY")
	readSecret("COMPUTE_API_KEY")
	readSecret("ZITADEL_CLIENT_ID")

	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.log_file", "LOG_FILE")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.mode", "AUTH_MODE")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("zitadel.domain", "ZITADEL_DOMAIN")
	_ = viper.BindEnv("zitadel.client_id", "ZITADEL_CLIENT_ID")
	_ = viper.BindEnv("zitadel.issuer", "ZITADEL_ISSUER")
	_ = viper.BindEnv("zitadel.jwks_url", "ZITADEL_JWKS_URL")
	_ = viper.BindEnv("ratelimit.workflows_per_hour", "RATELIMIT_WORKFLOWS_PER_HOUR")
	_ = viper.BindEnv("ratelimit.reads_per_min", "RATELIMIT_READS_PER_MIN")
	_ = viper.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	_ = viper.BindEnv("storage.region", "STORAGE_REGION")
	_ = viper.BindEnv("storage.access_key_id", "STORAGE_ACCESS_KEY_ID")
	_ = viper.BindEnv("storage.secret_access_key", "STORAGE_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("storage.bucket", "STORAGE_BUCKET")
	_ = viper.BindEnv("storage.project_folder", "STORAGE_PROJECT_FOLDER")
	_ = viper.BindEnv("storage.use_path_style", "STORAGE_USE_PATH_STYLE")
	_ = viper.BindEnv("compute.base_url", "COMPUTE_BASE_URL")
	_ = viper.BindEnv("compute.api_key", "COMPUTE_API_KEY")
	_ = viper.BindEnv("compute.timeout", "COMPUTE_TIMEOUT")
	_ = viper.BindEnv("cache.ttl", "CACHE_TTL")
	_ = viper.BindEnv("cache.size", "CACHE_SIZE")
	_ = viper.BindEnv("fetcher.interval", "FETCHER_INTERVAL")
	_ = viper.BindEnv("fetcher.max_attempts", "FETCHER_MAX_ATTEMPTS")
	_ = viper.BindEnv("worker.mode", "WORKER_MODE")
	_ = viper.BindEnv("worker.concurrency", "WORKER_CONCURRENCY")
	_ = viper.BindEnv("serving.resources_dir", "SERVING_RESOURCES_DIR")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.mode", "jwt")
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("ratelimit.workflows_per_hour", 60)
	viper.SetDefault("ratelimit.reads_per_min", 600)

	// Storage defaults
	viper.SetDefault("storage.region", "us-east-1")
	viper.SetDefault("storage.bucket", "automl")
	viper.SetDefault("storage.project_folder", "projects")
	viper.SetDefault("storage.use_path_style", true)

	// Compute service defaults
	viper.SetDefault("compute.base_url", "http://localhost:54321")
	viper.SetDefault("compute.timeout", 60)

	// Response cache and retry fetcher defaults
	viper.SetDefault("cache.ttl", 10*time.Minute)
	viper.SetDefault("cache.size", 1000)
	viper.SetDefault("fetcher.interval", time.Second)
	viper.SetDefault("fetcher.max_attempts", 60)

	// Worker defaults
	viper.SetDefault("worker.mode", "local")
	viper.SetDefault("worker.concurrency", 10)

	viper.SetDefault("serving.resources_dir", "./resources")

	if err := viper.ReadInConfig(); err != nil && path != "" {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:     viper.GetString("server.port"),
			Env:      viper.GetString("server.env"),
			LogLevel: viper.GetString("server.log_level"),
			LogFile:  viper.GetString("server.log_file"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Mode:   viper.GetString("jwt.mode"),
			Secret: viper.GetString("jwt.secret"),
		},
		Zitadel: ZitadelConfig{
			Domain:   viper.GetString("zitadel.domain"),
			ClientID: viper.GetString("zitadel.client_id"),
			Issuer:   viper.GetString("zitadel.issuer"),
			JWKSURL:  viper.GetString("zitadel.jwks_url"),
		},
		RateLimit: RateLimitConfig{
			WorkflowsPerHour: viper.GetInt("ratelimit.workflows_per_hour"),
			ReadsPerMin:      viper.GetInt("ratelimit.reads_per_min"),
		},
		Storage: StorageConfig{
			Endpoint:        viper.GetString("storage.endpoint"),
			Region:          viper.GetString("storage.region"),
			AccessKeyID:     viper.GetString("storage.access_key_id"),
			SecretAccessKey: viper.GetString("storage.secret_access_key"),
			Bucket:          viper.GetString("storage.bucket"),
			ProjectFolder:   viper.GetString("storage.project_folder"),
			UsePathStyle:    viper.GetBool("storage.use_path_style"),
		},
		Compute: ComputeConfig{
			BaseURL: viper.GetString("compute.base_url"),
			APIKey:  viper.GetString("compute.api_key"),
			Timeout: viper.GetInt("compute.timeout"),
		},
		Cache: CacheConfig{
			TTL:  viper.GetDuration("cache.ttl"),
			Size: viper.GetInt("cache.size"),
		},
		Fetcher: FetcherConfig{
			Interval:    viper.GetDuration("fetcher.interval"),
			MaxAttempts: viper.GetInt("fetcher.max_attempts"),
		},
		Worker: WorkerConfig{
			Mode:        viper.GetString("worker.mode"),
			Concurrency: viper.GetInt("worker.concurrency"),
		},
		Serving: ServingConfig{
			ResourcesDir: viper.GetString("serving.resources_dir"),
		},
	}

	return cfg, nil
}

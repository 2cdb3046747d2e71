package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrMissing marks configuration values that are required for the selected store backend.
var ErrMissing = errors.New("missing configuration")

// Store backends understood by repository.Open.
const (
	BackendGitHub = "github"
	BackendGit    = "git"
	BackendMongo  = "mongo"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// DefaultDocumentPath is where the document lives inside the backing repository.
const DefaultDocumentPath = "src/database/banco.json"

// Config holds application configuration
type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	GitHub    GitHubConfig
	Git       GitConfig
	MongoDB   MongoDBConfig
	Redis     RedisConfig
	MinIO     MinIOConfig
	RateLimit RateLimitConfig
	Auth      AuthConfig
	CORS      CORSConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	Environment  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type StoreConfig struct {
	Backend       string
	Path          string
	CommitMessage string
	ValidateShape bool
	Timeout       time.Duration
}

type GitHubConfig struct {
	Token   string
	Owner   string
	Name    string
	Branch  string
	BaseURL string
}

type GitConfig struct {
	Dir         string
	Branch      string
	AuthorName  string
	AuthorEmail string
}

type MongoDBConfig struct {
	URI        string
	Database   string
	Collection string
	Timeout    time.Duration
}

type RedisConfig struct {
	Host        string
	Port        string
	Password    string
	DB          int
	DocumentKey string
}

type MinIOConfig struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

type RateLimitConfig struct {
	Enabled       bool
	RPS           float64
	Burst         int
	UseRedis      bool
	WindowSeconds int
}

type AuthConfig struct {
	Issuer        string
	ClientID      string
	AllowInsecure bool
	ProtectWrites bool
}

type CORSConfig struct {
	AllowedOrigins []string
}

// Addr returns host:port for the Redis client.
func (c RedisConfig) Addr() string {
	return c.Host + ":" + c.Port
}

// LoadConfig loads configuration from environment variables and .env file.
// It never fails on missing values; call Validate to learn whether the
// selected store backend can be used.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("SERVER_PORT", "9002")
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_ENVIRONMENT", "development")
	v.SetDefault("STORE_BACKEND", BackendGitHub)
	v.SetDefault("STORE_PATH", DefaultDocumentPath)
	v.SetDefault("STORE_COMMIT_MESSAGE", "CMS: update")
	v.SetDefault("STORE_TIMEOUT", 30)
	v.SetDefault("GITHUB_BRANCH", "")
	v.SetDefault("GIT_REPO_DIR", "./data/document-repo")
	v.SetDefault("GIT_BRANCH", "main")
	v.SetDefault("GIT_AUTHOR_NAME", "CEOLIN CMS")
	v.SetDefault("GIT_AUTHOR_EMAIL", "cms@ceolin.local")
	v.SetDefault("MONGODB_DATABASE", "ceolin")
	v.SetDefault("MONGODB_COLLECTION", "documents")
	v.SetDefault("MONGODB_TIMEOUT", 10)
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_DOCUMENT_KEY", "ceolin:document")
	v.SetDefault("MINIO_BUCKET", "ceolin-snapshots")
	v.SetDefault("RATE_LIMIT_RPS", 5.0)
	v.SetDefault("RATE_LIMIT_BURST", 10)
	v.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 1)
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")

	owner := v.GetString("GITHUB_REPO_OWNER")
	name := v.GetString("GITHUB_REPO_NAME")
	// GITHUB_REPO="owner/name" is the older single-variable form.
	if owner == "" && name == "" {
		if full := strings.TrimSpace(v.GetString("GITHUB_REPO")); full != "" {
			if o, n, ok := strings.Cut(full, "/"); ok {
				owner, name = o, n
			}
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         v.GetString("SERVER_PORT"),
			Host:         v.GetString("SERVER_HOST"),
			Environment:  v.GetString("SERVER_ENVIRONMENT"),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Backend:       strings.ToLower(strings.TrimSpace(v.GetString("STORE_BACKEND"))),
			Path:          strings.TrimPrefix(v.GetString("STORE_PATH"), "/"),
			CommitMessage: v.GetString("STORE_COMMIT_MESSAGE"),
			ValidateShape: v.GetBool("STORE_VALIDATE_SHAPE"),
			Timeout:       time.Duration(v.GetInt("STORE_TIMEOUT")) * time.Second,
		},
		GitHub: GitHubConfig{
			Token:   v.GetString("GITHUB_TOKEN"),
			Owner:   owner,
			Name:    name,
			Branch:  v.GetString("GITHUB_BRANCH"),
			BaseURL: v.GetString("GITHUB_API_URL"),
		},
		Git: GitConfig{
			Dir:         v.GetString("GIT_REPO_DIR"),
			Branch:      v.GetString("GIT_BRANCH"),
			AuthorName:  v.GetString("GIT_AUTHOR_NAME"),
			AuthorEmail: v.GetString("GIT_AUTHOR_EMAIL"),
		},
		MongoDB: MongoDBConfig{
			URI:        v.GetString("MONGODB_URI"),
			Database:   v.GetString("MONGODB_DATABASE"),
			Collection: v.GetString("MONGODB_COLLECTION"),
			Timeout:    time.Duration(v.GetInt("MONGODB_TIMEOUT")) * time.Second,
		},
		Redis: RedisConfig{
			Host:        v.GetString("REDIS_HOST"),
			Port:        v.GetString("REDIS_PORT"),
			Password:    v.GetString("REDIS_PASSWORD"),
			DB:          v.GetInt("REDIS_DB"),
			DocumentKey: v.GetString("REDIS_DOCUMENT_KEY"),
		},
		MinIO: MinIOConfig{
			Enabled:   v.GetBool("MINIO_ENABLED"),
			Endpoint:  v.GetString("MINIO_ENDPOINT"),
			AccessKey: v.GetString("MINIO_ACCESS_KEY"),
			SecretKey: v.GetString("MINIO_SECRET_KEY"),
			UseSSL:    v.GetBool("MINIO_USE_SSL"),
			Bucket:    v.GetString("MINIO_BUCKET"),
		},
		RateLimit: RateLimitConfig{
			Enabled:       v.GetBool("RATE_LIMIT_ENABLED"),
			RPS:           v.GetFloat64("RATE_LIMIT_RPS"),
			Burst:         v.GetInt("RATE_LIMIT_BURST"),
			UseRedis:      v.GetBool("RATE_LIMIT_USE_REDIS"),
			WindowSeconds: v.GetInt("RATE_LIMIT_WINDOW_SECONDS"),
		},
		Auth: AuthConfig{
			Issuer:        v.GetString("OIDC_ISSUER"),
			ClientID:      v.GetString("OIDC_CLIENT_ID"),
			AllowInsecure: v.GetBool("ALLOW_INSECURE_TOKEN"),
			ProtectWrites: v.GetBool("AUTH_PROTECT_WRITES"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		},
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = DefaultDocumentPath
	}

	return cfg, nil
}

// Validate reports the first configuration problem for the selected store backend.
func (c *Config) Validate() error {
	var missing []string
	switch c.Store.Backend {
	case BackendGitHub:
		if c.GitHub.Token == "" {
			missing = append(missing, "GITHUB_TOKEN")
		}
		if c.GitHub.Owner == "" || c.GitHub.Name == "" {
			missing = append(missing, "GITHUB_REPO_OWNER", "GITHUB_REPO_NAME")
		}
	case BackendGit:
		if c.Git.Dir == "" {
			missing = append(missing, "GIT_REPO_DIR")
		}
	case BackendMongo:
		if c.MongoDB.URI == "" {
			missing = append(missing, "MONGODB_URI")
		}
	case BackendRedis:
		if c.Redis.Host == "" {
			missing = append(missing, "REDIS_HOST")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend)
	}
	if c.MinIO.Enabled && c.MinIO.Endpoint == "" {
		missing = append(missing, "MINIO_ENDPOINT")
	}
	if c.Auth.ProtectWrites && c.Auth.Issuer == "" && !c.Auth.AllowInsecure {
		missing = append(missing, "OIDC_ISSUER")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s must be set for store backend %q", ErrMissing, strings.Join(missing, ", "), c.Store.Backend)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

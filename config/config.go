package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Redis     RedisConfig     `json:"redis"`
	Qdrant    QdrantConfig    `json:"qdrant"`
	Auth      AuthConfig      `json:"auth"`
	OIDC      OIDCConfig      `json:"oidc"`
	Embedding EmbeddingConfig `json:"embedding"`
	Converter ConverterConfig `json:"converter"`
	Ingest    IngestConfig    `json:"ingest"`
	Retrieval RetrievalConfig `json:"retrieval"`
	Audit     AuditConfig     `json:"audit"`
	Policy    *Policy         `json:"policy"`
}

type ServerConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	ReadTimeout    int      `json:"read_timeout"`
	WriteTimeout   int      `json:"write_timeout"`
	RequestTimeout int      `json:"request_timeout"`
	AllowedOrigins []string `json:"allowed_origins"`
}

type DatabaseConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Password     string `json:"password"`
	Name         string `json:"name"`
	SSLMode      string `json:"ssl_mode"`
	MaxOpenConns int    `json:"max_open_conns"`
	MaxIdleConns int    `json:"max_idle_conns"`
	MaxLifetime  int    `json:"max_lifetime"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// QdrantConfig points at the vector store gRPC endpoint.
type QdrantConfig struct {
	Host             string `json:"host"`
	Port             int    `json:"port"`
	APIKey           string `json:"api_key"`
	UseTLS           bool   `json:"use_tls"`
	ChildCollection  string `json:"child_collection"`
	ParentCollection string `json:"parent_collection"`
}

type AuthConfig struct {
	// SigningKey signs session, registration and OIDC state tokens.
	SigningKey             string `json:"signing_key"`
	SessionTTLMinutes      int    `json:"session_ttl_minutes"`
	RegistrationTTLMinutes int    `json:"registration_ttl_minutes"`
	StateTTLMinutes        int    `json:"state_ttl_minutes"`
	CookieName             string `json:"cookie_name"`
	CookieSecure           bool   `json:"cookie_secure"`
}

type OIDCConfig struct {
	IssuerURL    string `json:"issuer_url"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RedirectURL  string `json:"redirect_url"`
}

type EmbeddingConfig struct {
	// Provider selects the embedding backend: openai, voyage or fake.
	Provider  string `json:"provider"`
	BaseURL   string `json:"base_url"`
	APIKey    string `json:"api_key"`
	Model     string `json:"model"`
	Dimension int    `json:"dimension"`
	Timeout   int    `json:"timeout"`
}

// ConverterConfig points at the document conversion sidecar that turns
// PDFs and office files into markdown.
type ConverterConfig struct {
	BaseURL string `json:"base_url"`
	Timeout int    `json:"timeout"`
}

type IngestConfig struct {
	ParentChunkSize    int   `json:"parent_chunk_size"`
	ParentChunkOverlap int   `json:"parent_chunk_overlap"`
	ChildChunkSize     int   `json:"child_chunk_size"`
	ChildChunkOverlap  int   `json:"child_chunk_overlap"`
	MaxUploadBytes     int64 `json:"max_upload_bytes"`
	// FlatModeThreshold: documents shorter than this many characters are
	// ingested without hierarchy.
	FlatModeThreshold int `json:"flat_mode_threshold"`
}

type RetrievalConfig struct {
	DefaultTopK         int     `json:"default_top_k"`
	MaxTopK             int     `json:"max_top_k"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	// CandidateMultiplier scales k when expanding parents, so grouping by
	// parent still yields k distinct parents.
	CandidateMultiplier int `json:"candidate_multiplier"`
}

type AuditConfig struct {
	BufferSize       int `json:"buffer_size"`
	Workers          int `json:"workers"`
	EnqueueTimeoutMs int `json:"enqueue_timeout_ms"`
	FlushTimeoutSec  int `json:"flush_timeout_sec"`
}

func LoadConfig() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:    getEnvAsInt("SERVER_READ_TIMEOUT", 30),
			WriteTimeout:   getEnvAsInt("SERVER_WRITE_TIMEOUT", 60),
			RequestTimeout: getEnvAsInt("SERVER_REQUEST_TIMEOUT", 60),
			AllowedOrigins: getEnvAsSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "sentinel"),
			Password:     getEnv("DB_PASSWORD", ""),
			Name:         getEnv("DB_NAME", "sentinel"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			MaxLifetime:  getEnvAsInt("DB_MAX_LIFETIME", 300),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Qdrant: QdrantConfig{
			Host:             getEnv("QDRANT_HOST", "localhost"),
			Port:             getEnvAsInt("QDRANT_PORT", 6334),
			APIKey:           getEnv("QDRANT_API_KEY", ""),
			UseTLS:           getEnvAsBool("QDRANT_USE_TLS", false),
			ChildCollection:  getEnv("QDRANT_CHILD_COLLECTION", "sentinel_children"),
			ParentCollection: getEnv("QDRANT_PARENT_COLLECTION", "sentinel_parents"),
		},
		Auth: AuthConfig{
			SigningKey:             getEnv("SIGNING_KEY", ""),
			SessionTTLMinutes:      getEnvAsInt("SESSION_TTL_MINUTES", 60),
			RegistrationTTLMinutes: getEnvAsInt("REGISTRATION_TTL_MINUTES", 15),
			StateTTLMinutes:        getEnvAsInt("STATE_TTL_MINUTES", 10),
			CookieName:             getEnv("SESSION_COOKIE_NAME", "sentinel_session"),
			CookieSecure:           getEnvAsBool("SESSION_COOKIE_SECURE", true),
		},
		OIDC: OIDCConfig{
			IssuerURL:    getEnv("OIDC_ISSUER_URL", ""),
			ClientID:     getEnv("OIDC_CLIENT_ID", ""),
			ClientSecret: getEnv("OIDC_CLIENT_SECRET", ""),
			RedirectURL:  getEnv("OIDC_REDIRECT_URL", "http://localhost:8080/auth/callback"),
		},
		Embedding: EmbeddingConfig{
			Provider:  getEnv("EMBEDDING_PROVIDER", "openai"),
			BaseURL:   getEnv("EMBEDDING_BASE_URL", ""),
			APIKey:    getEnv("EMBEDDING_API_KEY", ""),
			Model:     getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
			Dimension: getEnvAsInt("EMBEDDING_DIMENSION", 1536),
			Timeout:   getEnvAsInt("EMBEDDING_TIMEOUT", 30),
		},
		Converter: ConverterConfig{
			BaseURL: getEnv("CONVERTER_BASE_URL", "http://localhost:9090"),
			Timeout: getEnvAsInt("CONVERTER_TIMEOUT", 120),
		},
		Ingest: IngestConfig{
			ParentChunkSize:    getEnvAsInt("PARENT_CHUNK_SIZE", 2000),
			ParentChunkOverlap: getEnvAsInt("PARENT_CHUNK_OVERLAP", 200),
			ChildChunkSize:     getEnvAsInt("CHILD_CHUNK_SIZE", 400),
			ChildChunkOverlap:  getEnvAsInt("CHILD_CHUNK_OVERLAP", 50),
			MaxUploadBytes:     int64(getEnvAsInt("MAX_UPLOAD_BYTES", 50*1024*1024)),
			FlatModeThreshold:  getEnvAsInt("FLAT_MODE_THRESHOLD", 2000),
		},
		Retrieval: RetrievalConfig{
			DefaultTopK:         getEnvAsInt("RETRIEVAL_TOP_K", 5),
			MaxTopK:             getEnvAsInt("RETRIEVAL_MAX_TOP_K", 50),
			SimilarityThreshold: getEnvAsFloat("SIMILARITY_THRESHOLD", 0.35),
			CandidateMultiplier: getEnvAsInt("RETRIEVAL_CANDIDATE_MULTIPLIER", 3),
		},
		Audit: AuditConfig{
			BufferSize:       getEnvAsInt("AUDIT_BUFFER_SIZE", 1024),
			Workers:          getEnvAsInt("AUDIT_WORKERS", 4),
			EnqueueTimeoutMs: getEnvAsInt("AUDIT_ENQUEUE_TIMEOUT_MS", 250),
			FlushTimeoutSec:  getEnvAsInt("AUDIT_FLUSH_TIMEOUT_SEC", 15),
		},
	}

	policyPath := getEnv("POLICY_PATH", "policy.json")
	policy, err := LoadPolicy(policyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy %s: %w", policyPath, err)
	}
	config.Policy = policy
	policy.ApplyOverrides(config)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func validateConfig(config *Config) error {
	if config.Database.Password == "" {
		return fmt.Errorf("database password is required (DB_PASSWORD)")
	}

	if len(config.Auth.SigningKey) < 32 {
		return fmt.Errorf("signing key must be at least 32 characters (SIGNING_KEY)")
	}

	switch config.Embedding.Provider {
	case "openai", "voyage", "fake":
	default:
		return fmt.Errorf("unknown embedding provider %q (EMBEDDING_PROVIDER)", config.Embedding.Provider)
	}

	if config.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive (EMBEDDING_DIMENSION)")
	}

	if config.Ingest.ParentChunkSize <= config.Ingest.ChildChunkSize {
		return fmt.Errorf("parent chunk size must exceed child chunk size")
	}
	if config.Ingest.ParentChunkOverlap >= config.Ingest.ParentChunkSize ||
		config.Ingest.ChildChunkOverlap >= config.Ingest.ChildChunkSize {
		return fmt.Errorf("chunk overlap must be smaller than chunk size")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

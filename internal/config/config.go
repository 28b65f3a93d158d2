package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	GCS       GCSConfig       `json:"gcs"`
	Gotenberg GotenbergConfig `json:"gotenberg"`
	Google    GoogleConfig    `json:"google"`
	Storage   StorageConfig   `json:"storage"`
	Redis     RedisConfig     `json:"redis"`
	Worker    WorkerConfig    `json:"worker"`
	Auth      AuthConfig      `json:"auth"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	PDF       PDFConfig       `json:"pdf"`
}

type ServerConfig struct {
	Port         string   `json:"port"`
	Environment  string   `json:"environment"`
	BaseURL      string   `json:"base_url"`
	AllowOrigins []string `json:"allow_origins"`
}

type DatabaseConfig struct {
	Driver   string `json:"driver"` // mysql, postgres or memory
	Host     string `json:"host"`
	Port     string `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
}

type GCSConfig struct {
	BucketName      string `json:"bucket_name"`
	ProjectID       string `json:"project_id"`
	CredentialsPath string `json:"credentials_path"`
}

type GotenbergConfig struct {
	URL     string `json:"url"`
	Timeout string `json:"timeout"`
}

type GoogleConfig struct {
	CredentialsPath string        `json:"credentials_path"`
	Timeout         time.Duration `json:"timeout"`
	SheetCacheTTL   time.Duration `json:"sheet_cache_ttl"`
}

type StorageConfig struct {
	FontsDir     string        `json:"fonts_dir"`
	UploadDir    string        `json:"upload_dir"`
	OutputDir    string        `json:"output_dir"`
	CleanupAfter time.Duration `json:"cleanup_after"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"-"`
	DB       int    `json:"db"`
}

type WorkerConfig struct {
	Count      int           `json:"count"`
	MaxRetries int           `json:"max_retries"`
	RetryDelay time.Duration `json:"retry_delay"`
	JobTimeout time.Duration `json:"job_timeout"`
}

type AuthConfig struct {
	JWTSecret   string        `json:"-"`
	DownloadTTL time.Duration `json:"download_ttl"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second"`
	Burst             int     `json:"burst"`
}

type PDFConfig struct {
	DocxMode       string `json:"docx_mode"` // native or gotenberg
	QREnabled      bool   `json:"qr_enabled"`
	KeepDiacritics bool   `json:"keep_diacritics"`
}

func (d *DatabaseConfig) DSN() string {
	if d.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			d.Host, d.Port, d.User, d.Password, d.DBName)
	}
	// Cloud SQL Unix socket support
	if len(d.Host) > 0 && d.Host[0] == '/' {
		return fmt.Sprintf("%s:%s@unix(%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			d.User, d.Password, d.Host, d.DBName)
	}
	// Standard TCP connection
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		d.User, d.Password, d.Host, d.Port, d.DBName)
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Printf("Failed to load .env file: %v, using system environment variables\n", err)
	}

	driver := getEnv("DB_DRIVER", "mysql")
	defaultPort := "3306"
	if driver == "postgres" {
		defaultPort = "5432"
	}

	config := &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Environment:  getEnv("ENVIRONMENT", "development"),
			BaseURL:      getEnv("BASE_URL", ""),
			AllowOrigins: parseAllowOrigins(),
		},
		Database: DatabaseConfig{
			Driver:   driver,
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", defaultPort),
			User:     getEnv("DB_USER", "root"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "baradar"),
		},
		GCS: GCSConfig{
			BucketName:      getEnv("GCS_BUCKET_NAME", ""),
			ProjectID:       getEnv("GOOGLE_CLOUD_PROJECT", ""),
			CredentialsPath: getEnv("GCS_CREDENTIALS_PATH", ""),
		},
		Gotenberg: GotenbergConfig{
			URL:     getEnv("GOTENBERG_URL", "http://localhost:3000"),
			Timeout: getEnv("GOTENBERG_TIMEOUT", "30s"),
		},
		Google: GoogleConfig{
			CredentialsPath: getEnv("GOOGLE_CREDENTIALS_PATH", "credentials.json"),
			Timeout:         getDuration("GOOGLE_TIMEOUT", 30*time.Second),
			SheetCacheTTL:   getDuration("SHEET_CACHE_TTL", 5*time.Minute),
		},
		Storage: StorageConfig{
			FontsDir:     getEnv("FONTS_DIR", "fonts"),
			UploadDir:    getEnv("UPLOAD_DIR", "uploads"),
			OutputDir:    getEnv("OUTPUT_DIR", "outputs"),
			CleanupAfter: getDuration("CLEANUP_AFTER", 24*time.Hour),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getInt("REDIS_DB", 0),
		},
		Worker: WorkerConfig{
			Count:      getInt("WORKER_COUNT", 2),
			MaxRetries: getInt("WORKER_MAX_RETRIES", 3),
			RetryDelay: getDuration("WORKER_RETRY_DELAY", 5*time.Second),
			JobTimeout: getDuration("WORKER_JOB_TIMEOUT", 2*time.Minute),
		},
		Auth: AuthConfig{
			JWTSecret:   getEnv("JWT_SECRET", ""),
			DownloadTTL: getDuration("DOWNLOAD_LINK_TTL", 24*time.Hour),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getFloat("RATE_LIMIT_RPS", 2),
			Burst:             getInt("RATE_LIMIT_BURST", 10),
		},
		PDF: PDFConfig{
			DocxMode:       getEnv("PDF_DOCX_MODE", "native"),
			QREnabled:      getBool("PDF_QR_ENABLED", true),
			KeepDiacritics: getBool("PDF_KEEP_DIACRITICS", false),
		},
	}

	if config.Auth.JWTSecret == "" && config.Server.Environment == "production" {
		return nil, fmt.Errorf("JWT_SECRET is required in production")
	}
	switch config.PDF.DocxMode {
	case "native", "gotenberg":
	default:
		return nil, fmt.Errorf("invalid PDF_DOCX_MODE %q", config.PDF.DocxMode)
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func parseAllowOrigins() []string {
	// First try to get from ALLOW_ORIGINS (comma-separated)
	if origins := os.Getenv("ALLOW_ORIGINS"); origins != "" {
		var allowOrigins []string
		for _, origin := range strings.Split(origins, ",") {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				allowOrigins = append(allowOrigins, trimmed)
			}
		}
		return allowOrigins
	}

	// Fallback to individual FRONTEND_URL_* variables for backward compatibility
	var allowOrigins []string

	if url1 := getEnv("FRONTEND_URL_1", ""); url1 != "" {
		allowOrigins = append(allowOrigins, url1)
	}

	if url2 := getEnv("FRONTEND_URL_2", ""); url2 != "" {
		allowOrigins = append(allowOrigins, url2)
	}

	if len(allowOrigins) == 0 {
		allowOrigins = []string{
			"http://localhost:3000",
			"http://localhost:3001",
		}
	}

	return allowOrigins
}

package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config 保存服务的全部配置。
// 大部分字段来自环境变量（可由 .env 提供），缺省值见 Load。
type Config struct {
	HTTPAddr string

	// 数据库配置
	DBDriver   string // mysql 或 sqlite
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	SQLitePath string
	DBLogLevel string

	// Redis配置
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// MinIO配置
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool
	DownloadPrefix string // 永久下载缓存对象前缀

	// 解析源配置
	PrimaryBaseURL    string
	SecondaryBaseURL  string
	TertiaryBaseURL   string
	ProviderTimeout   time.Duration
	ProviderRateLimit float64 // 每个解析源每秒请求数，0 表示不限速
	ProviderBurst     int

	// 播放策略
	MeteringPolicyEnabled bool // 计费网络下自动音质是否降为中等
	LoggedIn              bool // 主解析源是否已登录
	LoginEnabled          bool
	LoginOnlyForBrowse    bool
	PoToken               string
	VisitorData           string
	PrimaryCookie         string

	LocalMediaDir string

	// 格式缓存写入
	WriterPoolSize int
	WriterTimeout  time.Duration

	APIJWTSecret string

	// 日志配置
	LogLevel      string
	LogPath       string
	LogMaxSize    int
	LogMaxBackups int
	LogMaxAge     int
	LogCompress   bool
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration 支持 "10s" 这类写法，纯数字按秒处理
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}
	return FromEnv()
}

// FromEnv 只读取当前环境变量，不加载 .env（测试使用）
func FromEnv() *Config {
	return &Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),

		DBDriver:   getEnv("DB_DRIVER", "mysql"),
		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"), // 密码不设默认值
		DBName:     getEnv("DB_NAME", "streamresolve"),
		SQLitePath: getEnv("SQLITE_PATH", "streamresolve.db"),
		DBLogLevel: getEnv("DB_LOG_LEVEL", "warn"),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "streamresolve"),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),
		DownloadPrefix: getEnv("DOWNLOAD_PREFIX", "downloads"),

		PrimaryBaseURL:    getEnv("PRIMARY_BASE_URL", "https://music.youtube.com/youtubei/v1"),
		SecondaryBaseURL:  getEnv("SECONDARY_BASE_URL", "https://pipedapi.kavin.rocks"),
		TertiaryBaseURL:   getEnv("TERTIARY_BASE_URL", "https://inv.nadeko.net"),
		ProviderTimeout:   getEnvDuration("PROVIDER_TIMEOUT", 10*time.Second),
		ProviderRateLimit: getEnvFloat("PROVIDER_RATE_LIMIT", 5),
		ProviderBurst:     getEnvInt("PROVIDER_BURST", 10),

		MeteringPolicyEnabled: getEnvBool("METERING_POLICY_ENABLED", true),
		LoggedIn:              getEnvBool("PRIMARY_LOGGED_IN", false),
		LoginEnabled:          getEnvBool("PRIMARY_LOGIN_ENABLED", false),
		LoginOnlyForBrowse:    getEnvBool("PRIMARY_LOGIN_ONLY_FOR_BROWSE", false),
		PoToken:               getEnv("PRIMARY_PO_TOKEN", ""),
		VisitorData:           getEnv("PRIMARY_VISITOR_DATA", ""),
		PrimaryCookie:         os.Getenv("PRIMARY_COOKIE"),

		LocalMediaDir: getEnv("LOCAL_MEDIA_DIR", ""),

		WriterPoolSize: getEnvInt("WRITER_POOL_SIZE", 8),
		WriterTimeout:  getEnvDuration("WRITER_TIMEOUT", 5*time.Second),

		APIJWTSecret: getEnv("API_JWT_SECRET", ""),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogPath:       getEnv("LOG_PATH", ""),
		LogMaxSize:    getEnvInt("LOG_MAX_SIZE", 100),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
		LogMaxAge:     getEnvInt("LOG_MAX_AGE", 30),
		LogCompress:   getEnvBool("LOG_COMPRESS", true),
	}
}

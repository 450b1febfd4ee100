package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	GCS          GCSConfig
	Storage      StorageConfig
	Media        MediaConfig
	Enhancer     EnhancerConfig
	PubSub       PubSubConfig
	RateLimit    RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"ESTATELINK_APP_ENV" required:"true"`
	Port         string `envconfig:"ESTATELINK_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"ESTATELINK_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"ESTATELINK_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"ESTATELINK_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"ESTATELINK_DB_DSN"`
	Driver string `envconfig:"ESTATELINK_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"ESTATELINK_DB_HOST"`
	LegacyPort     int    `envconfig:"ESTATELINK_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"ESTATELINK_DB_USER"`
	LegacyPassword string `envconfig:"ESTATELINK_DB_PASSWORD"`
	LegacyName     string `envconfig:"ESTATELINK_DB_NAME"`
	LegacySSLMode  string `envconfig:"ESTATELINK_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"ESTATELINK_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ESTATELINK_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ESTATELINK_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ESTATELINK_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"ESTATELINK_REDIS_URL" required:"true"`
	Address      string        `envconfig:"ESTATELINK_REDIS_ADDR"`
	Password     string        `envconfig:"ESTATELINK_REDIS_PASSWORD"`
	DB           int           `envconfig:"ESTATELINK_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ESTATELINK_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ESTATELINK_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ESTATELINK_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ESTATELINK_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ESTATELINK_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"ESTATELINK_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"ESTATELINK_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"ESTATELINK_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"ESTATELINK_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"ESTATELINK_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"ESTATELINK_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"ESTATELINK_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"ESTATELINK_GOOGLE_APPLICATION_CREDENTIALS"`
}

type GCSConfig struct {
	BucketName    string `envconfig:"ESTATELINK_GCS_BUCKET_NAME" required:"true"`
	PublicBaseURL string `envconfig:"ESTATELINK_GCS_PUBLIC_BASE_URL"`
}

// RateLimitConfig throttles mutating API traffic per authenticated user.
type RateLimitConfig struct {
	Window        time.Duration `envconfig:"ESTATELINK_RATE_LIMIT_WINDOW" default:"1m"`
	MutationLimit int64         `envconfig:"ESTATELINK_RATE_LIMIT_MUTATIONS" default:"60"`
}

// StorageConfig carries the deployment scope prefixed onto every object key.
// The scope is always passed explicitly to key resolution, never read from
// ambient state inside the pipeline.
type StorageConfig struct {
	Scope string `envconfig:"ESTATELINK_STORAGE_SCOPE" required:"true"`
}

type MediaConfig struct {
	MaxUploadMB      int           `envconfig:"ESTATELINK_MEDIA_MAX_UPLOAD_MB" default:"200"`
	FFmpegPath       string        `envconfig:"ESTATELINK_MEDIA_FFMPEG_PATH" default:"ffmpeg"`
	FFprobePath      string        `envconfig:"ESTATELINK_MEDIA_FFPROBE_PATH" default:"ffprobe"`
	ProcessTimeout   time.Duration `envconfig:"ESTATELINK_MEDIA_PROCESS_TIMEOUT" default:"5m"`
	TempDir          string        `envconfig:"ESTATELINK_MEDIA_TEMP_DIR"`
	ThumbnailWidth   int           `envconfig:"ESTATELINK_MEDIA_THUMBNAIL_WIDTH" default:"480"`
	ThumbnailHeight  int           `envconfig:"ESTATELINK_MEDIA_THUMBNAIL_HEIGHT" default:"270"`
	ThumbnailQuality int           `envconfig:"ESTATELINK_MEDIA_THUMBNAIL_QUALITY" default:"80"`
	ThumbnailAtSec   int           `envconfig:"ESTATELINK_MEDIA_THUMBNAIL_AT_SEC" default:"1"`
	ImageQuality     int           `envconfig:"ESTATELINK_MEDIA_IMAGE_QUALITY" default:"85"`
}

func (m MediaConfig) MaxUploadBytes() int64 {
	if m.MaxUploadMB <= 0 {
		return 0
	}
	return int64(m.MaxUploadMB) * 1024 * 1024
}

type EnhancerConfig struct {
	BaseURL string        `envconfig:"ESTATELINK_ENHANCER_BASE_URL"`
	APIKey  string        `envconfig:"ESTATELINK_ENHANCER_API_KEY"`
	Timeout time.Duration `envconfig:"ESTATELINK_ENHANCER_TIMEOUT" default:"2m"`
}

type PubSubConfig struct {
	StorageEventsTopic        string `envconfig:"ESTATELINK_PUBSUB_STORAGE_EVENTS_TOPIC"`
	StorageEventsSubscription string `envconfig:"ESTATELINK_PUBSUB_STORAGE_EVENTS_SUBSCRIPTION" required:"true"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}

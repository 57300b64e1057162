package config

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type Config struct {
	LogLevel    string `mapstructure:"log_level"`
	LogFilePath string `mapstructure:"log_file_path"`

	CatalogPath string `mapstructure:"catalog_path"`

	HTTPPort    string `mapstructure:"http_port"`
	HTTPTimeout int    `mapstructure:"http_timeout"`
	APIKey      string `mapstructure:"api_key"      validate:"required"`

	PostgresHost            string `mapstructure:"postgres_host"              validate:"required"`
	PostgresUsername        string `mapstructure:"postgres_username"          validate:"required"`
	PostgresPassword        string `mapstructure:"postgres_password"          validate:"required"`
	PostgresPort            string `mapstructure:"postgres_port"              validate:"required"`
	PostgresDatabase        string `mapstructure:"postgres_database"          validate:"required"`
	PostgresSSLMode         string `mapstructure:"postgres_ssl_mode"`
	PostgresMaxOpenConns    int    `mapstructure:"postgres_max_open_conns"`
	PostgresMaxIdleConns    int    `mapstructure:"postgres_max_idle_conns"`
	PostgresConnMaxLifetime int    `mapstructure:"postgres_conn_max_lifetime"`
	DBIntervalCB            uint32 `mapstructure:"db_interval_cb"`
	DBConsecutiveFailuresCB uint32 `mapstructure:"db_consecutive_failures_cb"`

	RedisAddr     string `mapstructure:"redis_addr"      validate:"required"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisPoolSize int    `mapstructure:"redis_pool_size"`

	RedisIntervalCB            uint32 `mapstructure:"redis_interval_cb"`
	RedisConsecutiveFailuresCB uint32 `mapstructure:"redis_consecutive_failures_cb"`

	KafkaBootstrapServer       string `mapstructure:"kafka_bootstrap_server"        validate:"required"`
	KafkaSASLEnabled           bool   `mapstructure:"kafka_sasl_enabled"`
	KafkaUsername              string `mapstructure:"kafka_username"                validate:"required_if=KafkaSASLEnabled true"`
	KafkaPassword              string `mapstructure:"kafka_password"                validate:"required_if=KafkaSASLEnabled true"`
	KafkaDeliveryTopic         string `mapstructure:"kafka_delivery_topic"          validate:"required"`
	KafkaGroupID               string `mapstructure:"kafka_group_id"                validate:"required"`
	KafkaIntervalCB            uint32 `mapstructure:"kafka_interval_cb"`
	KafkaConsecutiveFailuresCB uint32 `mapstructure:"kafka_consecutive_failures_cb"`

	MinioEndpointURL            string `mapstructure:"minio_endpoint_url"              validate:"required_if=ArchiveExportEnabled true"`
	MinioAccessKey              string `mapstructure:"minio_access_key"                validate:"required_if=ArchiveExportEnabled true"`
	MinioSecretKey              string `mapstructure:"minio_secret_key"                validate:"required_if=ArchiveExportEnabled true"`
	MinioBucketName             string `mapstructure:"minio_bucket_name"               validate:"required_if=ArchiveExportEnabled true"`
	MinioSecure                 bool   `mapstructure:"minio_secure"`
	MinioMaxRetryAttempts       uint   `mapstructure:"minio_max_retry_attempts"`
	MinioRetryBackoffMinSeconds int    `mapstructure:"minio_retry_backoff_min_seconds"`
	MinioRetryBackoffMaxSeconds int    `mapstructure:"minio_retry_backoff_max_seconds"`
	MinioPathPrefix             string `mapstructure:"minio_path_prefix"`
	MinioTimeout                int    `mapstructure:"minio_timeout"`
	MinioIntervalCB             uint32 `mapstructure:"minio_interval_cb"`
	MinioConsecutiveFailuresCB  uint32 `mapstructure:"minio_consecutive_failures_cb"`

	Fast2SMSBaseURL string `mapstructure:"fast2sms_base_url"`
	Fast2SMSAPIKey  string `mapstructure:"fast2sms_api_key"`

	AWSRegion          string `mapstructure:"aws_region"`
	AWSAccessKeyID     string `mapstructure:"aws_access_key_id"`
	AWSSecretAccessKey string `mapstructure:"aws_secret_access_key"`
	SESFromEmail       string `mapstructure:"ses_from_email"`

	GmailHost        string `mapstructure:"gmail_host"`
	GmailPort        int    `mapstructure:"gmail_port"`
	GmailUser        string `mapstructure:"gmail_user"`
	GmailAppPassword string `mapstructure:"gmail_app_password"`
	GmailFromName    string `mapstructure:"gmail_from_name"`

	ProviderRetryBaseDelayMs int     `mapstructure:"provider_retry_base_delay_ms"`
	BreakerFailureRatio      float64 `mapstructure:"breaker_failure_ratio"`
	BreakerWindowSeconds     int     `mapstructure:"breaker_window_seconds"`

	PoolSize             int  `mapstructure:"pool_size"`
	QueueJobAttempts     uint `mapstructure:"queue_job_attempts"`
	QueueJobBackoff      int  `mapstructure:"queue_job_backoff"`
	JobCompletedTTLHours int  `mapstructure:"job_completed_ttl_hours"`
	JobFailedTTLHours    int  `mapstructure:"job_failed_ttl_hours"`
	IdempotencyTTLHours  int  `mapstructure:"idempotency_ttl_hours"`

	AutoRetryIntervalMinutes int `mapstructure:"auto_retry_interval_minutes"`
	AutoRetryBatchLimit      int `mapstructure:"auto_retry_batch_limit"`
	DLQAlertThreshold        int `mapstructure:"dlq_alert_threshold"`

	ArchivalHourUTC      int  `mapstructure:"archival_hour_utc"      validate:"gte=0,lte=23"`
	ArchiveAgeHours      int  `mapstructure:"archive_age_hours"`
	ArchiveRetentionDays int  `mapstructure:"archive_retention_days"`
	ArchiveExportEnabled bool `mapstructure:"archive_export_enabled"`

	BalanceCheckHourUTC int `mapstructure:"balance_check_hour_utc" validate:"gte=0,lte=23"`

	HealthCheckerMonitorInterval int `mapstructure:"health_checker_monitor_interval"`

	PrometheusPort    string `mapstructure:"prometheus_port"`
	PrometheusTimeout int    `mapstructure:"prometheus_timeout"`
}

var Conf Config

func init() {
	err := loadEnvConfig(&Conf)
	if err != nil {
		zap.NewExample().Fatal("failed to load config", zap.String("error", err.Error()))
	}
}

// Validate checks the loaded configuration. Binaries call it on startup so that
// packages depending on config can still be imported by tests without a full environment.
func Validate() error {
	return validator.New().Struct(&Conf)
}

func loadEnvConfig(cfg *Config) error {
	viper.AutomaticEnv()
	viper.AllowEmptyEnv(true)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setupDefaults()

	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")

	err := viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError

		ok := errors.As(err, &configFileNotFoundError)
		if !ok {
			return err
		}
	}

	return viper.Unmarshal(cfg)
}

func setupDefaults() {
	confType := reflect.TypeOf(Conf)
	for i := range confType.NumField() {
		field := confType.Field(i)
		viper.SetDefault(field.Tag.Get("mapstructure"), "")
	}

	viper.SetDefault("LOG_LEVEL", "INFO")
	viper.SetDefault("HTTP_PORT", "3000")
	viper.SetDefault("HTTP_TIMEOUT", "30")
	viper.SetDefault("POSTGRES_SSL_MODE", "disable")
	viper.SetDefault("POSTGRES_MAX_OPEN_CONNS", "20")
	viper.SetDefault("POSTGRES_MAX_IDLE_CONNS", "5")
	viper.SetDefault("POSTGRES_CONN_MAX_LIFETIME", "30")
	viper.SetDefault("DB_INTERVAL_CB", "30")
	viper.SetDefault("DB_CONSECUTIVE_FAILURES_CB", "3")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_DB", "0")
	viper.SetDefault("REDIS_POOL_SIZE", "20")
	viper.SetDefault("REDIS_INTERVAL_CB", "30")
	viper.SetDefault("REDIS_CONSECUTIVE_FAILURES_CB", "5")
	viper.SetDefault("KAFKA_DELIVERY_TOPIC", "herald-deliveries")
	viper.SetDefault("KAFKA_GROUP_ID", "herald-workers")
	viper.SetDefault("KAFKA_SASL_ENABLED", "false")
	viper.SetDefault("KAFKA_INTERVAL_CB", "30")
	viper.SetDefault("KAFKA_CONSECUTIVE_FAILURES_CB", "5")
	viper.SetDefault("MINIO_SECURE", "true")
	viper.SetDefault("MINIO_MAX_RETRY_ATTEMPTS", "3")
	viper.SetDefault("MINIO_RETRY_BACKOFF_MIN_SECONDS", "1")
	viper.SetDefault("MINIO_RETRY_BACKOFF_MAX_SECONDS", "10")
	viper.SetDefault("MINIO_PATH_PREFIX", "herald")
	viper.SetDefault("MINIO_TIMEOUT", "60")
	viper.SetDefault("MINIO_INTERVAL_CB", "300")
	viper.SetDefault("MINIO_CONSECUTIVE_FAILURES_CB", "3")
	viper.SetDefault("FAST2SMS_BASE_URL", "https://www.fast2sms.com/dev")
	viper.SetDefault("AWS_REGION", "ap-south-1")
	viper.SetDefault("GMAIL_HOST", "smtp.gmail.com")
	viper.SetDefault("GMAIL_PORT", "587")
	viper.SetDefault("GMAIL_FROM_NAME", "Herald")
	viper.SetDefault("PROVIDER_RETRY_BASE_DELAY_MS", "1000")
	viper.SetDefault("BREAKER_FAILURE_RATIO", "0.5")
	viper.SetDefault("BREAKER_WINDOW_SECONDS", "60")
	viper.SetDefault("POOL_SIZE", "10")
	viper.SetDefault("QUEUE_JOB_ATTEMPTS", "3")
	viper.SetDefault("QUEUE_JOB_BACKOFF", "2")
	viper.SetDefault("JOB_COMPLETED_TTL_HOURS", "24")
	viper.SetDefault("JOB_FAILED_TTL_HOURS", "168")
	viper.SetDefault("IDEMPOTENCY_TTL_HOURS", "24")
	viper.SetDefault("AUTO_RETRY_INTERVAL_MINUTES", "15")
	viper.SetDefault("AUTO_RETRY_BATCH_LIMIT", "100")
	viper.SetDefault("DLQ_ALERT_THRESHOLD", "100")
	viper.SetDefault("ARCHIVAL_HOUR_UTC", "2")
	viper.SetDefault("ARCHIVE_AGE_HOURS", "168")
	viper.SetDefault("ARCHIVE_RETENTION_DAYS", "90")
	viper.SetDefault("ARCHIVE_EXPORT_ENABLED", "false")
	viper.SetDefault("BALANCE_CHECK_HOUR_UTC", "0")
	viper.SetDefault("HEALTH_CHECKER_MONITOR_INTERVAL", "60")
	viper.SetDefault("PROMETHEUS_PORT", "2112")
	viper.SetDefault("PROMETHEUS_TIMEOUT", "60")
}

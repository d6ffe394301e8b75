package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/pottery-backend/pottery/internal/logger"
	"github.com/pottery-backend/pottery/internal/validator"
)

type PostgresConfig struct {
	User               string        `validate:"required"`
	Password           string        `validate:"required"`
	Host               string        `validate:"required"`
	Database           string        `validate:"required"`
	MaxIdleConnections int           `validate:"required" mapstructure:"max_idle_connections"`
	MaxOpenConnections int           `validate:"required" mapstructure:"max_open_connections"`
	ConnectionTTL      time.Duration `validate:"required" mapstructure:"connection_ttl"`
	Port               int16         `validate:"required"`
}

type StoreConfig struct {
	// postgres for deployments, memory for development and tests
	Driver   string          `mapstructure:"driver"   validate:"required,oneof=postgres memory"`
	Postgres *PostgresConfig `mapstructure:"postgres" validate:"required_if=Driver postgres"`
}

type DockerConfig struct {
	// Passed to the container as --cpus
	CPUs float64 `mapstructure:"cpus"       validate:"gte=0"`
	// Pull images that are not present locally before creating the container
	PullImages bool `mapstructure:"pull_images"`
}

type ContainersConfig struct {
	Engine string        `mapstructure:"engine" validate:"required,oneof=docker local"`
	Docker *DockerConfig `mapstructure:"docker" validate:"required"`
}

type WorkerConfig struct {
	Threads    int           `mapstructure:"threads"     validate:"required,gte=1"`
	MaxRetries int           `mapstructure:"max_retries" validate:"gte=0"`
	RetryDelay time.Duration `mapstructure:"retry_delay" validate:"gte=0"`
}

type DirectoriesConfig struct {
	// Task definitions and their built copies
	Tasks string `mapstructure:"tasks"       validate:"required"`
	// Student repositories
	Repos string `mapstructure:"repos"       validate:"required"`
	// Scratch space for submissions being graded
	Submissions string `mapstructure:"submissions" validate:"required"`
}

type SlogConfig struct {
	Level int `mapstructure:"level"`
}

type GormLogConfig struct {
	Level        int  `mapstructure:"level"`
	TraceQueries bool `mapstructure:"trace_queries"`
}

type LoggingConfig struct {
	Gorm             GormLogConfig `mapstructure:"gorm"`
	App              SlogConfig    `mapstructure:"app"`
	UseOTLP          bool          `mapstructure:"use_otlp"`
	TraceSampleRatio float64       `mapstructure:"trace_sample_ratio" validate:"gte=0,lte=1"`
}

type S3ArchiveConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Endpoint        string `mapstructure:"endpoint"          validate:"required_if=Enabled true"`
	AccessKeyID     string `mapstructure:"access_key_id"     validate:"required_if=Enabled true"`
	SecretAccessKey string `mapstructure:"secret_access_key" validate:"required_if=Enabled true"`
	BucketName      string `mapstructure:"bucket_name"       validate:"required_if=Enabled true"`
	SSLEnabled      bool   `mapstructure:"ssl_enabled"`
	Compress        bool   `mapstructure:"compress"`
}

type RepoConfig struct {
	// Validity of a repository created without an explicit expiry
	DefaultValidity time.Duration `mapstructure:"default_validity" validate:"required"`
	CommitterName   string        `mapstructure:"committer_name"   validate:"required"`
	CommitterEmail  string        `mapstructure:"committer_email"  validate:"required,email"`
}

// See pottery.example.yaml for an example config
type Config struct {
	Store                *StoreConfig       `mapstructure:"store"                  validate:"required"`
	Containers           *ContainersConfig  `mapstructure:"containers"             validate:"required"`
	Worker               *WorkerConfig      `mapstructure:"worker"                 validate:"required"`
	Directories          *DirectoriesConfig `mapstructure:"directories"            validate:"required"`
	Logging              *LoggingConfig     `mapstructure:"logging"                validate:"required"`
	S3Archive            *S3ArchiveConfig   `mapstructure:"s3_archive"             validate:"required"`
	Repo                 *RepoConfig        `mapstructure:"repo"                   validate:"required"`
	ListenAddress        string             `mapstructure:"listen_address"         validate:"required"`
	GracefulShutdownSecs int64              `mapstructure:"graceful_shutdown_secs"`
}

const (
	AppLogLevel                string = "logging.app.level"
	ContainersEngine           string = "containers.engine"
	DockerCPUs                 string = "containers.docker.cpus"
	DockerPullImages           string = "containers.docker.pull_images"
	EnvPrefix                  string = "pottery"
	UseOTLP                    string = "logging.use_otlp"
	TraceSampleRatio           string = "logging.trace_sample_ratio"
	GormLogLevel               string = "logging.gorm.level"
	GormTraceQueries           string = "logging.gorm.trace_queries"
	GracefulShutdownSecs       string = "graceful_shutdown_secs"
	ListenAddress              string = "listen_address"
	PostgresDatabase           string = "store.postgres.database"
	PostgresHost               string = "store.postgres.host"
	PostgresPassword           string = "store.postgres.password"
	PostgresPort               string = "store.postgres.port"
	PostgresUser               string = "store.postgres.user"
	PostgresMaxIdleConnections string = "store.postgres.max_idle_connections"
	PostgresMaxOpenConnections string = "store.postgres.max_open_connections"
	PostgresConnectonTTL       string = "store.postgres.connection_ttl"
	RepoCommitterEmail         string = "repo.committer_email"
	RepoCommitterName          string = "repo.committer_name"
	RepoDefaultValidity        string = "repo.default_validity"
	ReposDir                   string = "directories.repos"
	S3AccessKeyID              string = "s3_archive.access_key_id"
	S3ArchiveEnabled           string = "s3_archive.enabled"
	S3BucketName               string = "s3_archive.bucket_name"
	S3Endpoint                 string = "s3_archive.endpoint"
	S3Compress                 string = "s3_archive.compress"
	S3SSLEnabled               string = "s3_archive.ssl_enabled"
	S3SecretAccessKey          string = "s3_archive.secret_access_key" // #nosec
	StoreDriver                string = "store.driver"
	SubmissionsDir             string = "directories.submissions"
	TasksDir                   string = "directories.tasks"
	WorkerMaxRetries           string = "worker.max_retries"
	WorkerRetryDelay           string = "worker.retry_delay"
	WorkerThreads              string = "worker.threads"
)

var configReady = false
var config Config

func GetConfig() (*Config, error) {
	if configReady {
		logger.Logger.Debug("returning already-loaded config")
		return &config, nil
	}
	logger.Logger.Info("loading config")

	// a missing .env is the normal case outside of development
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()

	v.SetConfigName("pottery")

	v.AddConfigPath("/etc/pottery/")
	v.AddConfigPath(".")

	v.SetConfigType("yaml")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.AutomaticEnv()

	// workaround for https://github.com/spf13/viper/issues/761
	// bind env vars explicitly so they unmarshal into the nested struct
	for _, key := range []string{
		PostgresUser,
		PostgresPassword,
		PostgresDatabase,
		S3AccessKeyID,
		S3SecretAccessKey,
		S3BucketName,
		S3Endpoint,
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	setDefaults(v)

	err := v.ReadInConfig()
	if err != nil {
		// ignore config file not found to allow pure env config
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	err = v.Unmarshal(&config)
	if err != nil {
		configReady = false
		return nil, err
	}

	// defaults always populate the postgres block; only validate it when it is used
	if config.Store != nil && config.Store.Driver != "postgres" {
		config.Store.Postgres = nil
	}

	valid := validator.Create()
	err = valid.Validate(&config)
	if err != nil {
		configReady = false
		return nil, err
	}

	configReady = true
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(ListenAddress, "[::]:1323")
	v.SetDefault(GracefulShutdownSecs, 30)

	v.SetDefault(StoreDriver, "memory")
	v.SetDefault(PostgresHost, "localhost")
	v.SetDefault(PostgresPort, 5432)
	v.SetDefault(PostgresMaxIdleConnections, 2)
	v.SetDefault(PostgresMaxOpenConnections, 10)
	v.SetDefault(PostgresConnectonTTL, 10*time.Minute)

	v.SetDefault(ContainersEngine, "docker")
	v.SetDefault(DockerCPUs, 1.0)
	v.SetDefault(DockerPullImages, true)

	v.SetDefault(WorkerThreads, 4)
	v.SetDefault(WorkerMaxRetries, 20)
	v.SetDefault(WorkerRetryDelay, 5*time.Second)

	v.SetDefault(TasksDir, "/var/lib/pottery/tasks")
	v.SetDefault(ReposDir, "/var/lib/pottery/repos")
	v.SetDefault(SubmissionsDir, "/var/lib/pottery/submissions")

	v.SetDefault(RepoDefaultValidity, 24*365*time.Hour)
	v.SetDefault(RepoCommitterName, "pottery")
	v.SetDefault(RepoCommitterEmail, "pottery@pottery.local")

	v.SetDefault(GormLogLevel, int(slog.LevelDebug))
	v.SetDefault(GormTraceQueries, false)
	v.SetDefault(AppLogLevel, int(slog.LevelDebug))
	v.SetDefault(UseOTLP, false)
	v.SetDefault(TraceSampleRatio, 1.0)

	v.SetDefault(S3ArchiveEnabled, false)
	v.SetDefault(S3SSLEnabled, true)
	v.SetDefault(S3Compress, true)
}

func (c *Config) PostgresDSN() string {
	p := c.Store.Postgres
	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s",
		url.QueryEscape(p.User),
		url.QueryEscape(p.Password),
		p.Host, p.Port,
		url.QueryEscape(p.Database),
	)
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig
	SQLite       SQLiteConfig
	Redis        RedisConfig
	LLM          LLMConfig
	Engine       EngineConfig
	Executor     ExecutorConfig
	Transform    TransformConfig
	Summarize    SummarizeConfig
	Notify       NotifyConfig
	Orchestrator OrchestratorConfig
	Logging      LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type LLMConfig struct {
	Model       string
	APIKey      string
	Temperature float32
	MaxTokens   int
	TimeoutSec  int
}

// EngineConfig names the analytical database and the location query
// results are written to, mirroring the engine's submit contract.
type EngineConfig struct {
	Database       string
	OutputLocation string
	MaxConcurrent  int
}

type ExecutorConfig struct {
	PollInterval   time.Duration
	Deadline       time.Duration
	MaxAttempts    int
	MaxResultRows  int
	MaxResultBytes int
	PollWorkers    int
}

type TransformConfig struct {
	CompletenessWeight float64
	ValidityWeight     float64
	UniquenessWeight   float64
	DuplicatePenalty   float64
	QualityFloor       float64
	Workers            int
}

type SummarizeConfig struct {
	MaxSampleRows  int
	MaxSampleBytes int
}

type NotifyConfig struct {
	Sender      string
	SMTPHost    string
	SMTPPort    int
	MaxAttempts int
}

type OrchestratorConfig struct {
	Workers   int
	QueueSize int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/retail-insights")

	viper.SetEnvPrefix("RETAIL_INSIGHTS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 1048576)

	viper.SetDefault("sqlite.path", "./data/insights.db")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("llm.model", "gpt-4")
	viper.SetDefault("llm.temperature", 0.1)
	viper.SetDefault("llm.maxTokens", 500)
	viper.SetDefault("llm.timeoutSec", 60)

	viper.SetDefault("engine.database", "retail_analytics_db")
	viper.SetDefault("engine.outputLocation", "./data/query-results")
	viper.SetDefault("engine.maxConcurrent", 8)

	viper.SetDefault("executor.pollInterval", "2s")
	viper.SetDefault("executor.deadline", "5m")
	viper.SetDefault("executor.maxAttempts", 3)
	viper.SetDefault("executor.maxResultRows", 1000)
	viper.SetDefault("executor.maxResultBytes", 262144)
	viper.SetDefault("executor.pollWorkers", 4)

	viper.SetDefault("transform.completenessWeight", 0.4)
	viper.SetDefault("transform.validityWeight", 0.4)
	viper.SetDefault("transform.uniquenessWeight", 0.2)
	viper.SetDefault("transform.duplicatePenalty", 0.1)
	viper.SetDefault("transform.qualityFloor", 0.5)
	viper.SetDefault("transform.workers", 4)

	viper.SetDefault("summarize.maxSampleRows", 50)
	viper.SetDefault("summarize.maxSampleBytes", 16384)

	viper.SetDefault("notify.sender", "insights@retail-analytics.local")
	viper.SetDefault("notify.smtpHost", "localhost")
	viper.SetDefault("notify.smtpPort", 25)
	viper.SetDefault("notify.maxAttempts", 3)

	viper.SetDefault("orchestrator.workers", 8)
	viper.SetDefault("orchestrator.queueSize", 256)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}

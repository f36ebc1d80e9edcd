package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"talent-radar/internal/batch"
	"talent-radar/internal/fetcher"
	"talent-radar/internal/llm"
	"talent-radar/internal/notifier"
	"talent-radar/internal/queue"
	"talent-radar/internal/recipient"
	"talent-radar/internal/scheduler"
	"talent-radar/internal/storage"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// App 应用名，同时是默认配置文件名。
	App = "talent-radar"
	// EnvPrefix 环境变量前缀，例如 TALENT_RADAR_LLM_API_KEY。
	EnvPrefix = "TALENT_RADAR"
)

// Config 应用配置。
type Config struct {
	Database   storage.Config       `mapstructure:"database"`
	Server     ServerConfig         `mapstructure:"server"`
	LLM        llm.Config           `mapstructure:"llm"`
	Queue      queue.Config         `mapstructure:"queue"`
	Email      notifier.EmailConfig `mapstructure:"email"`
	Scheduler  scheduler.Config     `mapstructure:"scheduler"`
	Prompts    PromptsConfig        `mapstructure:"prompts"`
	Fetcher    fetcher.Config       `mapstructure:"fetcher"`
	Batch      batch.Config         `mapstructure:"batch"`
	Recipients recipient.Config     `mapstructure:"recipients"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type PromptsConfig struct {
	// File 覆盖内置模板的 YAML 文件，可为空。
	File string `mapstructure:"file"`
}

var defaults = map[string]any{
	"database.driver":             "sqlite",
	"database.dsn":                "data/talent-radar.db",
	"server.addr":                 ":8080",
	"llm.provider":                llm.ProviderGemini,
	"llm.api_key":                 "",
	"llm.model":                   "",
	"llm.api_base":                "",
	"llm.timeout":                 120 * time.Second,
	"llm.requests_per_minute":     0,
	"llm.extract_mode":            llm.ExtractModeManual,
	"queue.workers":               2,
	"queue.size":                  256,
	"queue.timeout":               30 * time.Minute,
	"queue.retention":             time.Hour,
	"email.host":                  "",
	"email.port":                  0,
	"email.username":              "",
	"email.password":              "",
	"email.from":                  "",
	"email.subject":               "[talent-radar]",
	"scheduler.interval":          "",
	"scheduler.timeout":           5 * time.Minute,
	"prompts.file":                "",
	"fetcher.timeout":             15 * time.Second,
	"fetcher.max_bytes":           int64(10 << 20),
	"batch.max_errors":            10,
	"batch.document_timeout":      10 * time.Minute,
	"recipients.allowed_channels": []string{notifier.ChannelEmail, notifier.ChannelLog},
}

// Load 读取配置：先加载 .env（存在时），再读 YAML 文件，环境变量优先。
// path 为空时在当前目录查找 talent-radar.yaml，找不到则只用默认值与环境变量。
// v 为 nil 时新建，传入时可预先绑定命令行参数。
func Load(v *viper.Viper, path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if v == nil {
		v = viper.New()
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName(App)
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 只检查结构性错误。凭据或模型缺失不在这里报错，而是在每次运行的前置检查中报告。
func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(strings.TrimSpace(c.Database.Driver)) {
	case "", "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver: unsupported %q", c.Database.Driver))
	}
	if strings.EqualFold(c.Database.Driver, "postgres") && strings.TrimSpace(c.Database.DSN) == "" {
		errs = append(errs, errors.New("database.dsn: required for postgres"))
	}

	switch strings.ToLower(strings.TrimSpace(c.LLM.Provider)) {
	case "", llm.ProviderGemini, llm.ProviderOpenAI:
	default:
		errs = append(errs, fmt.Errorf("llm.provider: unsupported %q", c.LLM.Provider))
	}
	switch strings.ToLower(strings.TrimSpace(c.LLM.ExtractMode)) {
	case "", llm.ExtractModeManual, llm.ExtractModeOff:
	default:
		errs = append(errs, fmt.Errorf("llm.extract_mode: unsupported %q", c.LLM.ExtractMode))
	}
	if c.LLM.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("llm.requests_per_minute: must not be negative"))
	}

	if c.Queue.Workers < 0 || c.Queue.Size < 0 || c.Queue.Retention < 0 {
		errs = append(errs, errors.New("queue: negative values are not allowed"))
	}
	if c.Email.Port < 0 || c.Email.Port > 65535 {
		errs = append(errs, fmt.Errorf("email.port: %d out of range", c.Email.Port))
	}
	if _, err := scheduler.New(nil, nil, c.Scheduler, nil); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.interval: %w", err))
	}
	for _, ch := range c.Recipients.AllowedChannels {
		if ch != notifier.ChannelEmail && ch != notifier.ChannelLog {
			errs = append(errs, fmt.Errorf("recipients.allowed_channels: unknown channel %q", ch))
		}
	}
	if c.Batch.MaxErrors < 0 || c.Batch.DocumentTimeout < 0 {
		errs = append(errs, errors.New("batch: max_errors and document_timeout must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

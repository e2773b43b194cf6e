package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"cratio-alerts/internal/logging"
)

// Config materialises application configuration. It is built once at
// startup and never re-read.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Chain     ChainConfig     `mapstructure:"chain"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN
// disables persistence entirely.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs polling cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// ChainConfig covers lending-pool data access over RPC.
type ChainConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	PoolAddress    string        `mapstructure:"pool_address"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MinRatio       float64       `mapstructure:"min_ratio"`
	MaxRatio       float64       `mapstructure:"max_ratio"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
}

// MonitorConfig defines the edge-detection bands and policies.
type MonitorConfig struct {
	PollTimeout            time.Duration `mapstructure:"poll_timeout"`
	Cooldown               time.Duration `mapstructure:"cooldown"`
	HealthyThreshold       float64       `mapstructure:"healthy_threshold"`
	CriticalThreshold      float64       `mapstructure:"critical_threshold"`
	LiquidationThreshold   float64       `mapstructure:"liquidation_threshold"`
	Window                 int           `mapstructure:"window"`
	FireOnFirstObservation bool          `mapstructure:"fire_on_first_observation"`
	MaxMissedPolls         int           `mapstructure:"max_missed_polls"`
}

// AlertingConfig defines delivery channels and outbound pacing.
type AlertingConfig struct {
	Enabled        bool           `mapstructure:"enabled"`
	SendsPerSecond float64        `mapstructure:"sends_per_second"`
	SendBurst      int            `mapstructure:"send_burst"`
	Telegram       TelegramConfig `mapstructure:"telegram"`
	SMS            SMSConfig      `mapstructure:"sms"`
	Email          EmailConfig    `mapstructure:"email"`
	Thread         ThreadConfig   `mapstructure:"thread"`
}

// TelegramConfig describes the Telegram bot channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	APIBase  string `mapstructure:"api_base"`
}

// SMSConfig describes the Twilio channel.
type SMSConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	Sender     string `mapstructure:"sender"`
	APIBase    string `mapstructure:"api_base"`
}

// EmailConfig describes the SendGrid channel.
type EmailConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
	Sender  string `mapstructure:"sender"`
	APIBase string `mapstructure:"api_base"`
}

// ThreadConfig describes the in-app thread channel.
type ThreadConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BaseURL  string `mapstructure:"base_url"`
	APIToken string `mapstructure:"api_token"`
}

// AdminConfig governs the operational HTTP server (subscriber admin,
// health, metrics).
type AdminConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRATIOWATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "cratiowatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.align_to_bucket", false)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x63726174))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("chain.request_timeout", "10s")
	v.SetDefault("chain.min_ratio", 1.0)
	v.SetDefault("chain.max_ratio", 2.5)
	v.SetDefault("chain.max_concurrency", 8)

	v.SetDefault("monitor.poll_timeout", "30s")
	v.SetDefault("monitor.cooldown", "5m")
	v.SetDefault("monitor.healthy_threshold", 1.5)
	v.SetDefault("monitor.critical_threshold", 1.35)
	v.SetDefault("monitor.liquidation_threshold", 1.25)
	v.SetDefault("monitor.window", 1)
	v.SetDefault("monitor.fire_on_first_observation", false)
	v.SetDefault("monitor.max_missed_polls", 0)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.sends_per_second", 10.0)
	v.SetDefault("alerting.send_burst", 20)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.sms.enabled", false)
	v.SetDefault("alerting.sms.api_base", "https://api.twilio.com")
	v.SetDefault("alerting.email.enabled", false)
	v.SetDefault("alerting.email.api_base", "https://api.sendgrid.com")
	v.SetDefault("alerting.thread.enabled", false)

	v.SetDefault("admin.enabled", true)
	v.SetDefault("admin.listen_addr", ":8080")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.migrations_path", "migrations")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs sanity checks. A failure here is fatal: the process
// never reaches the polling loop with a malformed configuration.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Monitor.PollTimeout <= 0 {
		return fmt.Errorf("monitor.poll_timeout must be greater than zero")
	}
	if c.Monitor.Cooldown < 0 {
		return fmt.Errorf("monitor.cooldown cannot be negative")
	}
	if c.Monitor.Window < 1 {
		return fmt.Errorf("monitor.window must be at least 1")
	}
	if c.Monitor.HealthyThreshold <= c.Monitor.CriticalThreshold {
		return fmt.Errorf("monitor.healthy_threshold must exceed monitor.critical_threshold")
	}
	if c.Monitor.CriticalThreshold <= c.Monitor.LiquidationThreshold {
		return fmt.Errorf("monitor.critical_threshold must exceed monitor.liquidation_threshold")
	}
	if c.Monitor.MaxMissedPolls < 0 {
		return fmt.Errorf("monitor.max_missed_polls cannot be negative")
	}
	if c.Chain.MinRatio >= c.Chain.MaxRatio {
		return fmt.Errorf("chain.min_ratio must be below chain.max_ratio")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled && c.Alerting.Telegram.BotToken == "" {
		return fmt.Errorf("alerting.telegram.bot_token must be configured")
	}
	if c.Alerting.SMS.Enabled {
		if c.Alerting.SMS.AccountSID == "" || c.Alerting.SMS.AuthToken == "" {
			return fmt.Errorf("alerting.sms.account_sid and auth_token must be configured")
		}
		if c.Alerting.SMS.Sender == "" {
			return fmt.Errorf("alerting.sms.sender must be configured")
		}
	}
	if c.Alerting.Email.Enabled {
		if c.Alerting.Email.APIKey == "" {
			return fmt.Errorf("alerting.email.api_key must be configured")
		}
		if c.Alerting.Email.Sender == "" {
			return fmt.Errorf("alerting.email.sender must be configured")
		}
	}
	if c.Alerting.Thread.Enabled && c.Alerting.Thread.BaseURL == "" {
		return fmt.Errorf("alerting.thread.base_url must be configured")
	}
	if c.Admin.Enabled && c.Admin.ListenAddr == "" {
		return fmt.Errorf("admin.listen_addr must be configured")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

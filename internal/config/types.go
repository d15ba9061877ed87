package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Trade    TradeConfig    `mapstructure:"trade"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Discord  DiscordConfig  `mapstructure:"discord"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// TradeConfig 控制交易会话的节奏与限制。
type TradeConfig struct {
	SessionTimeout      time.Duration `mapstructure:"session_timeout"`
	CheckInterval       time.Duration `mapstructure:"check_interval"`
	MaxItemsPerSide     int           `mapstructure:"max_items_per_side"`
	RequireConfirmation bool          `mapstructure:"require_confirmation"`
	ReleaseStaleLocks   bool          `mapstructure:"release_stale_locks"`
	StatsInterval       time.Duration `mapstructure:"stats_interval"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// MonitorConfig 控制审计事件查询接口。
type MonitorConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// DiscordConfig 描述机器人连接信息。
type DiscordConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Token         string `mapstructure:"token"`
	ApplicationID string `mapstructure:"application_id"`
	GuildID       string `mapstructure:"guild_id"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Trade.SessionTimeout <= 0 {
		err = multierr.Append(err, errors.New("trade.session_timeout 必须大于0"))
	}
	if c.Trade.CheckInterval <= 0 {
		err = multierr.Append(err, errors.New("trade.check_interval 必须大于0"))
	}
	if c.Trade.CheckInterval > c.Trade.SessionTimeout {
		err = multierr.Append(err, errors.New("trade.check_interval 不应大于 session_timeout"))
	}
	if c.Trade.MaxItemsPerSide < 0 {
		err = multierr.Append(err, errors.New("trade.max_items_per_side 不能为负，0 表示不限"))
	}
	if c.Trade.StatsInterval <= 0 {
		err = multierr.Append(err, errors.New("trade.stats_interval 必须大于0"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}
	if c.Monitor.Enabled && (c.Monitor.Port <= 0 || c.Monitor.Port > 65535) {
		err = multierr.Append(err, errors.New("monitor.port 必须位于[1,65535]"))
	}
	if c.Discord.Enabled {
		if c.Discord.Token == "" {
			err = multierr.Append(err, errors.New("discord.token 不能为空"))
		}
		if c.Discord.ApplicationID == "" {
			err = multierr.Append(err, errors.New("discord.application_id 不能为空"))
		}
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}

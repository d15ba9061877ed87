package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "countryball"
)

// Load 读取配置文件并结合环境变量返回 Config。
// 未显式指定路径且默认文件不存在时，仅使用默认值与环境变量。
func Load(path string) (*Config, error) {
	v := viper.New()

	explicit := path != ""
	if !explicit {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case !explicit && (errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)):
			// 容器部署时通常只注入环境变量
		case errors.As(err, &notFound):
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		default:
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("trade.session_timeout", "30m")
	v.SetDefault("trade.check_interval", "15s")
	v.SetDefault("trade.max_items_per_side", 25)
	v.SetDefault("trade.require_confirmation", false)
	v.SetDefault("trade.release_stale_locks", false)
	v.SetDefault("trade.stats_interval", "5m")

	v.SetDefault("database.path", "data/countryball.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.port", 8090)

	// token 等敏感字段必须有默认值，AutomaticEnv 才能在 Unmarshal 时读取到环境变量
	v.SetDefault("discord.enabled", false)
	v.SetDefault("discord.token", "")
	v.SetDefault("discord.application_id", "")
	v.SetDefault("discord.guild_id", "")
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

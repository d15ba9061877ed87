package log

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"countryball/internal/config"
)

// NewLogger 根据配置创建 zap.Logger，environment 作为固定字段写入每条日志。
func NewLogger(cfg config.LoggingConfig, environment string) (*zap.Logger, error) {
	zapCfg, err := buildConfig(cfg, environment)
	if err != nil {
		return nil, err
	}

	logger, err := zapCfg.Build(zap.AddCaller(), zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("创建日志实例失败: %w", err)
	}
	return logger, nil
}

// buildConfig 以 zap 的开发/生产预设为底，再套用配置项。
func buildConfig(cfg config.LoggingConfig, environment string) (zap.Config, error) {
	level := zapcore.InfoLevel
	if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
		return zap.Config{}, fmt.Errorf("解析日志级别失败: %w", err)
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.Development {
		// 开发预设关闭采样，并在 Warn 及以上附带堆栈
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	zapCfg.Encoding = strings.ToLower(strings.TrimSpace(cfg.Encoding))
	if zapCfg.Encoding == "" {
		zapCfg.Encoding = "console"
		if strings.EqualFold(environment, "production") {
			zapCfg.Encoding = "json"
		}
	}

	enc := &zapCfg.EncoderConfig
	enc.TimeKey = "ts"
	enc.NameKey = "logger"
	enc.CallerKey = "caller"
	enc.FunctionKey = zapcore.OmitKey
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeDuration = zapcore.StringDurationEncoder
	enc.EncodeCaller = zapcore.ShortCallerEncoder
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	if zapCfg.Encoding == "console" && cfg.Development {
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if len(cfg.OutputPaths) > 0 {
		zapCfg.OutputPaths = cfg.OutputPaths
	}
	if len(cfg.ErrorOutputPaths) > 0 {
		zapCfg.ErrorOutputPaths = cfg.ErrorOutputPaths
	}
	zapCfg.InitialFields = map[string]interface{}{
		"service":     "countryball",
		"environment": environment,
	}
	return zapCfg, nil
}

package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"countryball/internal/config"
	"countryball/internal/discord"
	"countryball/internal/monitor"
	"countryball/internal/store"
	"countryball/internal/trade"
)

// shutdownTimeout 为退出时取消会话、释放锁的最长等待。
const shutdownTimeout = 15 * time.Second

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 组装交易引擎及其外围组件，阻塞到 ctx 结束后有序退出。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("交易服务已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.Duration("session_timeout", a.cfg.Trade.SessionTimeout),
		zap.Bool("require_confirmation", a.cfg.Trade.RequireConfirmation),
		zap.Bool("discord", a.cfg.Discord.Enabled),
	)

	players := store.NewPlayers(a.store)
	resources := store.NewResources(a.store)

	if a.cfg.Trade.ReleaseStaleLocks {
		// 多个实例可能共享同一数据库，只清理早于任何存活会话的锁
		released, err := resources.ReleaseStaleLocks(ctx, staleLockCutoff(time.Now(), a.cfg.Trade.SessionTimeout))
		if err != nil {
			return fmt.Errorf("释放残留锁失败: %w", err)
		}
		if released > 0 {
			a.logger.Warn("已释放上次运行残留的锁", zap.Int64("count", released))
		}
	}

	monitorSvc, err := monitor.NewService(a.store, a.logger.Named("monitor"))
	if err != nil {
		return err
	}

	engine, err := trade.NewEngine(trade.OptionsFromConfig(a.cfg.Trade), resources, trade.NewRegistry(), monitorSvc, a.logger.Named("trade"))
	if err != nil {
		return err
	}
	engine.Start(ctx)

	var bot *discord.Bot
	if a.cfg.Discord.Enabled {
		discordLogger := a.logger.Named("discord")
		bot, err = discord.NewBot(a.cfg.Discord, discord.NewHandler(engine, players, resources, discordLogger), discordLogger)
		if err != nil {
			return err
		}
	}

	group, groupCtx := errgroup.WithContext(ctx)

	if a.cfg.Monitor.Enabled {
		group.Go(func() error {
			return runMonitorServer(groupCtx, monitorSvc, engine, a.cfg.Monitor.Port, a.logger)
		})
	}

	if bot != nil {
		group.Go(func() error {
			return bot.Run(groupCtx)
		})
	}

	group.Go(func() error {
		a.runStatsLoop(groupCtx, engine, monitorSvc)
		return nil
	})

	runErr := group.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := engine.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("停机时取消会话失败", zap.Error(err))
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("系统异常退出: %w", runErr)
	}
	a.logger.Info("系统收到退出信号，已停止")
	return nil
}

// staleLockCutoff 返回残留锁判定的时间界限，晚于该时刻加的锁可能属于仍在进行的会话。
func staleLockCutoff(now time.Time, sessionTimeout time.Duration) time.Time {
	if sessionTimeout <= 0 {
		sessionTimeout = trade.DefaultSessionTimeout
	}
	return now.Add(-sessionTimeout)
}

func (a *App) runStatsLoop(ctx context.Context, engine *trade.Engine, svc *monitor.Service) {
	interval := a.cfg.Trade.StatsInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := engine.Stats()
			a.logger.Info("交易运行统计",
				zap.Int("live_sessions", stats.LiveSessions),
				zap.Int("supervised_tasks", stats.SupervisedTasks),
			)
			svc.RecordStats(ctx, monitor.StatsPayload{
				LiveSessions:    stats.LiveSessions,
				SupervisedTasks: stats.SupervisedTasks,
			})
		}
	}
}

package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"countryball/internal/store"
	"countryball/internal/trade"
)

const historyLimit = 10

// Engine 为机器人依赖的交易操作。
type Engine interface {
	CreateSession(ctx context.Context, scope string, identityA, identityB int64) (trade.Handle, error)
	Dispatch(ctx context.Context, cmd trade.Command) (trade.Snapshot, error)
	GetState(scope string, identity int64) (trade.Snapshot, error)
	History(ctx context.Context, identity int64, limit int) ([]store.ExchangeRecord, error)
}

// Players 将 Discord 账号映射为玩家身份。
type Players interface {
	Resolve(ctx context.Context, discordID string) (int64, error)
	DiscordID(ctx context.Context, playerID int64) (string, error)
}

// Inventory 查询玩家持有的球实例。
type Inventory interface {
	ListByOwner(ctx context.Context, ownerID int64) ([]store.Resource, error)
}

var (
	_ Engine    = (*trade.Engine)(nil)
	_ Players   = (*store.Players)(nil)
	_ Inventory = (*store.Resources)(nil)
)

// Request 为一次斜杠命令调用，已与 discordgo 类型解耦。
type Request struct {
	Scope      string // 频道 id
	UserID     string
	Subcommand string
	TargetID   string
	BallID     int64
}

// Response 为回复内容；Ephemeral 表示仅调用者可见。
type Response struct {
	Content   string
	Ephemeral bool
}

// Handler 将命令翻译为交易引擎调用并渲染结果。
type Handler struct {
	engine    Engine
	players   Players
	inventory Inventory
	logger    *zap.Logger
}

// NewHandler 创建命令处理器。
func NewHandler(engine Engine, players Players, inventory Inventory, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{engine: engine, players: players, inventory: inventory, logger: logger}
}

// Handle 处理单条命令。
func (h *Handler) Handle(ctx context.Context, req Request) Response {
	identity, err := h.players.Resolve(ctx, req.UserID)
	if err != nil {
		h.logger.Error("解析玩家身份失败", zap.String("discord_id", req.UserID), zap.Error(err))
		return failure(err)
	}

	switch req.Subcommand {
	case subBegin:
		return h.begin(ctx, req, identity)
	case subView:
		snap, err := h.engine.GetState(req.Scope, identity)
		if err != nil {
			return failure(err)
		}
		return Response{Content: h.render(ctx, snap), Ephemeral: true}
	case subHistory:
		return h.history(ctx, identity)
	case subBalls:
		return h.balls(ctx, identity)
	}

	kind, err := trade.ParseCommandKind(req.Subcommand)
	if err != nil {
		return failure(err)
	}
	snap, err := h.engine.Dispatch(ctx, trade.Command{
		Kind:       kind,
		Scope:      req.Scope,
		Identity:   identity,
		ResourceID: req.BallID,
	})
	if err != nil {
		if !isRuleViolation(err) {
			h.logger.Error("交易指令执行失败",
				zap.String("scope", req.Scope),
				zap.String("command", req.Subcommand),
				zap.Error(err),
			)
		}
		return failure(err)
	}
	return Response{Content: h.render(ctx, snap)}
}

func (h *Handler) begin(ctx context.Context, req Request, identity int64) Response {
	if req.TargetID == "" {
		return Response{Content: "请指定交易对象。", Ephemeral: true}
	}
	target, err := h.players.Resolve(ctx, req.TargetID)
	if err != nil {
		return failure(err)
	}
	handle, err := h.engine.CreateSession(ctx, req.Scope, identity, target)
	if err != nil {
		return failure(err)
	}
	return Response{Content: fmt.Sprintf("<@%s> 向 <@%s> 发起了交易，截止时间 <t:%d:R>。",
		req.UserID, req.TargetID, handle.Deadline.Unix())}
}

func (h *Handler) history(ctx context.Context, identity int64) Response {
	records, err := h.engine.History(ctx, identity, historyLimit)
	if err != nil {
		h.logger.Error("查询交易历史失败", zap.Int64("identity", identity), zap.Error(err))
		return failure(err)
	}
	if len(records) == 0 {
		return Response{Content: "你还没有完成过交易。", Ephemeral: true}
	}

	var b strings.Builder
	b.WriteString("最近的交易：\n")
	for _, rec := range records {
		other := rec.PlayerB
		if other == identity {
			other = rec.PlayerA
		}
		given, received := 0, 0
		for _, tr := range rec.Transfers {
			if tr.From == identity {
				given++
			} else {
				received++
			}
		}
		fmt.Fprintf(&b, "#%d %s 与 %s：送出 %d，收到 %d\n",
			rec.ID, rec.CompletedAt.Format(time.DateTime), h.mention(ctx, other), given, received)
	}
	return Response{Content: b.String(), Ephemeral: true}
}

func (h *Handler) balls(ctx context.Context, identity int64) Response {
	owned, err := h.inventory.ListByOwner(ctx, identity)
	if err != nil {
		h.logger.Error("查询球实例失败", zap.Int64("identity", identity), zap.Error(err))
		return failure(err)
	}

	var b strings.Builder
	for _, res := range owned {
		if !res.Tradeable {
			continue
		}
		if b.Len() == 0 {
			b.WriteString("可交易的球：\n")
		}
		fmt.Fprintf(&b, "#%d %s", res.ID, res.Label)
		if res.Locked() {
			b.WriteString("（交易中）")
		}
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		return Response{Content: "你还没有可交易的球。", Ephemeral: true}
	}
	return Response{Content: b.String(), Ephemeral: true}
}

func (h *Handler) render(ctx context.Context, snap trade.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "交易 `%s` 状态：%s\n", shortID(snap.ID), stateLabel(snap.State))
	for _, p := range snap.Participants {
		mark := ""
		switch {
		case p.Cancelled:
			mark = "（已取消）"
		case p.Accepted:
			mark = "（已确认）"
		case p.Locked:
			mark = "（已锁定）"
		}
		fmt.Fprintf(&b, "%s%s：", h.mention(ctx, p.Identity), mark)
		if len(p.Items) == 0 {
			b.WriteString("无\n")
			continue
		}
		labels := make([]string, len(p.Items))
		for i, item := range p.Items {
			labels[i] = fmt.Sprintf("%s (#%d)", item.Label, item.ID)
		}
		b.WriteString(strings.Join(labels, "、"))
		b.WriteString("\n")
	}
	if snap.State == trade.StateCompleted && len(snap.Transfers) > 0 {
		fmt.Fprintf(&b, "已交换 %d 个球。\n", len(snap.Transfers))
	}
	return b.String()
}

func (h *Handler) mention(ctx context.Context, playerID int64) string {
	id, err := h.players.DiscordID(ctx, playerID)
	if err != nil {
		return fmt.Sprintf("玩家 %d", playerID)
	}
	return fmt.Sprintf("<@%s>", id)
}

func stateLabel(s trade.State) string {
	switch s {
	case trade.StateOpen:
		return "进行中"
	case trade.StatePendingConfirmation:
		return "等待确认"
	case trade.StateExecuting:
		return "执行中"
	case trade.StateCompleted:
		return "已完成"
	case trade.StateCancelled:
		return "已取消"
	case trade.StateTimedOut:
		return "已超时"
	default:
		return string(s)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func failure(err error) Response {
	return Response{Content: trade.Explain(err), Ephemeral: true}
}

// isRuleViolation 判断错误是否为玩家操作被规则拦截，这类错误无需告警。
func isRuleViolation(err error) bool {
	for _, target := range []error{
		trade.ErrResourceLocked, trade.ErrAlreadyProposed, trade.ErrNotProposed, trade.ErrNotParticipant,
		trade.ErrSessionLockedForEditing, trade.ErrAlreadyInSession, trade.ErrNoSession, trade.ErrSelfExchange,
		trade.ErrNotOwner, trade.ErrNotTradeable, trade.ErrResourceNotFound, trade.ErrProposalFull,
		trade.ErrSessionClosed, trade.ErrSessionExpired, trade.ErrNotPendingConfirmation, trade.ErrUnknownCommand,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

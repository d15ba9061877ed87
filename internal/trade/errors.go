package trade

import "errors"

var (
	// ErrResourceLocked 表示球实例已被其他会话锁定。
	ErrResourceLocked = errors.New("trade: resource locked by another session")
	// ErrAlreadyProposed 表示重复提交同一球实例。
	ErrAlreadyProposed = errors.New("trade: resource already proposed")
	// ErrNotProposed 表示移除的球实例不在提案中。
	ErrNotProposed = errors.New("trade: resource not proposed")
	// ErrNotParticipant 表示操作者不属于该会话。
	ErrNotParticipant = errors.New("trade: not a participant of this session")
	// ErrSessionLockedForEditing 表示提案已锁定，不能再修改。
	ErrSessionLockedForEditing = errors.New("trade: proposal locked for editing")
	// ErrAlreadyInSession 表示玩家已有进行中的会话。
	ErrAlreadyInSession = errors.New("trade: identity already in a live session")
	// ErrExecutionFailed 表示原子交换未能提交，会话停留在执行中等待人工处理。
	ErrExecutionFailed = errors.New("trade: exchange execution failed")

	ErrNoSession              = errors.New("trade: no live session")
	ErrSelfExchange           = errors.New("trade: cannot trade with yourself")
	ErrNotOwner               = errors.New("trade: resource not owned by participant")
	ErrNotTradeable           = errors.New("trade: resource is not tradeable")
	ErrResourceNotFound       = errors.New("trade: resource not found")
	ErrProposalFull           = errors.New("trade: proposal is full")
	ErrSessionClosed          = errors.New("trade: session no longer accepts actions")
	ErrSessionExpired         = errors.New("trade: session deadline passed")
	ErrNotPendingConfirmation = errors.New("trade: session is not waiting for confirmation")
	ErrUnknownCommand         = errors.New("trade: unknown command")
)

var explanations = []struct {
	err error
	msg string
}{
	{ErrResourceLocked, "这个球正在另一场交易中，请先在那边取消。"},
	{ErrAlreadyProposed, "这个球已经在你的提案里了。"},
	{ErrNotProposed, "这个球不在你的提案里。"},
	{ErrNotParticipant, "你不是这场交易的参与者。"},
	{ErrSessionLockedForEditing, "你已经锁定了提案，不能再修改。"},
	{ErrAlreadyInSession, "你或对方已经有一场进行中的交易。"},
	{ErrExecutionFailed, "交换提交失败，涉及的球保持锁定，请联系管理员处理。"},
	{ErrNoSession, "当前频道没有你参与的交易。"},
	{ErrSelfExchange, "不能和自己交易。"},
	{ErrNotOwner, "这个球不属于你。"},
	{ErrNotTradeable, "这个球不可交易。"},
	{ErrResourceNotFound, "找不到这个球。"},
	{ErrProposalFull, "提案中的球数量已达上限。"},
	{ErrSessionClosed, "这场交易已经结束。"},
	{ErrSessionExpired, "这场交易已超时并被取消。"},
	{ErrNotPendingConfirmation, "双方都锁定后才能确认交易。"},
	{ErrUnknownCommand, "未知的交易指令。"},
}

// Explain 将错误转换为面向玩家的说明，指出是哪条规则拦截了操作。
func Explain(err error) string {
	if err == nil {
		return ""
	}
	for _, e := range explanations {
		if errors.Is(err, e.err) {
			return e.msg
		}
	}
	return "操作失败，请稍后重试。"
}

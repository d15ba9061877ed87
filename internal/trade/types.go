package trade

import (
	"fmt"
	"strings"
	"time"

	"countryball/internal/store"
)

// State 描述会话所处阶段。
type State string

const (
	StateOpen                State = "open"
	StatePendingConfirmation State = "pending_confirmation"
	StateExecuting           State = "executing"
	StateCompleted           State = "completed"
	StateCancelled           State = "cancelled"
	StateTimedOut            State = "timed_out"
)

// Terminal 判断会话是否已经结束。
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateTimedOut:
		return true
	default:
		return false
	}
}

// SystemInitiator 表示非玩家发起的取消（超时、停机）。
const SystemInitiator int64 = 0

// Item 为提案中的一个球实例。
type Item struct {
	ID    int64  `json:"id"`
	Label string `json:"label"`
}

// ParticipantSnapshot 为参与者的只读视图。
type ParticipantSnapshot struct {
	Identity  int64  `json:"identity"`
	Items     []Item `json:"items"`
	Locked    bool   `json:"locked"`
	Cancelled bool   `json:"cancelled"`
	Accepted  bool   `json:"accepted"`
}

// Snapshot 为会话的只读视图，供展示层渲染。
type Snapshot struct {
	ID           string                 `json:"id"`
	Scope        string                 `json:"scope"`
	State        State                  `json:"state"`
	CreatedAt    time.Time              `json:"created_at"`
	Deadline     time.Time              `json:"deadline"`
	Participants [2]ParticipantSnapshot `json:"participants"`
	TradeID      int64                  `json:"trade_id,omitempty"`
	Transfers    []store.Transfer       `json:"transfers,omitempty"`
}

// Participant 返回 identity 对应的参与者视图。
func (s Snapshot) Participant(identity int64) (ParticipantSnapshot, bool) {
	for _, p := range s.Participants {
		if p.Identity == identity {
			return p, true
		}
	}
	return ParticipantSnapshot{}, false
}

// Handle 为新建会话返回给调用方的句柄。
type Handle struct {
	ID       string    `json:"id"`
	Scope    string    `json:"scope"`
	Deadline time.Time `json:"deadline"`
}

// CommandKind 为会话可接受的动作集合。
type CommandKind string

const (
	CommandAdd    CommandKind = "add"
	CommandRemove CommandKind = "remove"
	CommandLock   CommandKind = "lock"
	CommandAccept CommandKind = "accept"
	CommandCancel CommandKind = "cancel"
)

// ParseCommandKind 解析外部输入的动作名。
func ParseCommandKind(value string) (CommandKind, error) {
	kind := CommandKind(strings.ToLower(strings.TrimSpace(value)))
	switch kind {
	case CommandAdd, CommandRemove, CommandLock, CommandAccept, CommandCancel:
		return kind, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, value)
	}
}

// Command 为路由到会话的一次操作。
type Command struct {
	Kind       CommandKind
	Scope      string
	Identity   int64
	ResourceID int64 // 仅 add/remove 使用
}

package monitor

import (
	"time"

	"countryball/internal/store"
	"countryball/internal/trade"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventSessionCreated   = EventType(trade.EventSessionCreated)
	EventSessionCompleted = EventType(trade.EventSessionCompleted)
	EventSessionCancelled = EventType(trade.EventSessionCancelled)
	EventSessionTimedOut  = EventType(trade.EventSessionTimedOut)
	EventExecutionFailed  = EventType(trade.EventExecutionFailed)
	EventSessionResolved  = EventType(trade.EventSessionResolved)
	EventStats            EventType = "stats"
	EventError            EventType = "error"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// SessionPayload 记录会话在事件发生时的视图。
type SessionPayload struct {
	Session trade.Snapshot `json:"session"`
	Error   string         `json:"error,omitempty"`
}

// StatsPayload 为周期性运行统计。
type StatsPayload struct {
	LiveSessions    int `json:"live_sessions"`
	SupervisedTasks int `json:"supervised_tasks"`
}

// HistoryPayload 供 HTTP 接口返回交易历史。
type HistoryPayload struct {
	PlayerID int64                  `json:"player_id"`
	Trades   []store.ExchangeRecord `json:"trades"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"countryball/internal/store"
	"countryball/internal/trade"
)

var _ trade.Recorder = (*Service)(nil)

// Service 负责持久化监控事件。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewService 初始化监控服务，创建所需表结构。
func NewService(store *store.Store, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		db:     store.DB(),
		logger: logger,
	}

	if err := s.initSchema(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Service) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS monitor_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	session_id TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_monitor_events_type ON monitor_events(event_type);
CREATE INDEX IF NOT EXISTS idx_monitor_events_session ON monitor_events(session_id);
`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("monitor: 初始化表失败: %w", err)
	}
	return nil
}

// Record 写入单个事件。
func (s *Service) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("monitor: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO monitor_events (event_type, session_id, payload, created_at) VALUES (?, ?, ?, ?)`,
		string(event.Type), event.SessionID, string(payload), event.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}

	return nil
}

// RecordSession 记录会话生命周期事件；写入失败只告警，不影响交易流程。
func (s *Service) RecordSession(ctx context.Context, kind trade.EventKind, snap trade.Snapshot, cause error) {
	payload := SessionPayload{Session: snap}
	if cause != nil {
		payload.Error = cause.Error()
	}

	// 会话收尾时调用方的 ctx 可能已结束
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.Record(writeCtx, Event{
		Type:      EventType(kind),
		SessionID: snap.ID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}); err != nil {
		s.logger.Warn("记录会话事件失败",
			zap.String("event", string(kind)),
			zap.String("session_id", snap.ID),
			zap.Error(err),
		)
	}
}

// RecordStats 记录运行统计。
func (s *Service) RecordStats(ctx context.Context, stats StatsPayload) {
	if err := s.Record(ctx, Event{
		Type:      EventStats,
		Timestamp: time.Now().UTC(),
		Payload:   stats,
	}); err != nil {
		s.logger.Warn("记录统计事件失败", zap.Error(err))
	}
}

// RecordError 记录异常。
func (s *Service) RecordError(ctx context.Context, msg string, err error, ctxMap map[string]interface{}) {
	payload := ErrorPayload{
		Message: msg,
		Error:   err.Error(),
		Context: ctxMap,
	}
	if recErr := s.Record(ctx, Event{
		Type:      EventError,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}); recErr != nil {
		s.logger.Warn("记录异常事件失败", zap.Error(recErr))
	}
}

// EventFilter 为事件查询条件，零值表示不过滤。
type EventFilter struct {
	Type      EventType
	SessionID string
	Limit     int
}

// ListEvents 按条件检索最近事件。
func (s *Service) ListEvents(ctx context.Context, filter EventFilter) ([]Event, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT event_type, session_id, payload, created_at FROM monitor_events WHERE 1 = 1`
	args := make([]interface{}, 0, 3)
	if filter.Type != "" {
		query += ` AND event_type = ?`
		args = append(args, string(filter.Type))
	}
	if filter.SessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, filter.SessionID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			typ       string
			sessionID string
			payload   string
			created   string
		)
		if scanErr := rows.Scan(&typ, &sessionID, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("monitor: 解析事件失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339Nano, created)
		if parseErr != nil {
			ts = time.Now().UTC()
		}

		events = append(events, Event{
			Type:      EventType(typ),
			SessionID: sessionID,
			Timestamp: ts,
			Payload:   json.RawMessage(payload),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取事件失败: %w", err)
	}

	return events, nil
}

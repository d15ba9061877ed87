package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Resource 表示一个唯一归属的球实例。
type Resource struct {
	ID              int64
	OwnerID         int64
	PreviousOwnerID int64
	Label           string
	Tradeable       bool
	LockedBy        string // 持有锁的会话 id，空表示未锁定
	LockedAt        time.Time
	CreatedAt       time.Time
}

// Locked 判断实例是否被某个会话锁定。
func (r Resource) Locked() bool {
	return r.LockedBy != ""
}

// Transfer 记录一次所有权转移。
type Transfer struct {
	ResourceID int64 `json:"resource_id"`
	From       int64 `json:"from"`
	To         int64 `json:"to"`
}

// ExchangeRecord 为完成交易的审计记录。
type ExchangeRecord struct {
	ID          int64      `json:"id"`
	SessionID   string     `json:"session_id"`
	Scope       string     `json:"scope"`
	PlayerA     int64      `json:"player_a"`
	PlayerB     int64      `json:"player_b"`
	CompletedAt time.Time  `json:"completed_at"`
	Transfers   []Transfer `json:"transfers"`
}

// ResourceTx 为单个事务内可用的操作。
type ResourceTx interface {
	Get(ctx context.Context, id int64) (Resource, error)
	Save(ctx context.Context, r Resource) error
	RecordExchange(ctx context.Context, rec ExchangeRecord) (int64, error)
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Resources 负责球实例的持久化与锁字段维护。
type Resources struct {
	db *sql.DB
}

// NewResources 创建球实例仓储。
func NewResources(s *Store) *Resources {
	return &Resources{db: s.DB()}
}

const resourceColumns = `id, owner_id, previous_owner_id, label, tradeable, locked_by, locked_at, created_at`

// Create 新建一个球实例，返回带 id 的记录。
func (r *Resources) Create(ctx context.Context, ownerID int64, label string, tradeable bool) (Resource, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO ball_instances (owner_id, label, tradeable, created_at) VALUES (?, ?, ?, ?)`,
		ownerID, label, boolToInt(tradeable), now.Format(time.RFC3339),
	)
	if err != nil {
		return Resource{}, fmt.Errorf("store: 创建球实例失败: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Resource{}, fmt.Errorf("store: 读取球实例 id 失败: %w", err)
	}
	return Resource{
		ID:        id,
		OwnerID:   ownerID,
		Label:     label,
		Tradeable: tradeable,
		CreatedAt: now.Truncate(time.Second),
	}, nil
}

// Get 按 id 读取球实例。
func (r *Resources) Get(ctx context.Context, id int64) (Resource, error) {
	return getResource(ctx, r.db, id)
}

// Save 覆盖写入球实例的可变字段。
func (r *Resources) Save(ctx context.Context, res Resource) error {
	return saveResource(ctx, r.db, res)
}

// ListByOwner 列出玩家当前拥有的球实例。
func (r *Resources) ListByOwner(ctx context.Context, ownerID int64) ([]Resource, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+resourceColumns+` FROM ball_instances WHERE owner_id = ? ORDER BY id`, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: 查询玩家球实例失败: %w", err)
	}
	defer rows.Close()

	var out []Resource
	for rows.Next() {
		res, scanErr := scanResource(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: 读取玩家球实例失败: %w", err)
	}
	return out, nil
}

// TryLock 以单条条件更新原子地锁定实例，仅在未被锁定时成功。
func (r *Resources) TryLock(ctx context.Context, id int64, sessionID string, at time.Time) (bool, error) {
	if sessionID == "" {
		return false, errors.New("store: session id 不能为空")
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE ball_instances SET locked_by = ?, locked_at = ? WHERE id = ? AND locked_by IS NULL`,
		sessionID, at.UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return false, fmt.Errorf("store: 锁定球实例失败: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: 读取锁定结果失败: %w", err)
	}
	if n == 1 {
		return true, nil
	}

	var exists int
	switch err := r.db.QueryRowContext(ctx, `SELECT 1 FROM ball_instances WHERE id = ?`, id).Scan(&exists); {
	case errors.Is(err, sql.ErrNoRows):
		return false, ErrNotFound
	case err != nil:
		return false, fmt.Errorf("store: 查询球实例失败: %w", err)
	}
	return false, nil
}

// Unlock 释放 sessionID 持有的锁；未持有时视为成功。
func (r *Resources) Unlock(ctx context.Context, id int64, sessionID string) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE ball_instances SET locked_by = NULL, locked_at = NULL WHERE id = ? AND locked_by = ?`,
		id, sessionID,
	); err != nil {
		return fmt.Errorf("store: 解锁球实例失败: %w", err)
	}
	return nil
}

// ReleaseStaleLocks 清除早于 before 的遗留锁，返回释放数量。
func (r *Resources) ReleaseStaleLocks(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE ball_instances SET locked_by = NULL, locked_at = NULL WHERE locked_by IS NOT NULL AND locked_at < ?`,
		before.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("store: 清理遗留锁失败: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: 读取清理结果失败: %w", err)
	}
	return n, nil
}

// WithTransaction 在单个事务中执行 fn，fn 返回错误或 panic 时整体回滚。
func (r *Resources) WithTransaction(ctx context.Context, fn func(tx ResourceTx) error) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: 开启事务失败: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&sqlTx{tx: tx}); err != nil {
		return err
	}

	if commitErr := tx.Commit(); commitErr != nil {
		err = fmt.Errorf("store: 提交事务失败: %w", commitErr)
		return err
	}
	return nil
}

// ListExchanges 按时间倒序返回玩家参与的已完成交易。
func (r *Resources) ListExchanges(ctx context.Context, playerID int64, limit int) ([]ExchangeRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, session_id, scope, player_a, player_b, completed_at FROM trades
		 WHERE player_a = ? OR player_b = ? ORDER BY id DESC LIMIT ?`,
		playerID, playerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: 查询交易记录失败: %w", err)
	}

	records := make([]ExchangeRecord, 0, limit)
	for rows.Next() {
		var (
			rec       ExchangeRecord
			completed string
		)
		if scanErr := rows.Scan(&rec.ID, &rec.SessionID, &rec.Scope, &rec.PlayerA, &rec.PlayerB, &completed); scanErr != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("store: 解析交易记录失败: %w", scanErr)
		}
		rec.CompletedAt = parseTime(completed)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("store: 读取交易记录失败: %w", err)
	}
	_ = rows.Close()

	// 先关闭外层游标，单连接内存库下才能继续查询
	for i := range records {
		transfers, err := r.listTransfers(ctx, records[i].ID)
		if err != nil {
			return nil, err
		}
		records[i].Transfers = transfers
	}

	return records, nil
}

func (r *Resources) listTransfers(ctx context.Context, tradeID int64) ([]Transfer, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT ball_id, from_player, to_player FROM trade_objects WHERE trade_id = ? ORDER BY ball_id`, tradeID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: 查询交易明细失败: %w", err)
	}
	defer rows.Close()

	var transfers []Transfer
	for rows.Next() {
		var t Transfer
		if err := rows.Scan(&t.ResourceID, &t.From, &t.To); err != nil {
			return nil, fmt.Errorf("store: 解析交易明细失败: %w", err)
		}
		transfers = append(transfers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: 读取交易明细失败: %w", err)
	}
	return transfers, nil
}

type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) Get(ctx context.Context, id int64) (Resource, error) {
	return getResource(ctx, t.tx, id)
}

func (t *sqlTx) Save(ctx context.Context, res Resource) error {
	return saveResource(ctx, t.tx, res)
}

func (t *sqlTx) RecordExchange(ctx context.Context, rec ExchangeRecord) (int64, error) {
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = time.Now().UTC()
	}

	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO trades (session_id, scope, player_a, player_b, completed_at) VALUES (?, ?, ?, ?, ?)`,
		rec.SessionID, rec.Scope, rec.PlayerA, rec.PlayerB, rec.CompletedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("store: 写入交易记录失败: %w", err)
	}
	tradeID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: 读取交易 id 失败: %w", err)
	}

	for _, tr := range rec.Transfers {
		if _, err := t.tx.ExecContext(ctx,
			`INSERT INTO trade_objects (trade_id, ball_id, from_player, to_player) VALUES (?, ?, ?, ?)`,
			tradeID, tr.ResourceID, tr.From, tr.To,
		); err != nil {
			return 0, fmt.Errorf("store: 写入交易明细失败: %w", err)
		}
	}

	return tradeID, nil
}

func getResource(ctx context.Context, q queryer, id int64) (Resource, error) {
	row := q.QueryRowContext(ctx, `SELECT `+resourceColumns+` FROM ball_instances WHERE id = ?`, id)
	res, err := scanResource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Resource{}, ErrNotFound
	}
	return res, err
}

func saveResource(ctx context.Context, q queryer, res Resource) error {
	var (
		previous sql.NullInt64
		lockedBy sql.NullString
		lockedAt sql.NullString
	)
	if res.PreviousOwnerID != 0 {
		previous = sql.NullInt64{Int64: res.PreviousOwnerID, Valid: true}
	}
	if res.LockedBy != "" {
		lockedBy = sql.NullString{String: res.LockedBy, Valid: true}
		at := res.LockedAt
		if at.IsZero() {
			at = time.Now()
		}
		lockedAt = sql.NullString{String: at.UTC().Format(time.RFC3339), Valid: true}
	}

	result, err := q.ExecContext(ctx,
		`UPDATE ball_instances
		 SET owner_id = ?, previous_owner_id = ?, label = ?, tradeable = ?, locked_by = ?, locked_at = ?
		 WHERE id = ?`,
		res.OwnerID, previous, res.Label, boolToInt(res.Tradeable), lockedBy, lockedAt, res.ID,
	)
	if err != nil {
		return fmt.Errorf("store: 保存球实例失败: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: 读取保存结果失败: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanResource(row rowScanner) (Resource, error) {
	var (
		res       Resource
		previous  sql.NullInt64
		tradeable int
		lockedBy  sql.NullString
		lockedAt  sql.NullString
		created   string
	)
	if err := row.Scan(&res.ID, &res.OwnerID, &previous, &res.Label, &tradeable, &lockedBy, &lockedAt, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Resource{}, err
		}
		return Resource{}, fmt.Errorf("store: 解析球实例失败: %w", err)
	}

	res.PreviousOwnerID = previous.Int64
	res.Tradeable = tradeable == 1
	res.LockedBy = lockedBy.String
	if lockedAt.Valid {
		res.LockedAt = parseTime(lockedAt.String)
	}
	res.CreatedAt = parseTime(created)
	return res, nil
}

func parseTime(value string) time.Time {
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return ts
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Players 将外部账号映射为内部玩家身份。
type Players struct {
	db *sql.DB
}

// NewPlayers 创建玩家仓储。
func NewPlayers(s *Store) *Players {
	return &Players{db: s.DB()}
}

// Resolve 返回 discordID 对应的玩家 id，不存在时自动注册。
func (p *Players) Resolve(ctx context.Context, discordID string) (int64, error) {
	discordID = strings.TrimSpace(discordID)
	if discordID == "" {
		return 0, errors.New("store: discord id 不能为空")
	}

	if _, err := p.db.ExecContext(ctx,
		`INSERT INTO players (discord_id, created_at) VALUES (?, ?) ON CONFLICT(discord_id) DO NOTHING`,
		discordID, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return 0, fmt.Errorf("store: 注册玩家失败: %w", err)
	}

	var id int64
	if err := p.db.QueryRowContext(ctx,
		`SELECT id FROM players WHERE discord_id = ?`, discordID,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("store: 查询玩家失败: %w", err)
	}
	return id, nil
}

// DiscordID 返回玩家对应的外部账号。
func (p *Players) DiscordID(ctx context.Context, playerID int64) (string, error) {
	var discordID string
	err := p.db.QueryRowContext(ctx, `SELECT discord_id FROM players WHERE id = ?`, playerID).Scan(&discordID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", ErrNotFound
	case err != nil:
		return "", fmt.Errorf("store: 查询玩家失败: %w", err)
	}
	return discordID, nil
}

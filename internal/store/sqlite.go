package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"countryball/internal/config"
)

// ErrNotFound 表示记录不存在。
var ErrNotFound = errors.New("store: record not found")

// Store 封装 SQLite 连接。
type Store struct {
	db *sql.DB
}

// NewSQLite 根据配置初始化 SQLite 存储并创建交易所需的表结构。
func NewSQLite(cfg config.DatabaseConfig) (*Store, error) {
	dsn := cfg.Path
	if cfg.InMemory {
		// 内存库在多个连接之间不共享，只能使用单连接
		dsn = ":memory:"
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	} else {
		if err := ensureDir(filepath.Dir(cfg.Path)); err != nil {
			return nil, err
		}
	}

	// _txlock=immediate 使事务开始即持有写锁，避免读后写升级时的 SQLITE_BUSY
	conn, err := sql.Open("sqlite3", fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on&_txlock=immediate", dsn))
	if err != nil {
		return nil, fmt.Errorf("打开 SQLite 数据库失败: %w", err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if !cfg.InMemory {
		if _, err := conn.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("设置 SQLite WAL 模式失败: %w", err)
		}
	}

	if _, err := conn.Exec("PRAGMA synchronous=NORMAL;"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("设置 SQLite 同步级别失败: %w", err)
	}

	s := &Store{db: conn}
	if err := s.initSchema(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return s, nil
}

// DB 返回底层 *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close 关闭数据库连接。
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS players (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			discord_id TEXT NOT NULL UNIQUE,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ball_instances (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			owner_id INTEGER NOT NULL REFERENCES players(id),
			previous_owner_id INTEGER REFERENCES players(id),
			label TEXT NOT NULL,
			tradeable INTEGER NOT NULL DEFAULT 1,
			locked_by TEXT,
			locked_at TEXT,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_ball_instances_owner ON ball_instances(owner_id);`,
		`CREATE INDEX IF NOT EXISTS idx_ball_instances_locked ON ball_instances(locked_by);`,
		`CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL UNIQUE,
			scope TEXT NOT NULL,
			player_a INTEGER NOT NULL REFERENCES players(id),
			player_b INTEGER NOT NULL REFERENCES players(id),
			completed_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS trade_objects (
			trade_id INTEGER NOT NULL REFERENCES trades(id),
			ball_id INTEGER NOT NULL REFERENCES ball_instances(id),
			from_player INTEGER NOT NULL REFERENCES players(id),
			to_player INTEGER NOT NULL REFERENCES players(id),
			PRIMARY KEY (trade_id, ball_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_player_a ON trades(player_a);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_player_b ON trades(player_b);`,
	}

	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("store: 初始化表结构失败: %w", err)
		}
	}

	return nil
}

func ensureDir(path string) error {
	if path == "" || path == "." {
		return nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("创建目录 %q 失败: %w", path, err)
	}
	return nil
}

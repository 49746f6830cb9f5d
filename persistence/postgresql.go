// persistence/postgresql.go
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	// PostgreSQL 驱动
	_ "github.com/lib/pq"

	"github.com/wfunc/werewolfserver/models"
)

const queryTimeout = 5 * time.Second

// PostgreSQL 数据库实现
type PostgreSQL struct {
	db *sql.DB
}

// NewPostgreSQL 创建 PostgreSQL 数据库连接
func NewPostgreSQL(dsn string) (*PostgreSQL, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	// 设置连接池参数
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := initTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return &PostgreSQL{db: db}, nil
}

// initTables 初始化数据库表结构, compatible with the gorm backend's schema.
func initTables(db *sql.DB) error {
	_, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS game_records (
            id BIGSERIAL PRIMARY KEY,
            created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
            updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
            deleted_at TIMESTAMPTZ,
            game_id TEXT UNIQUE NOT NULL,
            player_count BIGINT NOT NULL,
            win_rule TEXT NOT NULL,
            result TEXT NOT NULL,
            days BIGINT DEFAULT 0,
            players JSONB NOT NULL,
            started_at TIMESTAMPTZ,
            ended_at TIMESTAMPTZ
        )
    `)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
        CREATE TABLE IF NOT EXISTS agent_stats (
            id BIGSERIAL PRIMARY KEY,
            created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
            updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
            deleted_at TIMESTAMPTZ,
            name TEXT UNIQUE NOT NULL,
            games BIGINT DEFAULT 0,
            wins BIGINT DEFAULT 0,
            werewolf_games BIGINT DEFAULT 0,
            nights_survived BIGINT DEFAULT 0,
            votes_cast BIGINT DEFAULT 0,
            votes_correct BIGINT DEFAULT 0
        )
    `)
	if err != nil {
		return err
	}

	// 创建索引以提高查询性能
	_, err = db.Exec(`
        CREATE INDEX IF NOT EXISTS idx_game_records_result ON game_records(result);
        CREATE INDEX IF NOT EXISTS idx_game_records_ended_at ON game_records(ended_at);
    `)
	return err
}

// SaveGameRecord 保存游戏记录
func (p *PostgreSQL) SaveGameRecord(record *models.GameRecord) error {
	players, err := json.Marshal(record.Players)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	// 使用 UPSERT 操作 (PostgreSQL 9.5+)
	query := `
        INSERT INTO game_records (game_id, player_count, win_rule, result, days, players, started_at, ended_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (game_id)
        DO UPDATE SET result = $4, days = $5, players = $6, ended_at = $8, updated_at = CURRENT_TIMESTAMP
    `
	_, err = p.db.ExecContext(ctx, query,
		record.GameID, record.PlayerCount, record.WinRule, record.Result,
		record.Days, players, record.StartedAt, record.EndedAt)
	return err
}

const selectRecord = `SELECT game_id, player_count, win_rule, result, days, players, started_at, ended_at FROM game_records`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*models.GameRecord, error) {
	var (
		r       models.GameRecord
		players []byte
		started sql.NullTime
		ended   sql.NullTime
	)
	if err := row.Scan(&r.GameID, &r.PlayerCount, &r.WinRule, &r.Result, &r.Days, &players, &started, &ended); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(players, &r.Players); err != nil {
		return nil, err
	}
	r.StartedAt = started.Time
	r.EndedAt = ended.Time
	return &r, nil
}

func (p *PostgreSQL) LoadGameRecord(gameID string) (*models.GameRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	r, err := scanRecord(p.db.QueryRowContext(ctx, selectRecord+` WHERE game_id = $1 AND deleted_at IS NULL`, gameID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	return r, err
}

func (p *PostgreSQL) ListGameRecords(limit int) ([]*models.GameRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	query := selectRecord + ` WHERE deleted_at IS NULL ORDER BY ended_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.GameRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const selectStats = `SELECT name, games, wins, werewolf_games, nights_survived, votes_cast, votes_correct, updated_at FROM agent_stats WHERE name = $1 AND deleted_at IS NULL`

func scanStats(row scanner) (*models.AgentStats, error) {
	var (
		s       models.AgentStats
		updated sql.NullTime
	)
	err := row.Scan(&s.Name, &s.Games, &s.Wins, &s.WerewolfGames, &s.NightsSurvived, &s.VotesCast, &s.VotesCorrect, &updated)
	if err != nil {
		return nil, err
	}
	s.UpdatedAt = updated.Time
	return &s, nil
}

func (p *PostgreSQL) LoadAgentStats(name string) (*models.AgentStats, error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	s, err := scanStats(p.db.QueryRowContext(ctx, selectStats, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	return s, err
}

func (p *PostgreSQL) UpdateAgentStats(name string, fn func(stats *models.AgentStats) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// 保证行存在, then lock it.
	if _, err := tx.ExecContext(ctx, `INSERT INTO agent_stats (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name); err != nil {
		return err
	}
	s, err := scanStats(tx.QueryRowContext(ctx, selectStats+` FOR UPDATE`, name))
	if err != nil {
		return err
	}
	if err := fn(s); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
        UPDATE agent_stats SET games = $2, wins = $3, werewolf_games = $4, nights_survived = $5,
            votes_cast = $6, votes_correct = $7, updated_at = CURRENT_TIMESTAMP
        WHERE name = $1
    `, name, s.Games, s.Wins, s.WerewolfGames, s.NightsSurvived, s.VotesCast, s.VotesCorrect)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// Close 关闭数据库连接
func (p *PostgreSQL) Close() error {
	return p.db.Close()
}

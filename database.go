package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// ============================================================================
// Database
// ============================================================================

const (
	MsgDatabaseTableError  = "Failed to create table: %w"
	MsgDatabasePragmaError = "Failed to set pragma %s: %w"
	MsgDBMigrationFail     = "failed to migrate database: %w"
	MsgDBScanResultFail    = "failed to scan blindtest result: %w"
)

var DB *sql.DB

func InitDatabase(ctx context.Context, dataSourceName string) error {
	_ = sqlite3.SQLiteDriver{}

	var err error
	DB, err = sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return err
	}

	DB.SetMaxOpenConns(5)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA cache_size=-2000;",
	}

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	for _, p := range pragmas {
		if _, err := DB.ExecContext(initCtx, p); err != nil {
			return fmt.Errorf(MsgDatabasePragmaError, p, err)
		}
	}

	tx, err := DB.BeginTx(initCtx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	tableQueries := []string{
		`CREATE TABLE IF NOT EXISTS bot_config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS blindtest_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			guild_id TEXT NOT NULL,
			theme TEXT NOT NULL,
			question_count INTEGER NOT NULL,
			winner_id TEXT,
			winner_score INTEGER DEFAULT 0,
			finished_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_blindtest_results_guild_id ON blindtest_results(guild_id)`,
	}

	for _, q := range tableQueries {
		if _, err := tx.ExecContext(initCtx, q); err != nil {
			return fmt.Errorf(MsgDatabaseTableError, err)
		}
	}

	return tx.Commit()
}

func CloseDatabase() {
	if DB != nil {
		DB.Close()
	}
}

// BotConfig helpers are used by the loader for mode tracking and state.
func GetBotConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := DB.QueryRowContext(ctx, "SELECT value FROM bot_config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func SetBotConfig(ctx context.Context, key, value string) error {
	_, err := DB.ExecContext(ctx,
		"INSERT INTO bot_config (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP) ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP",
		key, value)
	return err
}

// BlindtestResult is one finished game, as stored for /blindtest history.
type BlindtestResult struct {
	Theme         string
	QuestionCount int
	WinnerID      string
	WinnerScore   int
	FinishedAt    time.Time
}

func SaveBlindtestResult(ctx context.Context, guildID, theme string, questionCount int, winnerID string, winnerScore int) error {
	_, err := DB.ExecContext(ctx,
		"INSERT INTO blindtest_results (guild_id, theme, question_count, winner_id, winner_score) VALUES (?, ?, ?, ?, ?)",
		guildID, theme, questionCount, winnerID, winnerScore)
	return err
}

func GetBlindtestHistory(ctx context.Context, guildID string, limit int) ([]BlindtestResult, error) {
	rows, err := DB.QueryContext(ctx,
		"SELECT theme, question_count, COALESCE(winner_id, ''), winner_score, finished_at FROM blindtest_results WHERE guild_id = ? ORDER BY finished_at DESC LIMIT ?",
		guildID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []BlindtestResult
	for rows.Next() {
		var r BlindtestResult
		if err := rows.Scan(&r.Theme, &r.QuestionCount, &r.WinnerID, &r.WinnerScore, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf(MsgDBScanResultFail, err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

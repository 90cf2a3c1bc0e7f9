package balance

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/gregtusar/assetrouter/pkg/models"
)

// SQLiteRecorder appends snapshots to a local SQLite file.
type SQLiteRecorder struct {
	db *sql.DB
}

func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS balance_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			reference_currency TEXT NOT NULL,
			total_assets TEXT NOT NULL,
			total_liabilities TEXT NOT NULL,
			net_worth TEXT NOT NULL,
			payload BLOB NOT NULL,
			computed_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create balance_snapshots table: %w", err)
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_balance_snapshots_user ON balance_snapshots(user_id, computed_at);`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create balance_snapshots index: %w", err)
	}

	return &SQLiteRecorder{db: db}, nil
}

func (r *SQLiteRecorder) Record(ctx context.Context, s models.UnifiedBalanceSnapshot) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO balance_snapshots
			(user_id, reference_currency, total_assets, total_liabilities, net_worth, payload, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.UserID, s.ReferenceCurrency, s.TotalAssets.String(), s.TotalLiabilities.String(),
		s.NetWorth.String(), payload, s.ComputedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

// History returns a user's recorded snapshots, newest first.
func (r *SQLiteRecorder) History(ctx context.Context, userID string, limit int) ([]models.UnifiedBalanceSnapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT payload FROM balance_snapshots WHERE user_id = ? ORDER BY computed_at DESC, id DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var out []models.UnifiedBalanceSnapshot
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var s models.UnifiedBalanceSnapshot
		if err := json.Unmarshal(payload, &s); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Prune drops snapshots computed before the cutoff.
func (r *SQLiteRecorder) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM balance_snapshots WHERE computed_at < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}
	return res.RowsAffected()
}

func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}

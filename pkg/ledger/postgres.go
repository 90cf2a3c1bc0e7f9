package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gregtusar/assetrouter/pkg/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

// Schema creates the tables Postgres reads and writes. Numeric columns are
// read back through ::text so no precision is lost in transit.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id           TEXT PRIMARY KEY,
	handle       TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS accounts (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL REFERENCES users(id),
	name         TEXT NOT NULL,
	class        TEXT NOT NULL,
	currency     TEXT NOT NULL,
	balance      NUMERIC NOT NULL,
	credit_limit NUMERIC
);
CREATE TABLE IF NOT EXISTS wallets (
	id      TEXT PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id),
	name    TEXT NOT NULL,
	network TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS wallet_assets (
	wallet_id TEXT NOT NULL REFERENCES wallets(id),
	symbol    TEXT NOT NULL,
	name      TEXT NOT NULL DEFAULT '',
	balance   NUMERIC NOT NULL,
	value_ref NUMERIC NOT NULL,
	PRIMARY KEY (wallet_id, symbol)
);
CREATE TABLE IF NOT EXISTS nfts (
	wallet_id  TEXT NOT NULL REFERENCES wallets(id),
	collection TEXT NOT NULL,
	token_id   TEXT NOT NULL,
	name       TEXT NOT NULL DEFAULT '',
	value_ref  NUMERIC NOT NULL,
	PRIMARY KEY (wallet_id, collection, token_id)
);
CREATE TABLE IF NOT EXISTS defi_positions (
	wallet_id TEXT NOT NULL REFERENCES wallets(id),
	protocol  TEXT NOT NULL,
	kind      TEXT NOT NULL,
	symbol    TEXT NOT NULL,
	value_ref NUMERIC NOT NULL
);
CREATE TABLE IF NOT EXISTS liabilities (
	user_id  TEXT NOT NULL REFERENCES users(id),
	kind     TEXT NOT NULL,
	currency TEXT NOT NULL,
	amount   NUMERIC NOT NULL
);
CREATE TABLE IF NOT EXISTS asset_bridges (
	id             TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL,
	bridge_type    TEXT NOT NULL,
	from_asset     JSONB NOT NULL,
	to_asset       JSONB NOT NULL,
	from_amount    NUMERIC NOT NULL,
	to_amount      NUMERIC NOT NULL,
	rate_applied   NUMERIC NOT NULL,
	fees           JSONB NOT NULL,
	status         TEXT NOT NULL,
	failure_reason TEXT NOT NULL DEFAULT '',
	initiated_at   TIMESTAMPTZ NOT NULL,
	completed_at   TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS collateral_positions (
	id                TEXT PRIMARY KEY,
	user_id           TEXT NOT NULL,
	collateral_assets JSONB NOT NULL,
	total_collateral  NUMERIC NOT NULL,
	borrowed_amount   NUMERIC NOT NULL,
	loan_to_value     NUMERIC NOT NULL,
	liquidation_ltv   NUMERIC NOT NULL,
	health_factor     NUMERIC NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL
);
`

// Postgres is a Provider backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Connect opens and pings a pool.
func Connect(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (p *Postgres) ListAccounts(ctx context.Context, userID string) ([]models.Account, error) {
	query := `
		SELECT id, user_id, name, class, currency, balance::text, credit_limit::text
		FROM accounts
		WHERE user_id = $1
		ORDER BY id
	`
	rows, err := p.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var out []models.Account
	for rows.Next() {
		var (
			a       models.Account
			class   string
			balance string
			limit   *string
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.Name, &class, &a.Currency, &balance, &limit); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		a.Class = models.AssetClass(class)
		if a.Balance, err = decimal.NewFromString(balance); err != nil {
			return nil, fmt.Errorf("account %s balance: %w", a.ID, err)
		}
		if limit != nil {
			l, err := decimal.NewFromString(*limit)
			if err != nil {
				return nil, fmt.Errorf("account %s credit limit: %w", a.ID, err)
			}
			a.CreditLimit = &l
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *Postgres) ListWallets(ctx context.Context, userID string) ([]models.Wallet, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, user_id, name, network FROM wallets WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	defer rows.Close()

	var out []models.Wallet
	for rows.Next() {
		var w models.Wallet
		if err := rows.Scan(&w.ID, &w.UserID, &w.Name, &w.Network); err != nil {
			return nil, fmt.Errorf("failed to scan wallet: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (p *Postgres) ListWalletAssets(ctx context.Context, walletID string) ([]models.WalletAsset, error) {
	query := `
		SELECT wallet_id, symbol, name, balance::text, value_ref::text
		FROM wallet_assets
		WHERE wallet_id = $1
		ORDER BY symbol
	`
	rows, err := p.pool.Query(ctx, query, walletID)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallet assets: %w", err)
	}
	defer rows.Close()

	var out []models.WalletAsset
	for rows.Next() {
		var (
			a            models.WalletAsset
			balance, val string
		)
		if err := rows.Scan(&a.WalletID, &a.Symbol, &a.Name, &balance, &val); err != nil {
			return nil, fmt.Errorf("failed to scan wallet asset: %w", err)
		}
		if a.Balance, err = decimal.NewFromString(balance); err != nil {
			return nil, fmt.Errorf("wallet asset %s balance: %w", a.Symbol, err)
		}
		if a.ValueInReference, err = decimal.NewFromString(val); err != nil {
			return nil, fmt.Errorf("wallet asset %s value: %w", a.Symbol, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *Postgres) ListNFTs(ctx context.Context, walletID string) ([]models.NFT, error) {
	query := `
		SELECT wallet_id, collection, token_id, name, value_ref::text
		FROM nfts
		WHERE wallet_id = $1
		ORDER BY collection, token_id
	`
	rows, err := p.pool.Query(ctx, query, walletID)
	if err != nil {
		return nil, fmt.Errorf("failed to list nfts: %w", err)
	}
	defer rows.Close()

	var out []models.NFT
	for rows.Next() {
		var (
			n   models.NFT
			val string
		)
		if err := rows.Scan(&n.WalletID, &n.Collection, &n.TokenID, &n.Name, &val); err != nil {
			return nil, fmt.Errorf("failed to scan nft: %w", err)
		}
		if n.ValueInReference, err = decimal.NewFromString(val); err != nil {
			return nil, fmt.Errorf("nft %s value: %w", n.TokenID, err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (p *Postgres) ListDeFiPositions(ctx context.Context, walletID string) ([]models.DeFiPosition, error) {
	query := `
		SELECT wallet_id, protocol, kind, symbol, value_ref::text
		FROM defi_positions
		WHERE wallet_id = $1
		ORDER BY protocol
	`
	rows, err := p.pool.Query(ctx, query, walletID)
	if err != nil {
		return nil, fmt.Errorf("failed to list defi positions: %w", err)
	}
	defer rows.Close()

	var out []models.DeFiPosition
	for rows.Next() {
		var (
			d   models.DeFiPosition
			val string
		)
		if err := rows.Scan(&d.WalletID, &d.Protocol, &d.Kind, &d.Symbol, &val); err != nil {
			return nil, fmt.Errorf("failed to scan defi position: %w", err)
		}
		if d.ValueInReference, err = decimal.NewFromString(val); err != nil {
			return nil, fmt.Errorf("defi position %s value: %w", d.Protocol, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) ListLiabilities(ctx context.Context, userID string) ([]models.Liability, error) {
	rows, err := p.pool.Query(ctx, `SELECT user_id, kind, currency, amount::text FROM liabilities WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list liabilities: %w", err)
	}
	defer rows.Close()

	var out []models.Liability
	for rows.Next() {
		var (
			l   models.Liability
			amt string
		)
		if err := rows.Scan(&l.UserID, &l.Kind, &l.Currency, &amt); err != nil {
			return nil, fmt.Errorf("failed to scan liability: %w", err)
		}
		if l.Amount, err = decimal.NewFromString(amt); err != nil {
			return nil, fmt.Errorf("liability %s amount: %w", l.Kind, err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (p *Postgres) FindUserByHandle(ctx context.Context, handle string) (models.User, error) {
	var u models.User
	err := p.pool.QueryRow(ctx,
		`SELECT id, handle, display_name FROM users WHERE lower(handle) = lower($1)`, handle,
	).Scan(&u.ID, &u.Handle, &u.DisplayName)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, fmt.Errorf("user %q: %w", handle, ErrNotFound)
	}
	if err != nil {
		return models.User{}, fmt.Errorf("failed to find user: %w", err)
	}
	return u, nil
}

func (p *Postgres) PersistBridge(ctx context.Context, b models.AssetBridge) error {
	fromAsset, err := json.Marshal(b.FromAsset)
	if err != nil {
		return err
	}
	toAsset, err := json.Marshal(b.ToAsset)
	if err != nil {
		return err
	}
	fees, err := json.Marshal(b.Fees)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO asset_bridges (
			id, user_id, bridge_type, from_asset, to_asset,
			from_amount, to_amount, rate_applied, fees,
			status, failure_reason, initiated_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8::numeric, $9, $10, $11, $12, $13)
	`
	_, err = p.pool.Exec(ctx, query,
		b.ID,
		b.UserID,
		string(b.BridgeType),
		fromAsset,
		toAsset,
		b.FromAmount.String(),
		b.ToAmount.String(),
		b.RateApplied.String(),
		fees,
		string(b.Status),
		b.FailureReason,
		b.InitiatedAt,
		b.CompletedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("bridge %s: %w", b.ID, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to persist bridge: %w", err)
	}
	return nil
}

func (p *Postgres) GetBridge(ctx context.Context, id string) (models.AssetBridge, error) {
	query := `
		SELECT id, user_id, bridge_type, from_asset, to_asset,
			from_amount::text, to_amount::text, rate_applied::text, fees,
			status, failure_reason, initiated_at, completed_at
		FROM asset_bridges
		WHERE id = $1
	`
	var (
		b                          models.AssetBridge
		bridgeType, status         string
		fromAsset, toAsset, fees   []byte
		fromAmount, toAmount, rate string
	)
	err := p.pool.QueryRow(ctx, query, id).Scan(
		&b.ID,
		&b.UserID,
		&bridgeType,
		&fromAsset,
		&toAsset,
		&fromAmount,
		&toAmount,
		&rate,
		&fees,
		&status,
		&b.FailureReason,
		&b.InitiatedAt,
		&b.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.AssetBridge{}, fmt.Errorf("bridge %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.AssetBridge{}, fmt.Errorf("failed to get bridge: %w", err)
	}

	b.BridgeType = models.ConversionType(bridgeType)
	b.Status = models.BridgeStatus(status)
	if err := json.Unmarshal(fromAsset, &b.FromAsset); err != nil {
		return models.AssetBridge{}, fmt.Errorf("bridge %s from asset: %w", id, err)
	}
	if err := json.Unmarshal(toAsset, &b.ToAsset); err != nil {
		return models.AssetBridge{}, fmt.Errorf("bridge %s to asset: %w", id, err)
	}
	if err := json.Unmarshal(fees, &b.Fees); err != nil {
		return models.AssetBridge{}, fmt.Errorf("bridge %s fees: %w", id, err)
	}
	if b.FromAmount, err = decimal.NewFromString(fromAmount); err != nil {
		return models.AssetBridge{}, err
	}
	if b.ToAmount, err = decimal.NewFromString(toAmount); err != nil {
		return models.AssetBridge{}, err
	}
	if b.RateApplied, err = decimal.NewFromString(rate); err != nil {
		return models.AssetBridge{}, err
	}
	return b, nil
}

// RecordBridgeTransition is a compare-and-set on the PENDING status.
func (p *Postgres) RecordBridgeTransition(ctx context.Context, b models.AssetBridge) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE asset_bridges
		SET status = $2, failure_reason = $3, completed_at = $4
		WHERE id = $1 AND status = 'PENDING'
	`, b.ID, string(b.Status), b.FailureReason, b.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to record bridge transition: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var status string
	err = p.pool.QueryRow(ctx, `SELECT status FROM asset_bridges WHERE id = $1`, b.ID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("bridge %s: %w", b.ID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read bridge status: %w", err)
	}
	return fmt.Errorf("bridge %s is %s: %w", b.ID, status, ErrStaleTransition)
}

func (p *Postgres) PersistCollateralPosition(ctx context.Context, pos models.CollateralPosition) error {
	assets, err := json.Marshal(pos.CollateralAssets)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO collateral_positions (
			id, user_id, collateral_assets, total_collateral, borrowed_amount,
			loan_to_value, liquidation_ltv, health_factor, created_at
		) VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7::numeric, $8::numeric, $9)
	`
	_, err = p.pool.Exec(ctx, query,
		pos.ID,
		pos.UserID,
		assets,
		pos.TotalCollateralValue.String(),
		pos.BorrowedAmount.String(),
		pos.LoanToValue.String(),
		pos.LiquidationLTV.String(),
		pos.HealthFactor.String(),
		pos.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("position %s: %w", pos.ID, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to persist collateral position: %w", err)
	}
	return nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

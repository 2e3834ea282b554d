// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/sage-x-project/sage-ratelimit/core/resilience"
)

// PostgresConfig configures the alternate Postgres-backed Gateway.
// Postgres' row-level SELECT ... FOR UPDATE plus a SERIALIZABLE
// transaction gives the same conditional-write and multi-item-
// transaction primitives DynamoDB's native features provide, so it is
// a legitimate second backend rather than a DynamoDB emulation layer.
type PostgresConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	TableName       string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

// DefaultPostgresConfig returns sane local-development defaults.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		Database:        "sage_ratelimit",
		SSLMode:         "disable",
		TableName:       "ratelimit_items",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		AutoMigrate:     true,
	}
}

// PostgresGateway implements Gateway over a single (pk, sk, attrs) table,
// where attrs is a JSONB blob holding every attribute beyond PK/SK.
type PostgresGateway struct {
	db      *sql.DB
	table   string
	retry   *resilience.RetryConfig
	breaker *resilience.CircuitBreaker
}

// execute runs fn through the retry policy, gated by the gateway's
// circuit breaker so a persistently unreachable database fails fast
// instead of exhausting every caller's retry budget individually.
// Retry-budget exhaustion and an open breaker both collapse into
// ErrUnavailable, so callers see one transport-class sentinel instead
// of having to know resilience's internal error types.
func (g *PostgresGateway) execute(ctx context.Context, fn resilience.Executor) error {
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Retry(ctx, g.retry, fn)
	})
	if errors.Is(err, resilience.ErrMaxAttemptsExceeded) || errors.Is(err, resilience.ErrCircuitBreakerOpen) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

// NewPostgresGateway opens a connection pool and, if AutoMigrate is set,
// creates the backing table.
func NewPostgresGateway(ctx context.Context, cfg *PostgresConfig) (*PostgresGateway, error) {
	if cfg == nil {
		cfg = DefaultPostgresConfig()
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}

	g := &PostgresGateway{
		db:    db,
		table: cfg.TableName,
		retry: &resilience.RetryConfig{
			MaxAttempts: 5,
			Backoff:     resilience.FullJitterBackoff(20*time.Millisecond, 3*time.Second),
			ShouldRetry: isTransientPostgresError,
		},
		breaker: resilience.NewCircuitBreaker(&resilience.CircuitBreakerConfig{
			MaxFailures:         5,
			Timeout:             30 * time.Second,
			MaxHalfOpenRequests: 1,
		}),
	}

	if cfg.AutoMigrate {
		if err := g.migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}

	return g, nil
}

func isTransientPostgresError(err error) bool {
	return err != nil && err != sql.ErrNoRows && !errors.Is(err, ErrConflict)
}

func (g *PostgresGateway) migrate(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			pk TEXT NOT NULL,
			sk TEXT NOT NULL,
			attrs JSONB NOT NULL,
			PRIMARY KEY (pk, sk)
		)`, g.table)
	_, err := g.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func (g *PostgresGateway) GetItem(ctx context.Context, pk, sk string) (Item, error) {
	query := fmt.Sprintf(`SELECT attrs FROM %s WHERE pk = $1 AND sk = $2`, g.table)

	var raw []byte
	found := true
	err := g.execute(ctx, func(ctx context.Context) error {
		row := g.db.QueryRowContext(ctx, query, pk, sk)
		if err := row.Scan(&raw); !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		// A missing row is an answer, not a store failure: keep it out
		// of the circuit breaker's failure count.
		found = false
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: get item: %w", err)
	}
	if !found {
		return nil, ErrNotFound
	}

	var item Item
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("store: decode item: %w", err)
	}
	item["PK"], item["SK"] = pk, sk
	return item, nil
}

func (g *PostgresGateway) BatchGetItems(ctx context.Context, keys []Key) (map[Key]Item, error) {
	if len(keys) > MaxBatchItems {
		return nil, ErrTooManyItems
	}
	out := make(map[Key]Item, len(keys))
	for _, k := range keys {
		item, err := g.GetItem(ctx, k.PK, k.SK)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[k] = item
	}
	return out, nil
}

// checkCondition re-implements the two condition shapes this codebase
// issues, evaluated against the row observed inside the same
// transaction that will perform the write.
func checkCondition(tx *sql.Tx, ctx context.Context, table, pk, sk string, cond *Condition) error {
	if cond == nil {
		return nil
	}

	row := tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT attrs FROM %s WHERE pk = $1 AND sk = $2 FOR UPDATE`, table), pk, sk)
	var raw []byte
	err := row.Scan(&raw)

	switch cond.Expression {
	case "attribute_not_exists(PK)":
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		return ErrConflict
	case "attribute_not_exists(PK) OR last_refill_ms = :seen_ms":
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		var item Item
		if err := json.Unmarshal(raw, &item); err != nil {
			return err
		}
		seen, _ := cond.Values[":seen_ms"].(int64)
		existing := toInt64FromJSON(item["last_refill_ms"])
		if existing == seen {
			return nil
		}
		return ErrConflict
	default:
		return nil
	}
}

func toInt64FromJSON(v interface{}) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	default:
		return 0
	}
}

func (g *PostgresGateway) PutItem(ctx context.Context, pk, sk string, item Item, cond *Condition) error {
	return g.txWrite(ctx, []WriteOp{{Kind: OpPut, Key: Key{PK: pk, SK: sk}, Item: item, Condition: cond}})
}

func (g *PostgresGateway) DeleteItem(ctx context.Context, pk, sk string) error {
	_, err := g.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE pk = $1 AND sk = $2`, g.table), pk, sk)
	if err != nil {
		return fmt.Errorf("store: delete item: %w", err)
	}
	return nil
}

func (g *PostgresGateway) TransactWrite(ctx context.Context, ops []WriteOp) error {
	if len(ops) > MaxBatchItems {
		return ErrTooManyItems
	}
	return g.txWrite(ctx, ops)
}

// txWrite runs every op inside one SERIALIZABLE transaction, checking
// conditions with SELECT ... FOR UPDATE to lock the row before the
// condition is evaluated, so a concurrent writer blocks rather than
// racing past the check.
func (g *PostgresGateway) txWrite(ctx context.Context, ops []WriteOp) error {
	err := g.execute(ctx, func(ctx context.Context) error {
		tx, err := g.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return err
		}
		defer tx.Rollback()

		for _, op := range ops {
			if err := checkCondition(tx, ctx, g.table, op.Key.PK, op.Key.SK, op.Condition); err != nil {
				return err
			}
		}

		for _, op := range ops {
			switch op.Kind {
			case OpPut:
				raw, err := json.Marshal(withoutKeys(op.Item))
				if err != nil {
					return err
				}
				_, err = tx.ExecContext(ctx, fmt.Sprintf(`
					INSERT INTO %s (pk, sk, attrs) VALUES ($1, $2, $3)
					ON CONFLICT (pk, sk) DO UPDATE SET attrs = EXCLUDED.attrs`, g.table),
					op.Key.PK, op.Key.SK, raw)
				if err != nil {
					return err
				}
			case OpDelete:
				if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE pk = $1 AND sk = $2`, g.table), op.Key.PK, op.Key.SK); err != nil {
					return err
				}
			case OpConditionCheck:
				// already validated above
			}
		}

		return tx.Commit()
	})

	if errors.Is(err, ErrConflict) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("store: transact write: %w", err)
	}
	return nil
}

func withoutKeys(item Item) Item {
	out := make(Item, len(item))
	for k, v := range item {
		if k == "PK" || k == "SK" {
			continue
		}
		out[k] = v
	}
	return out
}

func (g *PostgresGateway) Query(ctx context.Context, index, pk, skBeginsWith string, limit int) (QueryResult, error) {
	pkCol, skCol := "pk", "sk"
	table := g.table
	if index != "" {
		// Secondary indexes are modeled as the gsi1pk/gsi1sk (etc.)
		// fields inside the same attrs JSONB and matched with attrs->>;
		// migrate creates no index on them.
		pkCol = fmt.Sprintf("attrs->>'%s'", indexJSONField(index, "pk"))
		skCol = fmt.Sprintf("attrs->>'%s'", indexJSONField(index, "sk"))
	}

	query := fmt.Sprintf(`SELECT pk, sk, attrs FROM %s WHERE %s = $1`, table, pkCol)
	args := []interface{}{pk}
	if skBeginsWith != "" {
		query += fmt.Sprintf(` AND %s LIKE $2`, skCol)
		args = append(args, skBeginsWith+"%")
	}
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return QueryResult{}, fmt.Errorf("store: query: %w", err)
	}
	defer rows.Close()

	var result QueryResult
	for rows.Next() {
		var rowPK, rowSK string
		var raw []byte
		if err := rows.Scan(&rowPK, &rowSK, &raw); err != nil {
			return QueryResult{}, fmt.Errorf("store: query scan: %w", err)
		}
		var item Item
		if err := json.Unmarshal(raw, &item); err != nil {
			return QueryResult{}, fmt.Errorf("store: query decode: %w", err)
		}
		item["PK"], item["SK"] = rowPK, rowSK
		result.Items = append(result.Items, item)
	}
	return result, rows.Err()
}

func indexJSONField(index, part string) string {
	switch index {
	case "gsi1-parent-children":
		return "gsi1" + part
	case "gsi2-resource-entities":
		return "gsi2" + part
	case "gsi3-entity-configs":
		return "gsi3" + part
	default:
		return part
	}
}

func (g *PostgresGateway) Ping(ctx context.Context) error {
	return g.db.PingContext(ctx)
}

func (g *PostgresGateway) Close() error {
	return g.db.Close()
}

/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"

	"github.com/altairalabs/omnia/internal/keyengine"
	"github.com/altairalabs/omnia/internal/pgutil"
)

// Store implements keyengine.PolicyStore over a pgxpool-managed PostgreSQL
// connection (spec §4.3, C3).
type Store struct {
	pool     *pgxpool.Pool
	ownsPool bool
}

var _ keyengine.PolicyStore = (*Store)(nil)

// New creates a Store that owns its connection pool. The pool is created
// from cfg and verified with a ping.
func New(cfg Config) (*Store, error) {
	if cfg.ConnString == "" {
		return nil, fmt.Errorf("postgres: connection string is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("postgres: parsing connection string: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod
	if cfg.TLS != nil {
		poolCfg.ConnConfig.TLSConfig = cfg.TLS
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping failed: %w", err)
	}

	return &Store{pool: pool, ownsPool: true}, nil
}

// NewFromPool wraps an existing connection pool. Close is a no-op since the
// caller retains ownership.
func NewFromPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, ownsPool: false}
}

// Close shuts down the pool if this Store created it.
func (s *Store) Close() error {
	if s.ownsPool {
		s.pool.Close()
	}
	return nil
}

const policyColumns = `domain, active_kid, rotation_interval_days, schedule, rotated_at, next_rotation_at, enabled, note`

func scanPolicy(row pgx.Row) (keyengine.RotationPolicy, error) {
	var p keyengine.RotationPolicy
	var schedule, note *string

	err := row.Scan(&p.Domain, &p.ActiveKid, &p.RotationIntervalDays, &schedule, &p.RotatedAt, &p.NextRotationAt, &p.Enabled, &note)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return keyengine.RotationPolicy{}, fmt.Errorf("%w: no rotation policy for domain", keyengine.ErrNotFound)
		}
		return keyengine.RotationPolicy{}, fmt.Errorf("%w: scanning rotation policy: %v", keyengine.ErrStoreFailure, err)
	}
	p.Schedule = pgutil.DerefString(schedule)
	p.Note = pgutil.DerefString(note)
	return p, nil
}

// FindByDomain implements keyengine.PolicyStore.
func (s *Store) FindByDomain(ctx context.Context, domain string) (keyengine.RotationPolicy, error) {
	query := `SELECT ` + policyColumns + ` FROM rotation_policies WHERE domain = $1`
	return scanPolicy(s.pool.QueryRow(ctx, query, domain))
}

// CreatePolicy implements keyengine.PolicyStore.
func (s *Store) CreatePolicy(ctx context.Context, policy keyengine.RotationPolicy) error {
	query := `INSERT INTO rotation_policies (` + policyColumns + `)
		SELECT $1,$2,$3,$4,$5,$6,$7,$8
		WHERE NOT EXISTS (SELECT 1 FROM rotation_policies WHERE domain = $1)`
	res, err := s.pool.Exec(ctx, query,
		policy.Domain, policy.ActiveKid, policy.RotationIntervalDays, pgutil.NullString(policy.Schedule),
		policy.RotatedAt, policy.NextRotationAt, policy.Enabled, pgutil.NullString(policy.Note),
	)
	if err != nil {
		return fmt.Errorf("%w: creating rotation policy: %v", keyengine.ErrStoreFailure, err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("%w: policy already exists for domain %s", keyengine.ErrAlreadyExists, policy.Domain)
	}
	return nil
}

// UpdatePolicy implements keyengine.PolicyStore.
func (s *Store) UpdatePolicy(ctx context.Context, policy keyengine.RotationPolicy) error {
	query := `UPDATE rotation_policies SET
		active_kid = $2, rotation_interval_days = $3, schedule = $4,
		rotated_at = $5, next_rotation_at = $6, enabled = $7, note = $8
		WHERE domain = $1`
	res, err := s.pool.Exec(ctx, query,
		policy.Domain, policy.ActiveKid, policy.RotationIntervalDays, pgutil.NullString(policy.Schedule),
		policy.RotatedAt, policy.NextRotationAt, policy.Enabled, pgutil.NullString(policy.Note),
	)
	if err != nil {
		return fmt.Errorf("%w: updating rotation policy: %v", keyengine.ErrStoreFailure, err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("%w: no rotation policy for domain %s", keyengine.ErrNotFound, policy.Domain)
	}
	return nil
}

// DeletePolicy implements keyengine.PolicyStore.
func (s *Store) DeletePolicy(ctx context.Context, domain string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM rotation_policies WHERE domain = $1`, domain); err != nil {
		return fmt.Errorf("%w: deleting rotation policy: %v", keyengine.ErrStoreFailure, err)
	}
	return nil
}

func (s *Store) setEnabled(ctx context.Context, domain string, enabled bool) error {
	res, err := s.pool.Exec(ctx, `UPDATE rotation_policies SET enabled = $2 WHERE domain = $1`, domain, enabled)
	if err != nil {
		return fmt.Errorf("%w: setting enabled=%v: %v", keyengine.ErrStoreFailure, enabled, err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("%w: no rotation policy for domain %s", keyengine.ErrNotFound, domain)
	}
	return nil
}

// Enable implements keyengine.PolicyStore.
func (s *Store) Enable(ctx context.Context, domain string) error { return s.setEnabled(ctx, domain, true) }

// Disable implements keyengine.PolicyStore.
func (s *Store) Disable(ctx context.Context, domain string) error {
	return s.setEnabled(ctx, domain, false)
}

// dueBatchLimit caps how many due policies a single GetDueForRotation call
// returns, so a backlog of overdue domains doesn't force one unbounded scan.
const dueBatchLimit = 500

// GetDueForRotation implements keyengine.PolicyStore: enabled policies with
// next_rotation_at <= now.
func (s *Store) GetDueForRotation(ctx context.Context, now time.Time) ([]keyengine.RotationPolicy, error) {
	var qb pgutil.QueryBuilder
	qb.Add("next_rotation_at <= $?", now)
	query := `SELECT ` + policyColumns + ` FROM rotation_policies WHERE enabled` + qb.Where()
	query = qb.AppendPagination(query, dueBatchLimit, 0)
	rows, err := s.pool.Query(ctx, query, qb.Args()...)
	if err != nil {
		return nil, fmt.Errorf("%w: listing due policies: %v", keyengine.ErrStoreFailure, err)
	}
	defer rows.Close()

	var policies []keyengine.RotationPolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating due policies: %v", keyengine.ErrStoreFailure, err)
	}
	return policies, nil
}

// UpdateRotationDates implements keyengine.PolicyStore, executing within the
// transaction held by session.
func (s *Store) UpdateRotationDates(ctx context.Context, session keyengine.PolicySession, domain, activeKid string, rotatedAt, nextRotationAt time.Time) error {
	tx, err := txFromSession(session)
	if err != nil {
		return err
	}
	res, err := tx.Exec(ctx, `UPDATE rotation_policies SET active_kid = $2, rotated_at = $3, next_rotation_at = $4 WHERE domain = $1`,
		domain, activeKid, rotatedAt, nextRotationAt)
	if err != nil {
		return fmt.Errorf("%w: updating rotation dates: %v", keyengine.ErrStoreFailure, err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("%w: no rotation policy for domain %s", keyengine.ErrNotFound, domain)
	}
	return nil
}

// AcknowledgeSuccessfulRotation implements keyengine.PolicyStore. It computes
// rotatedAt = now and nextRotationAt = rotatedAt + intervalDays*86400000,
// except when the domain's stored RotationPolicy.Schedule parses as a cron
// expression, in which case nextRotationAt is the next occurrence strictly
// after rotatedAt (SPEC_FULL.md's additive cron-opt-in feature; flat
// interval math remains authoritative when Schedule is empty or fails to
// parse).
func (s *Store) AcknowledgeSuccessfulRotation(ctx context.Context, session keyengine.PolicySession, ack keyengine.RotationAck, newKid string, now time.Time) error {
	tx, err := txFromSession(session)
	if err != nil {
		return err
	}

	var schedule *string
	var currentActiveKid string
	row := tx.QueryRow(ctx, `SELECT schedule, active_kid FROM rotation_policies WHERE domain = $1`, ack.Domain)
	if err := row.Scan(&schedule, &currentActiveKid); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: no rotation policy for domain %s", keyengine.ErrNotFound, ack.Domain)
		}
		return fmt.Errorf("%w: reading schedule: %v", keyengine.ErrStoreFailure, err)
	}

	// Precondition check (spec §5): if the lock TTL expired and a successor
	// already committed a rotation for this domain, active_kid will no
	// longer match what this attempt observed before preparing newKid.
	// Refuse to commit rather than overwrite the successor's work.
	if currentActiveKid != ack.ExpectedOldKid {
		return fmt.Errorf("%w: active_kid for domain %s is %q, expected %q",
			keyengine.ErrPreconditionFailed, ack.Domain, currentActiveKid, ack.ExpectedOldKid)
	}

	nextRotationAt := now.AddDate(0, 0, ack.RotationIntervalDays)
	if sched := pgutil.DerefString(schedule); sched != "" {
		if parsed, parseErr := cron.ParseStandard(sched); parseErr == nil {
			nextRotationAt = parsed.Next(now)
		}
	}

	res, err := tx.Exec(ctx, `UPDATE rotation_policies SET active_kid = $2, rotated_at = $3, next_rotation_at = $4
		WHERE domain = $1 AND active_kid = $5`,
		ack.Domain, newKid, now, nextRotationAt, ack.ExpectedOldKid)
	if err != nil {
		return fmt.Errorf("%w: acknowledging rotation: %v", keyengine.ErrStoreFailure, err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("%w: active_kid for domain %s changed before commit", keyengine.ErrPreconditionFailed, ack.Domain)
	}
	return nil
}

// Session is the pgx.Tx-backed keyengine.PolicySession. A Session holds one
// pooled connection for its lifetime; EndSession releases it back to the pool.
type Session struct {
	conn *pgxpool.Conn
	tx   pgx.Tx
}

var _ keyengine.PolicySession = (*Session)(nil)

// GetSession implements keyengine.PolicyStore: acquires a pooled connection
// for the caller to start a transaction on.
func (s *Store) GetSession(ctx context.Context) (keyengine.PolicySession, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: acquiring connection: %v", keyengine.ErrStoreFailure, err)
	}
	return &Session{conn: conn}, nil
}

// StartTransaction implements keyengine.PolicySession.
func (sess *Session) StartTransaction(ctx context.Context) error {
	tx, err := sess.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: starting transaction: %v", keyengine.ErrStoreFailure, err)
	}
	sess.tx = tx
	return nil
}

// CommitTransaction implements keyengine.PolicySession.
func (sess *Session) CommitTransaction(ctx context.Context) error {
	if sess.tx == nil {
		return fmt.Errorf("%w: commit called before start", keyengine.ErrFatal)
	}
	if err := sess.tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: committing transaction: %v", keyengine.ErrStoreFailure, err)
	}
	return nil
}

// AbortTransaction implements keyengine.PolicySession.
func (sess *Session) AbortTransaction(ctx context.Context) error {
	if sess.tx == nil {
		return nil
	}
	if err := sess.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("%w: aborting transaction: %v", keyengine.ErrStoreFailure, err)
	}
	return nil
}

// EndSession implements keyengine.PolicySession, releasing the pooled
// connection.
func (sess *Session) EndSession(_ context.Context) error {
	if sess.conn != nil {
		sess.conn.Release()
		sess.conn = nil
	}
	return nil
}

func txFromSession(session keyengine.PolicySession) (pgx.Tx, error) {
	sess, ok := session.(*Session)
	if !ok || sess.tx == nil {
		return nil, fmt.Errorf("%w: no active transaction on session", keyengine.ErrFatal)
	}
	return sess.tx, nil
}

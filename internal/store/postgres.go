package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentriq/ipwatch/internal/models"
)

// Postgres owns a pgx connection pool shared by the per-table stores.
// Every call carries a timeout so a slow database surfaces as
// ErrUnavailable instead of hanging the caller.
type Postgres struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// PostgresEvents implements EventStore.
type PostgresEvents struct{ *Postgres }

// PostgresBlocklist implements BlocklistStore.
type PostgresBlocklist struct{ *Postgres }

// PostgresFindings implements FindingStore.
type PostgresFindings struct{ *Postgres }

var (
	_ EventStore     = (*PostgresEvents)(nil)
	_ BlocklistStore = (*PostgresBlocklist)(nil)
	_ FindingStore   = (*PostgresFindings)(nil)
)

// Events returns the EventStore view of the pool.
func (p *Postgres) Events() *PostgresEvents { return &PostgresEvents{p} }

// Blocklist returns the BlocklistStore view of the pool.
func (p *Postgres) Blocklist() *PostgresBlocklist { return &PostgresBlocklist{p} }

// Findings returns the FindingStore view of the pool.
func (p *Postgres) Findings() *PostgresFindings { return &PostgresFindings{p} }

// NewPostgres creates a Postgres store backed by a new connection pool.
func NewPostgres(ctx context.Context, connString string, timeout time.Duration) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	cfg.MaxConns = 25
	cfg.MinConns = 5
	cfg.MaxConnLifetime = 5 * time.Minute
	cfg.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Postgres{pool: pool, timeout: timeout}, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.timeout)
}

// storeErr wraps a database error, tagging timeouts and connection
// failures as ErrUnavailable so callers can apply their degrade policy.
func storeErr(op string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// uniqueViolation reports whether err is a PostgreSQL unique constraint
// violation.
func uniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// --- EventStore ---

func (p *PostgresEvents) Append(ctx context.Context, ev *models.RequestEvent) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO request_events (ip, ts, path, country, city)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err := p.pool.QueryRow(ctx, query,
		ev.IP, ev.Timestamp, ev.Path, ev.Country, ev.City,
	).Scan(&ev.ID)
	if err != nil {
		return storeErr("append event", err)
	}
	return nil
}

func (p *PostgresEvents) ListByIP(ctx context.Context, ip string, from, to time.Time) ([]models.RequestEvent, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, ip, ts, path, country, city
		FROM request_events
		WHERE ip = $1 AND ts >= $2 AND ts < $3
		ORDER BY ts ASC
	`
	rows, err := p.pool.Query(ctx, query, ip, from, to)
	if err != nil {
		return nil, storeErr("list events", err)
	}
	defer rows.Close()

	var out []models.RequestEvent
	for rows.Next() {
		var ev models.RequestEvent
		if err := rows.Scan(&ev.ID, &ev.IP, &ev.Timestamp, &ev.Path, &ev.Country, &ev.City); err != nil {
			return nil, storeErr("scan event", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list events", err)
	}
	return out, nil
}

func (p *PostgresEvents) DistinctIPs(ctx context.Context, since time.Time) ([]string, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	query := `SELECT DISTINCT ip FROM request_events WHERE ts >= $1 ORDER BY ip`
	rows, err := p.pool.Query(ctx, query, since)
	if err != nil {
		return nil, storeErr("distinct ips", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var ip string
		if err := rows.Scan(&ip); err != nil {
			return nil, storeErr("scan ip", err)
		}
		out = append(out, ip)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("distinct ips", err)
	}
	return out, nil
}

func (p *PostgresEvents) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	tag, err := p.pool.Exec(ctx, `DELETE FROM request_events WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, storeErr("delete events", err)
	}
	return tag.RowsAffected(), nil
}

func (p *PostgresEvents) Summary(ctx context.Context, since time.Time, topN int) (*TrafficSummary, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	sum := &TrafficSummary{}
	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT ip) FROM request_events WHERE ts >= $1`,
		since,
	).Scan(&sum.TotalRequests, &sum.UniqueIPs)
	if err != nil {
		return nil, storeErr("summary totals", err)
	}

	sum.TopCountries, err = p.topCounts(ctx,
		`SELECT country, COUNT(*) FROM request_events
		 WHERE ts >= $1 AND country <> ''
		 GROUP BY country ORDER BY COUNT(*) DESC LIMIT $2`,
		since, topN)
	if err != nil {
		return nil, err
	}

	sum.TopPaths, err = p.topCounts(ctx,
		`SELECT path, COUNT(*) FROM request_events
		 WHERE ts >= $1
		 GROUP BY path ORDER BY COUNT(*) DESC LIMIT $2`,
		since, topN)
	if err != nil {
		return nil, err
	}

	return sum, nil
}

func (p *Postgres) topCounts(ctx context.Context, query string, since time.Time, topN int) ([]LabelCount, error) {
	rows, err := p.pool.Query(ctx, query, since, topN)
	if err != nil {
		return nil, storeErr("summary top counts", err)
	}
	defer rows.Close()

	var out []LabelCount
	for rows.Next() {
		var lc LabelCount
		if err := rows.Scan(&lc.Label, &lc.Count); err != nil {
			return nil, storeErr("scan top count", err)
		}
		out = append(out, lc)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("summary top counts", err)
	}
	return out, nil
}

// --- BlocklistStore ---

func (p *PostgresBlocklist) Put(ctx context.Context, entry *models.BlockedEntry) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	query := `INSERT INTO blocked_ips (ip, created_at, reason) VALUES ($1, $2, $3)`
	_, err := p.pool.Exec(ctx, query, entry.IP, entry.CreatedAt, entry.Reason)
	if err != nil {
		if uniqueViolation(err) {
			return ErrAlreadyBlocked
		}
		return storeErr("put blocked ip", err)
	}
	return nil
}

func (p *PostgresBlocklist) Delete(ctx context.Context, ip string) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	tag, err := p.pool.Exec(ctx, `DELETE FROM blocked_ips WHERE ip = $1`, ip)
	if err != nil {
		return storeErr("delete blocked ip", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresBlocklist) Exists(ctx context.Context, ip string) (bool, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM blocked_ips WHERE ip = $1)`, ip,
	).Scan(&exists)
	if err != nil {
		return false, storeErr("blocked ip exists", err)
	}
	return exists, nil
}

func (p *PostgresBlocklist) List(ctx context.Context) ([]models.BlockedEntry, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	rows, err := p.pool.Query(ctx,
		`SELECT ip, created_at, reason FROM blocked_ips ORDER BY created_at DESC`)
	if err != nil {
		return nil, storeErr("list blocked ips", err)
	}
	defer rows.Close()

	var out []models.BlockedEntry
	for rows.Next() {
		var e models.BlockedEntry
		if err := rows.Scan(&e.IP, &e.CreatedAt, &e.Reason); err != nil {
			return nil, storeErr("scan blocked ip", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list blocked ips", err)
	}
	return out, nil
}

// --- FindingStore ---

func (p *PostgresFindings) Insert(ctx context.Context, f *models.SuspicionFinding) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO suspicion_findings (id, ip, reason, detected_at, is_active)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := p.pool.Exec(ctx, query, f.ID, f.IP, f.Reason, f.DetectedAt, f.IsActive)
	if err != nil {
		// The partial unique index on (ip, reason) WHERE is_active makes a
		// concurrent duplicate insert a no-op at this layer.
		if uniqueViolation(err) {
			return nil
		}
		return storeErr("insert finding", err)
	}
	return nil
}

func (p *PostgresFindings) ActiveExists(ctx context.Context, ip string, reason models.Reason) (bool, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM suspicion_findings
			WHERE ip = $1 AND reason = $2 AND is_active
		)`, ip, string(reason),
	).Scan(&exists)
	if err != nil {
		return false, storeErr("active finding exists", err)
	}
	return exists, nil
}

func (p *PostgresFindings) Deactivate(ctx context.Context, ip string, reason models.Reason) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	_, err := p.pool.Exec(ctx,
		`UPDATE suspicion_findings SET is_active = FALSE
		 WHERE ip = $1 AND reason = $2 AND is_active`,
		ip, string(reason))
	if err != nil {
		return storeErr("deactivate finding", err)
	}
	return nil
}

func (p *PostgresFindings) DeactivateOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	tag, err := p.pool.Exec(ctx,
		`UPDATE suspicion_findings SET is_active = FALSE
		 WHERE is_active AND detected_at < $1`,
		cutoff)
	if err != nil {
		return 0, storeErr("sweep findings", err)
	}
	return tag.RowsAffected(), nil
}

func (p *PostgresFindings) List(ctx context.Context, activeOnly bool, limit int) ([]models.SuspicionFinding, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, ip, reason, detected_at, is_active
		FROM suspicion_findings
		WHERE ($1 = FALSE OR is_active)
		ORDER BY detected_at DESC
		LIMIT $2
	`
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.pool.Query(ctx, query, activeOnly, limit)
	if err != nil {
		return nil, storeErr("list findings", err)
	}
	defer rows.Close()

	var out []models.SuspicionFinding
	for rows.Next() {
		var f models.SuspicionFinding
		if err := rows.Scan(&f.ID, &f.IP, &f.Reason, &f.DetectedAt, &f.IsActive); err != nil {
			return nil, storeErr("scan finding", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list findings", err)
	}
	return out, nil
}

func (p *PostgresFindings) CountActive(ctx context.Context) (int, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var count int
	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM suspicion_findings WHERE is_active`,
	).Scan(&count)
	if err != nil {
		return 0, storeErr("count active findings", err)
	}
	return count, nil
}

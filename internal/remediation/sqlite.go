package remediation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (or creates) the knowledge store at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer per process; SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting %q: %w", pragma, err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	if err := seed(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("seeding patterns: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS patterns (
			id              TEXT PRIMARY KEY,
			signature       TEXT NOT NULL DEFAULT '',
			match_predicate TEXT NOT NULL DEFAULT '',
			strategy        TEXT NOT NULL,
			success_count   INTEGER NOT NULL DEFAULT 0,
			failure_count   INTEGER NOT NULL DEFAULT 0,
			last_applied_at DATETIME,
			created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_patterns_signature_strategy
			ON patterns(signature, strategy) WHERE signature != '';

		CREATE TABLE IF NOT EXISTS pattern_events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			pattern_id TEXT NOT NULL,
			signature  TEXT NOT NULL DEFAULT '',
			chain_id   TEXT NOT NULL DEFAULT '',
			iteration  INTEGER NOT NULL DEFAULT 0,
			kind       TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (pattern_id) REFERENCES patterns(id)
		);

		CREATE INDEX IF NOT EXISTS idx_pattern_events_pattern
			ON pattern_events(pattern_id);

		CREATE TABLE IF NOT EXISTS outcomes (
			pattern_id  TEXT NOT NULL,
			chain_id    TEXT NOT NULL,
			succeeded   INTEGER NOT NULL,
			recorded_at DATETIME NOT NULL,
			PRIMARY KEY (pattern_id, chain_id)
		);

		CREATE TABLE IF NOT EXISTS guides (
			chain_id     TEXT NOT NULL,
			iteration    INTEGER NOT NULL,
			failures     TEXT NOT NULL,
			suggestions  TEXT NOT NULL,
			generated_at DATETIME NOT NULL,
			PRIMARY KEY (chain_id, iteration)
		);

		CREATE TABLE IF NOT EXISTS chain_leases (
			lease_key  TEXT PRIMARY KEY,
			owner      TEXT NOT NULL,
			expires_at INTEGER NOT NULL
		);
	`)
	return err
}

func seed(db *sql.DB) error {
	for _, p := range defaultPatterns {
		if _, err := db.Exec(
			`INSERT OR IGNORE INTO patterns (id, match_predicate, strategy) VALUES (?, ?, ?)`,
			p.ID, p.MatchPredicate, p.Strategy,
		); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreatePattern inserts p, assigning an ID and CreatedAt when empty.
func (s *SQLiteStore) CreatePattern(ctx context.Context, p *Pattern) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO patterns (id, signature, match_predicate, strategy, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			p.ID, p.Signature, p.MatchPredicate, p.Strategy, p.CreatedAt,
		); err != nil {
			return fmt.Errorf("inserting pattern: %w", err)
		}
		return appendEvent(ctx, tx, PatternEvent{
			PatternID: p.ID,
			Signature: p.Signature,
			Kind:      EventCreated,
			CreatedAt: p.CreatedAt,
		})
	})
}

const patternColumns = `id, signature, match_predicate, strategy, success_count, failure_count, last_applied_at, created_at`

// GetPattern returns the pattern with id.
func (s *SQLiteStore) GetPattern(ctx context.Context, id string) (*Pattern, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+patternColumns+` FROM patterns WHERE id = ?`, id)
	p, err := scanPattern(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrPatternNotFound, id)
	}
	return p, err
}

// FindPattern returns the exact-signature pattern for strategy.
func (s *SQLiteStore) FindPattern(ctx context.Context, signature, strategy string) (*Pattern, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+patternColumns+` FROM patterns WHERE signature = ? AND strategy = ?`,
		signature, strategy)
	p, err := scanPattern(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPatternNotFound
	}
	return p, err
}

// PatternsBySignature returns all patterns learned from signature.
func (s *SQLiteStore) PatternsBySignature(ctx context.Context, signature string) ([]Pattern, error) {
	return s.queryPatterns(ctx, `SELECT `+patternColumns+` FROM patterns WHERE signature = ? ORDER BY id`, signature)
}

// PredicatePatterns returns every substring-predicate pattern.
func (s *SQLiteStore) PredicatePatterns(ctx context.Context) ([]Pattern, error) {
	return s.queryPatterns(ctx, `SELECT `+patternColumns+` FROM patterns WHERE match_predicate != '' ORDER BY id`)
}

// ListPatterns returns every pattern.
func (s *SQLiteStore) ListPatterns(ctx context.Context) ([]Pattern, error) {
	return s.queryPatterns(ctx, `SELECT `+patternColumns+` FROM patterns ORDER BY id`)
}

func (s *SQLiteStore) queryPatterns(ctx context.Context, query string, args ...any) ([]Pattern, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Pattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// MarkApplied stamps LastAppliedAt and logs an applied event per pattern.
func (s *SQLiteStore) MarkApplied(ctx context.Context, chainID string, iteration int, ids []string, at time.Time) error {
	at = at.UTC()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			sig, err := touchPattern(ctx, tx, id, `UPDATE patterns SET last_applied_at = ? WHERE id = ?`, at, id)
			if err != nil {
				return err
			}
			if err := appendEvent(ctx, tx, PatternEvent{
				PatternID: id,
				Signature: sig,
				ChainID:   chainID,
				Iteration: iteration,
				Kind:      EventApplied,
				CreatedAt: at,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// RecordOutcome counts the chain's verdict once per (pattern, chain).
func (s *SQLiteStore) RecordOutcome(ctx context.Context, chainID string, ids []string, succeeded bool, at time.Time) ([]string, error) {
	at = at.UTC()
	counter, kind := "failure_count", EventFailure
	if succeeded {
		counter, kind = "success_count", EventSuccess
	}

	var recorded []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			res, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO outcomes (pattern_id, chain_id, succeeded, recorded_at) VALUES (?, ?, ?, ?)`,
				id, chainID, succeeded, at)
			if err != nil {
				return fmt.Errorf("inserting outcome: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				continue
			}
			sig, err := touchPattern(ctx, tx, id,
				`UPDATE patterns SET `+counter+` = `+counter+` + 1 WHERE id = ?`, id)
			if err != nil {
				return err
			}
			if err := appendEvent(ctx, tx, PatternEvent{
				PatternID: id,
				Signature: sig,
				ChainID:   chainID,
				Kind:      kind,
				CreatedAt: at,
			}); err != nil {
				return err
			}
			recorded = append(recorded, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return recorded, nil
}

// touchPattern runs an UPDATE against one pattern and returns its signature.
func touchPattern(ctx context.Context, tx *sql.Tx, id, update string, args ...any) (string, error) {
	res, err := tx.ExecContext(ctx, update, args...)
	if err != nil {
		return "", fmt.Errorf("updating pattern %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", fmt.Errorf("%w: %s", ErrPatternNotFound, id)
	}
	var sig string
	if err := tx.QueryRowContext(ctx, `SELECT signature FROM patterns WHERE id = ?`, id).Scan(&sig); err != nil {
		return "", err
	}
	return sig, nil
}

func appendEvent(ctx context.Context, tx *sql.Tx, e PatternEvent) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO pattern_events (pattern_id, signature, chain_id, iteration, kind, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.PatternID, e.Signature, e.ChainID, e.Iteration, string(e.Kind), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("appending pattern event: %w", err)
	}
	return nil
}

// PatternEvents returns the log for one pattern, oldest first.
func (s *SQLiteStore) PatternEvents(ctx context.Context, patternID string) ([]PatternEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, pattern_id, signature, chain_id, iteration, kind, created_at
		 FROM pattern_events WHERE pattern_id = ? ORDER BY id ASC`, patternID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []PatternEvent
	for rows.Next() {
		var e PatternEvent
		var kind string
		if err := rows.Scan(&e.ID, &e.PatternID, &e.Signature, &e.ChainID, &e.Iteration, &kind, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Kind = EventKind(kind)
		events = append(events, e)
	}
	return events, rows.Err()
}

// InsertGuide appends g. Its iteration must exceed every stored iteration
// of the same chain.
func (s *SQLiteStore) InsertGuide(ctx context.Context, g *Guide) error {
	failures, err := json.Marshal(g.Failures)
	if err != nil {
		return fmt.Errorf("encoding failures: %w", err)
	}
	suggestions, err := json.Marshal(g.SuggestedPatterns)
	if err != nil {
		return fmt.Errorf("encoding suggestions: %w", err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var latest sql.NullInt64
		if err := tx.QueryRowContext(ctx,
			`SELECT MAX(iteration) FROM guides WHERE chain_id = ?`, g.ChainID).Scan(&latest); err != nil {
			return err
		}
		if latest.Valid && int64(g.Iteration) <= latest.Int64 {
			return fmt.Errorf("%w: chain %s has iteration %d, got %d",
				ErrGuideOutOfOrder, g.ChainID, latest.Int64, g.Iteration)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO guides (chain_id, iteration, failures, suggestions, generated_at)
			 VALUES (?, ?, ?, ?, ?)`,
			g.ChainID, g.Iteration, string(failures), string(suggestions), g.GeneratedAt.UTC())
		if err != nil {
			return fmt.Errorf("inserting guide: %w", err)
		}
		return nil
	})
}

const guideColumns = `chain_id, iteration, failures, suggestions, generated_at`

// GetGuide returns one iteration's guide.
func (s *SQLiteStore) GetGuide(ctx context.Context, chainID string, iteration int) (*Guide, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+guideColumns+` FROM guides WHERE chain_id = ? AND iteration = ?`, chainID, iteration)
	g, err := scanGuide(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s iteration %d", ErrGuideNotFound, chainID, iteration)
	}
	return g, err
}

// LatestGuide returns the highest-iteration guide of a chain.
func (s *SQLiteStore) LatestGuide(ctx context.Context, chainID string) (*Guide, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+guideColumns+` FROM guides WHERE chain_id = ? ORDER BY iteration DESC LIMIT 1`, chainID)
	g, err := scanGuide(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrGuideNotFound, chainID)
	}
	return g, err
}

// ListGuides returns a chain's guides in iteration order.
func (s *SQLiteStore) ListGuides(ctx context.Context, chainID string) ([]Guide, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+guideColumns+` FROM guides WHERE chain_id = ? ORDER BY iteration ASC`, chainID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Guide
	for rows.Next() {
		g, err := scanGuide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

// ListChains summarizes every chain with guides, most recent first.
func (s *SQLiteStore) ListChains(ctx context.Context) ([]ChainSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.chain_id, c.n, g.iteration, g.generated_at
		FROM guides g
		JOIN (SELECT chain_id, COUNT(*) AS n, MAX(iteration) AS latest
		      FROM guides GROUP BY chain_id) c
		  ON g.chain_id = c.chain_id AND g.iteration = c.latest
		ORDER BY g.generated_at DESC, g.chain_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChainSummary
	for rows.Next() {
		var c ChainSummary
		if err := rows.Scan(&c.ChainID, &c.Guides, &c.LastIteration, &c.LastGenerated); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AcquireLease takes or renews the lease on key for owner. It fails with
// ErrChainBusy while a different owner holds an unexpired lease.
func (s *SQLiteStore) AcquireLease(ctx context.Context, key, owner string, ttl time.Duration, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO chain_leases (lease_key, owner, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(lease_key) DO UPDATE
		SET owner = excluded.owner, expires_at = excluded.expires_at
		WHERE chain_leases.owner = excluded.owner OR chain_leases.expires_at <= ?`,
		key, owner, now.Add(ttl).UnixMilli(), now.UnixMilli())
	if err != nil {
		return fmt.Errorf("acquiring lease %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var holder string
		_ = s.db.QueryRowContext(ctx, `SELECT owner FROM chain_leases WHERE lease_key = ?`, key).Scan(&holder)
		return fmt.Errorf("%w: %s held by %s", ErrChainBusy, key, holder)
	}
	return nil
}

// ReleaseLease drops the lease if owner still holds it.
func (s *SQLiteStore) ReleaseLease(ctx context.Context, key, owner string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chain_leases WHERE lease_key = ? AND owner = ?`, key, owner)
	if err != nil {
		return fmt.Errorf("releasing lease %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanPattern(row scannable) (*Pattern, error) {
	p := &Pattern{}
	var lastApplied sql.NullTime
	if err := row.Scan(&p.ID, &p.Signature, &p.MatchPredicate, &p.Strategy,
		&p.SuccessCount, &p.FailureCount, &lastApplied, &p.CreatedAt); err != nil {
		return nil, err
	}
	if lastApplied.Valid {
		p.LastAppliedAt = lastApplied.Time
	}
	return p, nil
}

func scanGuide(row scannable) (*Guide, error) {
	g := &Guide{}
	var failures, suggestions string
	if err := row.Scan(&g.ChainID, &g.Iteration, &failures, &suggestions, &g.GeneratedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(failures), &g.Failures); err != nil {
		return nil, fmt.Errorf("decoding failures: %w", err)
	}
	if err := json.Unmarshal([]byte(suggestions), &g.SuggestedPatterns); err != nil {
		return nil, fmt.Errorf("decoding suggestions: %w", err)
	}
	return g, nil
}

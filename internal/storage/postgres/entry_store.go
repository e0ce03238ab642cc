package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/newswatch/internal/crawler"
)

// insertChunk keeps each INSERT well below the 65535 parameter limit.
const insertChunk = 500

const entryColumns = `site, section, link, title, content, publish_date, processing_state,
	keywords, candidates, snapshot_uri, created_at, updated_at`

// EntryStore implements crawler.EntryStore. Link uniqueness is enforced by
// the primary key, so concurrent writers of the same article are harmless.
type EntryStore struct {
	pool  Pool
	table string
}

// NewEntryStore wraps pool. table defaults to "entries".
func NewEntryStore(pool Pool, table string) (*EntryStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &EntryStore{pool: pool, table: name}, nil
}

// Ping checks connectivity.
func (s *EntryStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// FindLatest returns the target's entry with the newest publish date.
func (s *EntryStore) FindLatest(ctx context.Context, target crawler.CrawlTarget) (crawler.Entry, bool, error) {
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE site = $1 AND section = $2
ORDER BY publish_date DESC, link DESC
LIMIT 1`, entryColumns, s.table)
	e, err := scanEntry(s.pool.QueryRow(ctx, query, target.SiteURL, target.SectionPath))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Entry{}, false, nil
	}
	if err != nil {
		return crawler.Entry{}, false, fmt.Errorf("find latest entry: %w", err)
	}
	return e, true, nil
}

// UpsertMany inserts entries whose link is new and returns how many were inserted.
func (s *EntryStore) UpsertMany(ctx context.Context, entries []crawler.Entry) (int, error) {
	inserted := 0
	for start := 0; start < len(entries); start += insertChunk {
		end := min(start+insertChunk, len(entries))
		n, err := s.insert(ctx, entries[start:end])
		if err != nil {
			return inserted, err
		}
		inserted += n
	}
	return inserted, nil
}

func (s *EntryStore) insert(ctx context.Context, entries []crawler.Entry) (int, error) {
	const cols = 12
	var values strings.Builder
	args := make([]any, 0, len(entries)*cols)
	for i, e := range entries {
		candidates, err := encodeCandidates(e.Candidates)
		if err != nil {
			return 0, err
		}
		if i > 0 {
			values.WriteString(",\n")
		}
		values.WriteString("(")
		for c := 1; c <= cols; c++ {
			if c > 1 {
				values.WriteString(",")
			}
			fmt.Fprintf(&values, "$%d", i*cols+c)
		}
		values.WriteString(")")
		args = append(args,
			e.Site,
			e.Section,
			e.Link,
			e.Title,
			e.Content,
			e.PublishDate,
			int16(e.State),
			keywordsArg(e.Keywords),
			candidates,
			e.SnapshotURI,
			e.CreatedAt,
			e.UpdatedAt,
		)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (%s)
VALUES
%s
ON CONFLICT (link) DO NOTHING`, s.table, entryColumns, values.String())
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("insert entries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// FindByState returns up to limit entries in state, oldest publish date first.
func (s *EntryStore) FindByState(ctx context.Context, state crawler.ProcessingState, limit int) ([]crawler.Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE processing_state = $1
ORDER BY publish_date ASC, link ASC
LIMIT $2`, entryColumns, s.table)
	rows, err := s.pool.Query(ctx, query, int16(state), limit)
	if err != nil {
		return nil, fmt.Errorf("find entries by state: %w", err)
	}
	defer rows.Close()

	var out []crawler.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return out, nil
}

// UpdateState moves link from one state to the next. The row must still be
// in from, otherwise crawler.ErrStateConflict is returned.
func (s *EntryStore) UpdateState(
	ctx context.Context,
	link string,
	from, to crawler.ProcessingState,
	patch crawler.EntryPatch,
) error {
	if err := crawler.ValidateTransition(from, to); err != nil {
		return err
	}
	var candidates any
	if patch.Candidates != nil {
		encoded, err := encodeCandidates(patch.Candidates)
		if err != nil {
			return err
		}
		candidates = encoded
	}
	query := fmt.Sprintf(`
UPDATE %s
SET processing_state = $3,
	keywords = COALESCE($4::text[], keywords),
	candidates = COALESCE($5::jsonb, candidates),
	updated_at = now()
WHERE link = $1 AND processing_state = $2`, s.table)
	tag, err := s.pool.Exec(ctx, query, link, int16(from), int16(to), keywordsArg(patch.Keywords), candidates)
	if err != nil {
		return fmt.Errorf("update entry state: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	existsQuery := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE link = $1)`, s.table)
	if err := s.pool.QueryRow(ctx, existsQuery, link).Scan(&exists); err != nil {
		return fmt.Errorf("check entry: %w", err)
	}
	if !exists {
		return crawler.ErrNotFound
	}
	return crawler.ErrStateConflict
}

func scanEntry(row pgx.Row) (crawler.Entry, error) {
	var (
		e          crawler.Entry
		state      int16
		candidates []byte
	)
	if err := row.Scan(
		&e.Site,
		&e.Section,
		&e.Link,
		&e.Title,
		&e.Content,
		&e.PublishDate,
		&state,
		&e.Keywords,
		&candidates,
		&e.SnapshotURI,
		&e.CreatedAt,
		&e.UpdatedAt,
	); err != nil {
		return crawler.Entry{}, err
	}
	parsed, err := crawler.ParseProcessingState(int(state))
	if err != nil {
		return crawler.Entry{}, err
	}
	e.State = parsed
	if len(candidates) > 0 {
		if err := json.Unmarshal(candidates, &e.Candidates); err != nil {
			return crawler.Entry{}, fmt.Errorf("decode candidates of %s: %w", e.Link, err)
		}
	}
	return e, nil
}

func encodeCandidates(c []crawler.Candidate) ([]byte, error) {
	if c == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode candidates: %w", err)
	}
	return encoded, nil
}

func keywordsArg(k []string) any {
	if k == nil {
		return nil
	}
	return k
}

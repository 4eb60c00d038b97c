package rollout

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ehrlich-b/coded/internal/resume"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Index is the modernc.org/sqlite-backed conversation index described in
// SPEC_FULL.md's domain stack table: list_conversations becomes a real SQL
// query, rebuilt from the JSONL files (the durable source of truth) when
// missing or stale, the same spirit as the teacher's history.Store
// rebuilding from files on disk.
type Index struct {
	db *sql.DB
}

// OpenIndex opens (creating if needed) the sqlite index at
// codeHome/sessions/index.db and applies pending migrations.
func OpenIndex(codeHome string) (*Index, error) {
	dir := filepath.Join(codeHome, "sessions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("rollout: create sessions dir: %w", err)
	}
	dsn := filepath.Join(dir, "index.db")
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("rollout: open index: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("rollout: set WAL mode: %w", err)
	}
	idx := &Index{db: db}
	if err := idx.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *Index) Close() error { return idx.db.Close() }

func (idx *Index) migrate() error {
	if _, err := idx.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("rollout: create migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("rollout: read migrations: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		var applied int
		if err := idx.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", f).Scan(&applied); err != nil {
			return fmt.Errorf("rollout: check migration %s: %w", f, err)
		}
		if applied > 0 {
			continue
		}
		content, err := migrationsFS.ReadFile("migrations/" + f)
		if err != nil {
			return fmt.Errorf("rollout: read migration %s: %w", f, err)
		}
		tx, err := idx.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("rollout: apply migration %s: %w", f, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", f); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// Upsert records (or refreshes) one conversation's index row.
func (idx *Index) Upsert(ctx context.Context, path, conversationID string, source Source, day time.Time, preview string) error {
	_, err := idx.db.ExecContext(ctx, `
		INSERT INTO conversations (path, conversation_id, source, day, preview, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			conversation_id=excluded.conversation_id,
			source=excluded.source,
			day=excluded.day,
			preview=excluded.preview,
			updated_at=excluded.updated_at
	`, path, conversationID, string(source), day.Format("2006-01-02"), preview, time.Now())
	return err
}

// Remove drops a conversation's row, e.g. after housekeeping prunes it.
func (idx *Index) Remove(ctx context.Context, path string) error {
	_, err := idx.db.ExecContext(ctx, "DELETE FROM conversations WHERE path = ?", path)
	return err
}

// Rebuild walks codeHome/sessions for rollout-*.jsonl files and
// (re-)populates the index from their head records. Called when the index
// is missing or suspected stale, mirroring the teacher's rebuild-from-files
// fallback.
func (idx *Index) Rebuild(ctx context.Context, codeHome string) error {
	root := filepath.Join(codeHome, "sessions")
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() || !strings.HasPrefix(d.Name(), "rollout-") || !strings.HasSuffix(d.Name(), ".jsonl") {
			return nil
		}
		head, readErr := ReadHead(path, 10)
		if readErr != nil {
			return nil
		}
		conversationID := ""
		source := SourceInteractive
		preview := "(no message yet)"
		for _, rec := range head {
			if rec.Type == RecordSessionMeta {
				var meta SessionMetaPayload
				if err := json.Unmarshal(rec.Payload, &meta); err == nil {
					conversationID = meta.ConversationID
					source = meta.Source
				}
			}
		}
		info, statErr := d.Info()
		day := time.Now()
		if statErr == nil {
			day = info.ModTime()
		}
		return idx.Upsert(ctx, path, conversationID, source, day, preview)
	})
}

// Filtered returns a resume.Source view of idx restricted to sources
// (empty means all sources), matching "the picker passes an allow-list".
func (idx *Index) Filtered(sources ...Source) resume.Source {
	return &indexSource{idx: idx, sources: sources}
}

type indexSource struct {
	idx     *Index
	sources []Source
}

// ListConversations implements resume.Source, paginating descending by
// path with an opaque cursor = last path seen.
func (s *indexSource) ListConversations(ctx context.Context, pageSize int, cursor string) (resume.Page, error) {
	query := strings.Builder{}
	query.WriteString("SELECT path, preview, updated_at FROM conversations WHERE 1=1")
	args := []any{}
	if cursor != "" {
		query.WriteString(" AND path < ?")
		args = append(args, cursor)
	}
	if len(s.sources) > 0 {
		placeholders := make([]string, len(s.sources))
		for i, src := range s.sources {
			placeholders[i] = "?"
			args = append(args, string(src))
		}
		query.WriteString(" AND source IN (" + strings.Join(placeholders, ",") + ")")
	}
	query.WriteString(" ORDER BY path DESC LIMIT ?")
	args = append(args, pageSize+1)

	rows, err := s.idx.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return resume.Page{}, err
	}
	defer rows.Close()

	var out []resume.Row
	for rows.Next() {
		var path, preview string
		var updatedAt time.Time
		if err := rows.Scan(&path, &preview, &updatedAt); err != nil {
			return resume.Page{}, err
		}
		ts := updatedAt
		out = append(out, resume.Row{Path: path, Preview: preview, Ts: &ts})
	}
	if err := rows.Err(); err != nil {
		return resume.Page{}, err
	}

	page := resume.Page{NumScannedFiles: len(out)}
	if len(out) > pageSize {
		page.NextCursor = out[pageSize-1].Path
		out = out[:pageSize]
	}
	page.Rows = out
	return page, nil
}

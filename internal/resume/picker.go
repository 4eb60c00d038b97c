// Package resume implements the paginated, filterable conversation
// picker: load conversation summaries page by page, filter by a live
// search query, and load further pages as the user scrolls or searches
// (each load runs synchronously on the caller's goroutine), until a
// page-source scan cap is hit.
//
// Grounded on code-rs/tui/src/resume_picker.rs's PickerState
// (PAGE_SIZE=25, LOAD_NEAR_THRESHOLD=5, ingest_page/apply_filter/
// load_more_if_needed/continue_search_if_needed) and preview_from_head's
// head-record scanning, with all terminal rendering stripped since the
// TUI layer is out of scope here.
package resume

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	// PageSize is the number of conversations requested per page.
	PageSize = 25
	// LoadNearThreshold triggers a fetch of the next page once at
	// most this many filtered rows remain below the current
	// selection.
	LoadNearThreshold = 5
)

// Row is one conversation summary shown in the picker.
type Row struct {
	Path    string
	Preview string
	Ts      *time.Time
}

// Page is one page of conversations returned by a Source.
type Page struct {
	Rows             []Row
	NextCursor       string // empty means no further pages
	NumScannedFiles  int
	ReachedScanCap   bool
}

// Source loads conversation pages, e.g. backed by internal/rollout's
// sqlite index.
type Source interface {
	ListConversations(ctx context.Context, pageSize int, cursor string) (Page, error)
}

// Picker holds picker state: the full and filtered row sets, pagination
// progress, and the live search query. It has no terminal dependency —
// callers drive it via LoadInitial/SetQuery/MoveSelection and read
// FilteredRows/Selected for display.
type Picker struct {
	source Source

	mu             sync.Mutex
	nextCursor     string
	haveCursor     bool
	numScanned     int
	reachedScanCap bool
	loading        bool

	allRows      []Row
	filteredRows []Row
	seenPaths    map[string]bool

	selected int
	query    string

	searchActive bool
}

// NewPicker returns a picker that loads pages from source.
func NewPicker(source Source) *Picker {
	return &Picker{source: source, seenPaths: make(map[string]bool)}
}

// LoadInitial fetches the first page and resets all state, matching
// load_initial_page.
func (p *Picker) LoadInitial(ctx context.Context) error {
	page, err := p.source.ListConversations(ctx, PageSize, "")
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.resetPaginationLocked()
	p.allRows = nil
	p.filteredRows = nil
	p.seenPaths = make(map[string]bool)
	p.searchActive = false
	p.selected = 0
	p.mu.Unlock()

	p.ingestPage(page)
	return nil
}

func (p *Picker) resetPaginationLocked() {
	p.nextCursor = ""
	p.haveCursor = false
	p.numScanned = 0
	p.reachedScanCap = false
	p.loading = false
}

// ingestPage merges page into allRows (deduping by path), advances
// pagination bookkeeping, and re-applies the current filter.
func (p *Picker) ingestPage(page Page) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if page.NextCursor != "" {
		p.nextCursor = page.NextCursor
		p.haveCursor = true
	} else {
		p.haveCursor = false
	}
	p.numScanned += page.NumScannedFiles
	if page.ReachedScanCap {
		p.reachedScanCap = true
	}

	for _, row := range page.Rows {
		if !p.seenPaths[row.Path] {
			p.seenPaths[row.Path] = true
			p.allRows = append(p.allRows, row)
		}
	}

	p.applyFilterLocked()
	p.loading = false
}

// applyFilterLocked recomputes filteredRows from allRows and query,
// clamping selected into range, matching apply_filter.
func (p *Picker) applyFilterLocked() {
	if p.query == "" {
		p.filteredRows = append([]Row(nil), p.allRows...)
	} else {
		q := strings.ToLower(p.query)
		p.filteredRows = p.filteredRows[:0]
		for _, r := range p.allRows {
			if strings.Contains(strings.ToLower(r.Preview), q) {
				p.filteredRows = append(p.filteredRows, r)
			}
		}
	}
	if p.selected >= len(p.filteredRows) {
		if len(p.filteredRows) == 0 {
			p.selected = 0
		} else {
			p.selected = len(p.filteredRows) - 1
		}
	}
}

// SetQuery updates the live search filter. If the filter produces no
// rows and more pages remain, it keeps loading pages before returning
// until results appear or the scan cap is hit, matching
// set_query / continue_search_if_needed.
func (p *Picker) SetQuery(ctx context.Context, query string) {
	p.mu.Lock()
	if p.query == query {
		p.mu.Unlock()
		return
	}
	p.query = query
	p.selected = 0
	p.applyFilterLocked()
	needsMore := len(p.filteredRows) == 0 && !p.reachedScanCap && p.haveCursor && query != ""
	p.searchActive = needsMore
	p.mu.Unlock()

	if needsMore {
		p.continueSearch(ctx)
	}
}

// continueSearch repeatedly loads the next page while a search is
// active and still returning no matches, matching
// continue_search_if_needed's loop-via-background-event shape
// collapsed into a synchronous loop (no TUI frame scheduling to defer
// to here).
func (p *Picker) continueSearch(ctx context.Context) {
	for {
		p.mu.Lock()
		active := p.searchActive
		hasMore := p.haveCursor && !p.reachedScanCap
		p.mu.Unlock()
		if !active || !hasMore {
			return
		}

		if err := p.loadMore(ctx); err != nil {
			return
		}

		p.mu.Lock()
		stillEmpty := len(p.filteredRows) == 0
		if !stillEmpty {
			p.searchActive = false
		}
		p.mu.Unlock()
		if stillEmpty {
			continue
		}
		return
	}
}

// MaybeLoadMoreForScroll loads the next page before returning once
// the selection is within LoadNearThreshold rows of the end of the
// filtered list, matching maybe_load_more_for_scroll.
func (p *Picker) MaybeLoadMoreForScroll(ctx context.Context) {
	p.mu.Lock()
	if p.loading || !p.haveCursor || len(p.filteredRows) == 0 {
		p.mu.Unlock()
		return
	}
	remaining := len(p.filteredRows) - (p.selected + 1)
	shouldLoad := remaining <= LoadNearThreshold
	p.mu.Unlock()
	if shouldLoad {
		_ = p.loadMore(ctx)
	}
}

// loadMore fetches the next page using the current cursor.
func (p *Picker) loadMore(ctx context.Context) error {
	p.mu.Lock()
	if p.loading || !p.haveCursor {
		p.mu.Unlock()
		return nil
	}
	cursor := p.nextCursor
	p.loading = true
	p.mu.Unlock()

	page, err := p.source.ListConversations(ctx, PageSize, cursor)
	if err != nil {
		p.mu.Lock()
		p.loading = false
		p.mu.Unlock()
		return err
	}
	p.ingestPage(page)
	return nil
}

// MoveSelection shifts the selected row by delta, clamped to range,
// then loads the next page (via MaybeLoadMoreForScroll) if near the end.
func (p *Picker) MoveSelection(ctx context.Context, delta int) {
	p.mu.Lock()
	n := len(p.filteredRows)
	if n == 0 {
		p.mu.Unlock()
		return
	}
	next := p.selected + delta
	if next < 0 {
		next = 0
	}
	if next >= n {
		next = n - 1
	}
	p.selected = next
	p.mu.Unlock()

	p.MaybeLoadMoreForScroll(ctx)
}

// FilteredRows returns a snapshot of the currently visible rows.
func (p *Picker) FilteredRows() []Row {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Row(nil), p.filteredRows...)
}

// Selected returns the index of the currently selected row, or -1 if
// there are no rows.
func (p *Picker) Selected() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.filteredRows) == 0 {
		return -1
	}
	return p.selected
}

// SelectedPath returns the path of the currently selected row, or
// ok=false if there are no rows.
func (p *Picker) SelectedPath() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.selected < 0 || p.selected >= len(p.filteredRows) {
		return "", false
	}
	return p.filteredRows[p.selected].Path, true
}

// PreviewFromHead extracts the first real user message from a
// conversation's head records (raw JSON-decoded message texts, caller
// already filtered to role=="user" plain-text content), trimming and
// falling back to a placeholder, matching preview_from_head /
// head_to_row.
func PreviewFromHead(userTexts []string) string {
	for _, text := range userTexts {
		trimmed := strings.TrimSpace(text)
		if trimmed != "" {
			return trimmed
		}
	}
	return "(no message yet)"
}

// RowFromHead builds a Row from a rollout file's path, its decoded
// head-record user texts, and an optional parsed timestamp.
func RowFromHead(path string, userTexts []string, ts *time.Time) Row {
	return Row{
		Path:    path,
		Preview: PreviewFromHead(userTexts),
		Ts:      ts,
	}
}

// DisplayName renders path's base name for a compact listing.
func DisplayName(path string) string {
	return filepath.Base(path)
}

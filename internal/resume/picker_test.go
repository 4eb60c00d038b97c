package resume

import (
	"context"
	"fmt"
	"testing"
)

type fakeSource struct {
	pages map[string]Page
}

func (f *fakeSource) ListConversations(_ context.Context, _ int, cursor string) (Page, error) {
	page, ok := f.pages[cursor]
	if !ok {
		return Page{}, fmt.Errorf("no page for cursor %q", cursor)
	}
	return page, nil
}

func TestPickerLoadInitialAndFilter(t *testing.T) {
	src := &fakeSource{pages: map[string]Page{
		"": {
			Rows: []Row{
				{Path: "/a", Preview: "fix the bug"},
				{Path: "/b", Preview: "add a feature"},
			},
		},
	}}
	p := NewPicker(src)
	if err := p.LoadInitial(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(p.FilteredRows()) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(p.FilteredRows()))
	}

	p.SetQuery(context.Background(), "bug")
	rows := p.FilteredRows()
	if len(rows) != 1 || rows[0].Path != "/a" {
		t.Fatalf("expected filtered to /a, got %v", rows)
	}
}

func TestPickerContinuesSearchAcrossPagesUntilMatchOrCap(t *testing.T) {
	src := &fakeSource{pages: map[string]Page{
		"": {
			Rows:       []Row{{Path: "/a", Preview: "nothing relevant"}},
			NextCursor: "p2",
		},
		"p2": {
			Rows:       []Row{{Path: "/b", Preview: "target phrase here"}},
			NextCursor: "",
		},
	}}
	p := NewPicker(src)
	if err := p.LoadInitial(context.Background()); err != nil {
		t.Fatal(err)
	}

	p.SetQuery(context.Background(), "target")
	rows := p.FilteredRows()
	if len(rows) != 1 || rows[0].Path != "/b" {
		t.Fatalf("expected search to continue into next page and find /b, got %v", rows)
	}
}

func TestPickerMoveSelectionClampsToRange(t *testing.T) {
	src := &fakeSource{pages: map[string]Page{
		"": {Rows: []Row{{Path: "/a"}, {Path: "/b"}}},
	}}
	p := NewPicker(src)
	if err := p.LoadInitial(context.Background()); err != nil {
		t.Fatal(err)
	}
	p.MoveSelection(context.Background(), -5)
	if p.Selected() != 0 {
		t.Fatalf("expected clamp to 0, got %d", p.Selected())
	}
	p.MoveSelection(context.Background(), 5)
	if p.Selected() != 1 {
		t.Fatalf("expected clamp to last row, got %d", p.Selected())
	}
}

func TestPreviewFromHeadFallsBackWhenEmpty(t *testing.T) {
	if got := PreviewFromHead(nil); got != "(no message yet)" {
		t.Fatalf("got %q", got)
	}
	if got := PreviewFromHead([]string{"  ", "hello"}); got != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestPickerDedupesRowsByPath(t *testing.T) {
	src := &fakeSource{pages: map[string]Page{
		"": {Rows: []Row{{Path: "/a"}, {Path: "/a"}}},
	}}
	p := NewPicker(src)
	if err := p.LoadInitial(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(p.FilteredRows()) != 1 {
		t.Fatalf("expected dedup to 1 row, got %d", len(p.FilteredRows()))
	}
}

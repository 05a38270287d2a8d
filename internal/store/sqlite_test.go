package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/starford/kilnd/internal/block"
	"github.com/starford/kilnd/internal/parser"
	"github.com/starford/kilnd/internal/txn"
)

func testStore(t *testing.T) *SQLite {
	t.Helper()
	f, err := os.CreateTemp("", "kilnd-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	s, err := Open(f.Name(), 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func noteChange(t *testing.T, path, checksum, markdown string) *txn.NoteChange {
	t.Helper()
	res, err := parser.Parse([]byte(markdown))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	tree := block.NewTree(block.AssignHierarchy(path, res.Blocks))
	return &txn.NoteChange{
		Path:      path,
		Checksum:  checksum,
		Title:     res.Title,
		Tags:      res.Tags,
		Links:     res.Links,
		Blocks:    tree.Blocks,
		UpdatedAt: time.Now().UTC(),
	}
}

func TestApply_CreateAndReadBack(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	n := noteChange(t, "hello.md", "cs-1", "# Hello\n\nWorld paragraph.\n")
	if err := s.Apply(ctx, txn.NewCreate("/kiln", n)); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	cs, err := s.FileChecksum("hello.md")
	if err != nil {
		t.Fatalf("FileChecksum: %v", err)
	}
	if cs != "cs-1" {
		t.Errorf("checksum = %q, want cs-1", cs)
	}

	blocks, err := s.BlockHashes("hello.md")
	if err != nil {
		t.Fatalf("BlockHashes: %v", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("len(blocks) = %d, want 2", len(blocks))
	}
	for i := range blocks {
		if blocks[i].ID != n.Blocks[i].ID {
			t.Errorf("block %d: id mismatch, document order not preserved", i)
		}
		if blocks[i].ContentHash != n.Blocks[i].ContentHash {
			t.Errorf("block %d: content hash not round-tripped", i)
		}
		if blocks[i].SubtreeHash != n.Blocks[i].SubtreeHash {
			t.Errorf("block %d: subtree hash not round-tripped", i)
		}
	}
	if blocks[1].ParentID != blocks[0].ID {
		t.Errorf("hierarchy not round-tripped: paragraph parent = %q", blocks[1].ParentID)
	}
}

func TestApply_UpdateReplacesBlocks(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_ = s.Apply(ctx, txn.NewCreate("/kiln", noteChange(t, "n.md", "cs-1", "# H\n\none\n\ntwo\n")))

	updated := noteChange(t, "n.md", "cs-2", "# H\n\none\n")
	if err := s.Apply(ctx, txn.NewUpdate("/kiln", updated)); err != nil {
		t.Fatalf("Apply update: %v", err)
	}

	blocks, _ := s.BlockHashes("n.md")
	if len(blocks) != 2 {
		t.Errorf("len(blocks) = %d after shrinking update, want 2", len(blocks))
	}
	cs, _ := s.FileChecksum("n.md")
	if cs != "cs-2" {
		t.Errorf("checksum = %q, want cs-2", cs)
	}
}

func TestApply_Delete(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_ = s.Apply(ctx, txn.NewCreate("/kiln", noteChange(t, "gone.md", "cs", "# X\n\nbody\n")))
	if err := s.Apply(ctx, txn.NewDelete("/kiln", "gone.md")); err != nil {
		t.Fatalf("Apply delete: %v", err)
	}

	cs, _ := s.FileChecksum("gone.md")
	if cs != "" {
		t.Errorf("checksum after delete = %q, want empty", cs)
	}
	blocks, _ := s.BlockHashes("gone.md")
	if len(blocks) != 0 {
		t.Errorf("blocks after delete = %d, want 0", len(blocks))
	}
}

func TestApply_BatchIsAtomic(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	bad := txn.NewCreate("/kiln", nil) // invalid payload poisons the batch
	good := txn.NewCreate("/kiln", noteChange(t, "ok.md", "cs", "# OK\n"))

	err := s.Apply(ctx, txn.NewBatch("/kiln", []txn.Transaction{good, bad}))
	if err == nil {
		t.Fatal("expected error from poisoned batch")
	}

	cs, _ := s.FileChecksum("ok.md")
	if cs != "" {
		t.Errorf("batch was not rolled back: found checksum %q", cs)
	}
}

func TestAllChecksums(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_ = s.Apply(ctx, txn.NewCreate("/kiln", noteChange(t, "a.md", "cs-a", "# A\n")))
	_ = s.Apply(ctx, txn.NewCreate("/kiln", noteChange(t, "b.md", "cs-b", "# B\n")))

	all, err := s.AllChecksums()
	if err != nil {
		t.Fatalf("AllChecksums: %v", err)
	}
	if len(all) != 2 || all["a.md"] != "cs-a" || all["b.md"] != "cs-b" {
		t.Errorf("all checksums = %v", all)
	}
}

func TestSearch_FindsBlockText(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_ = s.Apply(ctx, txn.NewCreate("/kiln", noteChange(t, "s.md", "cs", "# Title\n\nxenomorph sighting\n")))

	hits, err := s.Search(ctx, "xenomorph", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].Path != "s.md" {
		t.Fatalf("hits = %+v, want one hit in s.md", hits)
	}
}

func TestFileChecksum_NotFound(t *testing.T) {
	s := testStore(t)
	cs, err := s.FileChecksum("missing.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cs != "" {
		t.Errorf("checksum = %q, want empty", cs)
	}
}

func TestFileChecksum_FailedLookupIsAnError(t *testing.T) {
	s := testStore(t)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// A broken backend must surface as an error, not as "never indexed":
	// the pipeline treats an empty checksum as a missing note.
	if _, err := s.FileChecksum("note.md"); err == nil {
		t.Fatal("expected error from a closed backend")
	}
}

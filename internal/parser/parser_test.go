package parser

import (
	"testing"
)

func TestParse_FrontmatterAndBody(t *testing.T) {
	input := []byte("---\ntitle: Hello\ntags:\n  - go\n  - notes\n---\n# Hello\nBody text.\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Title != "Hello" {
		t.Errorf("title = %q, want %q", r.Title, "Hello")
	}
	if len(r.Tags) < 2 || r.Tags[0] != "go" || r.Tags[1] != "notes" {
		t.Errorf("tags = %v, want [go notes]", r.Tags)
	}
	if r.Body != "# Hello\nBody text.\n" {
		t.Errorf("body = %q", r.Body)
	}
}

func TestParse_NoFrontmatter(t *testing.T) {
	input := []byte("# Just a heading\nSome text.\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Frontmatter != nil {
		t.Errorf("expected nil frontmatter, got %v", r.Frontmatter)
	}
	if r.Title != "Just a heading" {
		t.Errorf("title = %q, want %q", r.Title, "Just a heading")
	}
}

func TestParse_InvalidYAMLFallback(t *testing.T) {
	input := []byte("---\n: invalid: yaml: {{{\n---\nBody\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Invalid YAML falls back to treating everything as body.
	if r.Frontmatter != nil {
		t.Errorf("expected nil frontmatter on invalid YAML")
	}
}

func TestExtractLinks_Basic(t *testing.T) {
	body := "See [[Note A]] and [[Note B|alias]].\nAlso [[Note A]] again."
	links := extractLinks(body)
	if len(links) != 2 {
		t.Fatalf("len(links) = %d, want 2", len(links))
	}
	if links[0] != "Note A" || links[1] != "Note B" {
		t.Errorf("links = %v", links)
	}
}

func TestSegment_HeadingsAndParagraphs(t *testing.T) {
	body := "# Title\n\nFirst paragraph\nstill first.\n\n## Section\n\nSecond paragraph.\n"
	blocks := segment(body)

	if len(blocks) != 4 {
		t.Fatalf("len(blocks) = %d, want 4: %+v", len(blocks), blocks)
	}
	if blocks[0].HeadingLevel != 1 || blocks[0].Text != "# Title" {
		t.Errorf("block 0 = %+v, want H1", blocks[0])
	}
	if blocks[1].HeadingLevel != 0 || blocks[1].Text != "First paragraph\nstill first." {
		t.Errorf("block 1 = %+v, want wrapped paragraph", blocks[1])
	}
	if blocks[2].HeadingLevel != 2 {
		t.Errorf("block 2 = %+v, want H2", blocks[2])
	}
}

func TestSegment_FencedCodeIsOneBlock(t *testing.T) {
	body := "# H\n\n```go\nfunc main() {}\n\n// blank line above stays inside\n```\n\nafter\n"
	blocks := segment(body)

	if len(blocks) != 3 {
		t.Fatalf("len(blocks) = %d, want 3: %+v", len(blocks), blocks)
	}
	code := blocks[1]
	if code.HeadingLevel != 0 {
		t.Errorf("code block must not carry a heading level")
	}
	if code.Text != "```go\nfunc main() {}\n\n// blank line above stays inside\n```" {
		t.Errorf("code block = %q", code.Text)
	}
}

func TestSegment_HashInsideCodeIsNotAHeading(t *testing.T) {
	body := "```sh\n# not a heading\n```\n"
	blocks := segment(body)
	if len(blocks) != 1 {
		t.Fatalf("len(blocks) = %d, want 1", len(blocks))
	}
	if blocks[0].HeadingLevel != 0 {
		t.Errorf("comment inside fence was parsed as a heading")
	}
}

func TestSegment_ListRunIsOneBlock(t *testing.T) {
	body := "- one\n- two\n- three\n\n- separate\n"
	blocks := segment(body)
	if len(blocks) != 2 {
		t.Fatalf("len(blocks) = %d, want 2: %+v", len(blocks), blocks)
	}
}

func TestSegment_UnterminatedFence(t *testing.T) {
	body := "```\nleft open\n"
	blocks := segment(body)
	if len(blocks) != 1 {
		t.Fatalf("len(blocks) = %d, want 1", len(blocks))
	}
}

func TestSegment_Deterministic(t *testing.T) {
	body := "# A\n\npara one\n\n## B\n\npara two\n"
	first := segment(body)
	second := segment(body)
	if len(first) != len(second) {
		t.Fatal("segmentation is not deterministic")
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("block %d differs across runs", i)
		}
	}
}

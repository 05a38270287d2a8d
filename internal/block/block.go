// Package block implements the content-addressed block model: heading-derived
// hierarchy assignment, per-subtree combined hashes, and the diff engine that
// finds the minimal changed set between two versions of a note.
package block

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/starford/kilnd/internal/checksum"
)

// Raw is a parsed block as produced by the markdown parser, before any
// hierarchy has been assigned.
type Raw struct {
	Text         string
	HeadingLevel int // 1 = H1, 0 = non-heading content
}

// Block is one content-addressed unit of note text. ContentHash depends on
// the normalized text only, never on the block's position. ParentID, Depth
// and Order are derived by AssignHierarchy.
type Block struct {
	ID           string
	Text         string
	ContentHash  string
	HeadingLevel int    // 0 for content blocks
	ParentID     string // empty for roots
	Depth        int
	Order        int // sibling order under ParentID
	SubtreeHash  string
}

// IsHeading reports whether the block is a heading.
func (b *Block) IsHeading() bool { return b.HeadingLevel > 0 }

// AssignHierarchy turns a flat, ordered block sequence into a forest using a
// stack of open headings:
//
//   - a heading of level L pops every stack entry with level >= L, attaches
//     to the new top (or becomes a root), then pushes itself;
//   - content attaches to the current top (or becomes a root) and pushes
//     nothing.
//
// Depth is the stack length after popping, so a skipped level (H1 then H3)
// attaches the H3 directly under the H1 at depth 1. The block ID is derived
// from the note path, the enclosing heading chain, and the sibling ordinal,
// which keeps identity stable across runs and independent of edits to the
// block's own body text.
func AssignHierarchy(notePath string, raws []Raw) []Block {
	type openHeading struct {
		level int
		id    string
		text  string
	}

	blocks := make([]Block, 0, len(raws))
	var stack []openHeading

	// Sibling ordinals, keyed by parent ID + identity key, so two blocks
	// with the same heading chain still get distinct IDs.
	ordinals := make(map[string]int)

	headingChain := func() string {
		parts := make([]string, len(stack))
		for i, h := range stack {
			parts[i] = h.text
		}
		return strings.Join(parts, "\x1f")
	}

	for _, raw := range raws {
		b := Block{
			Text:         raw.Text,
			HeadingLevel: raw.HeadingLevel,
			ContentHash:  checksum.Text(raw.Text),
		}

		if raw.HeadingLevel > 0 {
			for len(stack) > 0 && stack[len(stack)-1].level >= raw.HeadingLevel {
				stack = stack[:len(stack)-1]
			}
			if len(stack) > 0 {
				b.ParentID = stack[len(stack)-1].id
			}
			b.Depth = len(stack)

			normalized := strings.Join(strings.Fields(raw.Text), " ")
			key := b.ParentID + "\x00h\x00" + headingChain() + "\x1f" + normalized
			b.Order = ordinals[key]
			ordinals[key]++
			b.ID = deriveID(notePath, key, b.Order)

			stack = append(stack, openHeading{level: raw.HeadingLevel, id: b.ID, text: normalized})
		} else {
			if len(stack) > 0 {
				b.ParentID = stack[len(stack)-1].id
			}
			b.Depth = len(stack)

			key := b.ParentID + "\x00c\x00" + headingChain()
			b.Order = ordinals[key]
			ordinals[key]++
			b.ID = deriveID(notePath, key, b.Order)
		}

		blocks = append(blocks, b)
	}

	return blocks
}

// deriveID returns a stable block identity for (note, position key, ordinal).
func deriveID(notePath, key string, ordinal int) string {
	h := sha256.Sum256([]byte(notePath + "\x00" + key + "\x00" + strconv.Itoa(ordinal)))
	return hex.EncodeToString(h[:16])
}

// Tree is an ordered forest of blocks for one note. Every node carries a
// combined subtree hash (its own content hash plus its children's combined
// hashes, in order), which lets the diff engine prune unchanged subtrees
// without visiting them.
type Tree struct {
	Blocks []Block // document order

	byID     map[string]int
	children map[string][]int // parent ID -> indices in Blocks, in order
	roots    []int
}

// NewTree builds a Tree from hierarchy-assigned blocks and computes the
// combined subtree hashes.
func NewTree(blocks []Block) *Tree {
	t := &Tree{
		Blocks:   blocks,
		byID:     make(map[string]int, len(blocks)),
		children: make(map[string][]int),
	}
	for i := range blocks {
		t.byID[blocks[i].ID] = i
		if blocks[i].ParentID == "" {
			t.roots = append(t.roots, i)
		} else {
			t.children[blocks[i].ParentID] = append(t.children[blocks[i].ParentID], i)
		}
	}
	for _, i := range t.roots {
		t.computeSubtreeHash(i)
	}
	return t
}

// Len returns the number of blocks in the tree.
func (t *Tree) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Blocks)
}

// Lookup returns the block with the given ID, if present.
func (t *Tree) Lookup(id string) (*Block, bool) {
	if t == nil {
		return nil, false
	}
	i, ok := t.byID[id]
	if !ok {
		return nil, false
	}
	return &t.Blocks[i], true
}

func (t *Tree) computeSubtreeHash(i int) string {
	h := sha256.New()
	h.Write([]byte(t.Blocks[i].ContentHash))
	for _, child := range t.children[t.Blocks[i].ID] {
		h.Write([]byte(t.computeSubtreeHash(child)))
	}
	sum := hex.EncodeToString(h.Sum(nil))
	t.Blocks[i].SubtreeHash = sum
	return sum
}

// subtreeSize returns the number of blocks in the subtree rooted at index i,
// including the root itself.
func (t *Tree) subtreeSize(i int) int {
	n := 1
	for _, child := range t.children[t.Blocks[i].ID] {
		n += t.subtreeSize(child)
	}
	return n
}

// markSubtree records every block ID in the subtree rooted at index i.
func (t *Tree) markSubtree(i int, seen map[string]struct{}) {
	seen[t.Blocks[i].ID] = struct{}{}
	for _, child := range t.children[t.Blocks[i].ID] {
		t.markSubtree(child, seen)
	}
}

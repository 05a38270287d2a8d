package block

// ChangedSet is the output of Diff: the minimal set of blocks that differ
// between two versions of a note. Removed entries come from the previous
// tree and carry no text when the previous tree was rebuilt from stored
// hashes.
type ChangedSet struct {
	Added     []Block
	Modified  []Block
	Removed   []Block
	Unchanged int
}

// Empty reports whether no block was added, modified, or removed.
func (c *ChangedSet) Empty() bool {
	return len(c.Added) == 0 && len(c.Modified) == 0 && len(c.Removed) == 0
}

// Len returns the total number of changed blocks.
func (c *ChangedSet) Len() int {
	return len(c.Added) + len(c.Modified) + len(c.Removed)
}

// RestoreTree rebuilds a Tree from previously stored blocks without
// recomputing hashes. The input must be in document order and carry the
// stored content and subtree hashes.
func RestoreTree(blocks []Block) *Tree {
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
	return t
}

// Diff compares the current tree against the previous one and returns the
// changed set. Comparison is top-down over combined subtree hashes: a
// subtree whose combined hash is unchanged is skipped entirely, so the cost
// is proportional to the size of the change rather than the file.
//
// Identity across versions is the stable block ID. A block whose ID has no
// counterpart is added or removed; two different blocks are never merged
// into a "modified" pair.
func Diff(prev, cur *Tree) ChangedSet {
	var set ChangedSet

	if prev.Len() == 0 {
		set.Added = append(set.Added, cur.Blocks...)
		return set
	}

	visited := make(map[string]struct{}, prev.Len())

	var walk func(i int)
	walk = func(i int) {
		b := &cur.Blocks[i]
		pi, ok := prev.byID[b.ID]
		if !ok {
			// Unknown identity: the whole subtree may still contain
			// individually matching children, so only this block is added
			// here and children are walked as usual.
			set.Added = append(set.Added, *b)
			for _, child := range cur.children[b.ID] {
				walk(child)
			}
			return
		}

		p := &prev.Blocks[pi]
		if p.SubtreeHash != "" && p.SubtreeHash == b.SubtreeHash {
			// Nothing changed anywhere below: prune.
			prev.markSubtree(pi, visited)
			set.Unchanged += cur.subtreeSize(i)
			return
		}

		visited[b.ID] = struct{}{}
		if p.ContentHash == b.ContentHash {
			set.Unchanged++
		} else {
			set.Modified = append(set.Modified, *b)
		}
		for _, child := range cur.children[b.ID] {
			walk(child)
		}
	}

	for _, i := range cur.roots {
		walk(i)
	}

	for i := range prev.Blocks {
		if _, ok := visited[prev.Blocks[i].ID]; !ok {
			set.Removed = append(set.Removed, prev.Blocks[i])
		}
	}

	return set
}

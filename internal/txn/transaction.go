// Package txn defines storage transactions, the bounded multi-producer
// queue they travel through, and the single-writer consumer that applies
// them to the storage backend. Exactly one consumer exists per kiln, so the
// backend never observes two concurrent writes for the same kiln.
package txn

import (
	"time"

	"github.com/google/uuid"

	"github.com/starford/kilnd/internal/block"
)

// Op is the transaction variant tag.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
	OpBatch  Op = "batch"
)

// Transaction is one unit of storage mutation. Create/Update carry a Note
// payload, Delete carries the note path, Batch wraps child transactions
// that the backend applies in one call.
type Transaction struct {
	ID       string
	KilnRoot string
	Time     time.Time
	Op       Op

	Note     *NoteChange   // Create, Update
	Path     string        // Delete
	Children []Transaction // Batch
}

// NoteChange is the upsert payload for one note: the full new block tree in
// document order, the IDs of removed blocks to tombstone, and fresh
// embeddings for added/modified blocks only.
type NoteChange struct {
	Path       string
	Checksum   string // new whole-file hash
	Title      string
	Tags       []string
	Links      []string
	Properties map[string]interface{}
	Blocks     []block.Block
	Removed    []string // block IDs present in the previous version only
	Embeddings map[string][]float32
	UpdatedAt  time.Time
}

// NewCreate returns a Create transaction for a note indexed the first time.
func NewCreate(kilnRoot string, note *NoteChange) Transaction {
	return newTx(kilnRoot, OpCreate, note, "")
}

// NewUpdate returns an Update transaction for a re-indexed note.
func NewUpdate(kilnRoot string, note *NoteChange) Transaction {
	return newTx(kilnRoot, OpUpdate, note, "")
}

// NewDelete returns a Delete transaction for a note removed from disk.
func NewDelete(kilnRoot, path string) Transaction {
	return newTx(kilnRoot, OpDelete, nil, path)
}

// NewBatch wraps children into a single Batch transaction.
func NewBatch(kilnRoot string, children []Transaction) Transaction {
	tx := newTx(kilnRoot, OpBatch, nil, "")
	tx.Children = children
	return tx
}

// Size returns the number of leaf transactions, counting through batches.
func (t *Transaction) Size() int {
	if t.Op != OpBatch {
		return 1
	}
	n := 0
	for i := range t.Children {
		n += t.Children[i].Size()
	}
	return n
}

func newTx(kilnRoot string, op Op, note *NoteChange, path string) Transaction {
	return Transaction{
		ID:       uuid.NewString(),
		KilnRoot: kilnRoot,
		Time:     time.Now().UTC(),
		Op:       op,
		Note:     note,
		Path:     path,
	}
}

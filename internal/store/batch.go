package store

import "fmt"

type OpKind string

const (
	OpSet              OpKind = "set"
	OpMerge            OpKind = "merge"
	OpDelete           OpKind = "delete"
	OpDeleteCollection OpKind = "delete_collection"
)

// BatchOp is one write in a Batch. Data is unused for deletes.
type BatchOp struct {
	Kind       OpKind
	Collection Collection
	ID         string
	Data       Document
}

// Batch collects writes that are applied all together or not at all.
type Batch struct {
	ops []BatchOp
}

func (b *Batch) Set(c Collection, doc Document) {
	b.ops = append(b.ops, BatchOp{Kind: OpSet, Collection: c, ID: doc.ID(), Data: doc})
}

func (b *Batch) Merge(c Collection, id string, patch Document) {
	b.ops = append(b.ops, BatchOp{Kind: OpMerge, Collection: c, ID: id, Data: patch})
}

func (b *Batch) Delete(c Collection, id string) {
	b.ops = append(b.ops, BatchOp{Kind: OpDelete, Collection: c, ID: id})
}

func (b *Batch) DeleteCollection(c Collection) {
	b.ops = append(b.ops, BatchOp{Kind: OpDeleteCollection, Collection: c})
}

func (b *Batch) Ops() []BatchOp {
	out := make([]BatchOp, len(b.ops))
	copy(out, b.ops)
	return out
}

func (b *Batch) Len() int {
	return len(b.ops)
}

// Validate rejects ops that could never be applied, before any of them run.
func (b *Batch) Validate() error {
	for i, op := range b.ops {
		if _, ok := ParseCollection(string(op.Collection)); !ok {
			return fmt.Errorf("batch op %d: unknown collection %q", i, op.Collection)
		}
		switch op.Kind {
		case OpSet, OpMerge, OpDelete:
			if op.ID == "" {
				return fmt.Errorf("batch op %d: %s on %s requires an id", i, op.Kind, op.Collection)
			}
		case OpDeleteCollection:
		default:
			return fmt.Errorf("batch op %d: unknown kind %q", i, op.Kind)
		}
	}
	return nil
}

// ApplyToSnapshot runs the batch against an in-memory snapshot and returns the
// result. The input is not modified.
func (b *Batch) ApplyToSnapshot(s Snapshot) (Snapshot, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	out := s.Normalize().Clone()
	for _, op := range b.ops {
		docs := out[op.Collection]
		switch op.Kind {
		case OpDeleteCollection:
			out[op.Collection] = []Document{}
		case OpDelete:
			kept := docs[:0]
			for _, doc := range docs {
				if doc.ID() != op.ID {
					kept = append(kept, doc)
				}
			}
			out[op.Collection] = kept
		case OpSet, OpMerge:
			record := op.Data.Clone()
			record["id"] = op.ID
			found := false
			for i, doc := range docs {
				if doc.ID() != op.ID {
					continue
				}
				found = true
				if op.Kind == OpMerge {
					docs[i] = doc.Merge(record)
				} else {
					docs[i] = record
				}
			}
			if !found {
				out[op.Collection] = append(docs, record)
			}
		}
	}
	return out, nil
}

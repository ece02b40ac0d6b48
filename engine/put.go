package engine

import (
	"bytes"

	"github.com/sikiodb/sikiodb/btree"
	"github.com/sikiodb/sikiodb/storage"
	"github.com/sikiodb/sikiodb/wal"
)

// Put insère ou remplace key/value, durablement (spec.md §4.4).
func (e *Engine) Put(key, value []byte) error {
	if e.readOnly {
		return ErrReadOnly
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.putInternal(key, btree.WrapRaw(value), true)
}

// PutWithTTL insère key/value avec une expiration relative en millisecondes.
func (e *Engine) PutWithTTL(key, value []byte, ttlMillis int64) error {
	if e.readOnly {
		return ErrReadOnly
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	expiry := e.clock.NowMillis() + ttlMillis
	return e.putInternal(key, btree.WrapTTL(value, expiry), true)
}

// PutNoSync insère key/value sans fsync du WAL — échange la durabilité
// contre du débit (spec.md §6).
func (e *Engine) PutNoSync(key, value []byte) error {
	if e.readOnly {
		return ErrReadOnly
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.putInternal(key, btree.WrapRaw(value), false)
}

// putInternal exécute les étapes 1-7 de spec.md §4.4 pour une paire déjà
// enveloppée.
func (e *Engine) putInternal(key, wrapped []byte, sync bool) error {
	if len(key) > MaxKeySize {
		return &KeyTooLargeError{Size: len(key)}
	}
	if len(wrapped) > MaxValueSize {
		return &ValueTooLargeError{Size: len(wrapped)}
	}

	e.walSequence++
	putEntry := wal.Entry{Sequence: e.walSequence, Op: wal.OpPut, Key: key, Value: wrapped}
	e.walSequence++
	commitEntry := wal.Entry{Sequence: e.walSequence, Op: wal.OpCommit}
	if _, err := e.log.Append([]wal.Entry{putEntry, commitEntry}); err != nil {
		return err
	}
	if sync {
		if err := e.log.Flush(); err != nil {
			return err
		}
	}

	if err := e.applyPut(key, wrapped); err != nil {
		return err
	}
	if e.stats != nil {
		e.stats.RecordWrite(uint64(len(wrapped)))
	}
	return e.maybeCheckpoint()
}

// applyPut promeut wrapped vers une chaîne d'overflow si sa taille
// enveloppée, avant compression, dépasse btree.OverflowThreshold ; l'image
// écrite dans la chaîne est alors compressée. Sinon wrapped est insérée
// telle quelle (spec.md §4.4 point 4, §3.4).
func (e *Engine) applyPut(key, wrapped []byte) error {
	stored := wrapped
	if len(wrapped) > btree.OverflowThreshold {
		compressed := compressForOverflow(wrapped)
		start, err := btree.WriteOverflowChain(e, compressed)
		if err != nil {
			return err
		}
		stored = btree.EncodeOverflowMarker(start, uint32(len(compressed)))
	}
	return e.applyPutValue(key, stored)
}

// applyPutValue descend récursivement depuis la racine et gère la
// propagation d'un split jusqu'à, le cas échéant, une nouvelle racine.
func (e *Engine) applyPutValue(key, storedValue []byte) error {
	result, err := e.insertRecursive(e.rootPageID, key, storedValue)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}

	newRoot, err := e.newInternalNode()
	if err != nil {
		return err
	}
	newRoot.internal.Keys = [][]byte{result.separator}
	newRoot.internal.Children = []uint64{e.rootPageID, result.rightID}
	if err := e.saveNode(newRoot); err != nil {
		return err
	}
	e.rootPageID = newRoot.pageID
	return nil
}

// splitResult carries a promoted separator and the new right sibling's
// page id back up the recursive insert call chain.
type splitResult struct {
	separator []byte
	rightID   uint64
}

// insertRecursive implémente spec.md §4.4 point 5.
func (e *Engine) insertRecursive(pageID uint64, key, value []byte) (*splitResult, error) {
	n, err := e.loadNode(pageID)
	if err != nil {
		return nil, err
	}

	if n.isLeaf {
		pos := n.leaf.FindKeyPosition(key)
		replaced := pos < len(n.leaf.Entries) && bytes.Equal(n.leaf.Entries[pos].Key, key)
		var oldValue []byte
		if replaced {
			oldValue = n.leaf.Entries[pos].Value
		}
		n.leaf.Upsert(key, value)
		if replaced {
			if err := e.freeOverflowIfMarker(oldValue); err != nil {
				return nil, err
			}
		}
		if n.leaf.NeedsSplit() {
			right, sep := n.leaf.Split()
			rightID, err := e.allocatePage()
			if err != nil {
				return nil, err
			}
			if err := e.saveNode(n); err != nil {
				return nil, err
			}
			if err := e.saveNode(&node{pageID: rightID, isLeaf: true, leaf: right}); err != nil {
				return nil, err
			}
			return &splitResult{separator: sep, rightID: rightID}, nil
		}
		if err := e.saveNode(n); err != nil {
			return nil, err
		}
		return nil, nil
	}

	pos := n.internal.ChildForKey(key)
	if pos >= len(n.internal.Children) {
		return nil, &storage.PageCorruptedError{PageID: pageID, Reason: "internal node missing children"}
	}
	childID := n.internal.Children[pos]
	childResult, err := e.insertRecursive(childID, key, value)
	if err != nil {
		return nil, err
	}
	if childResult == nil {
		return nil, nil
	}

	n.internal.InsertSeparator(pos, childResult.separator, childResult.rightID)
	if n.internal.NeedsSplit() {
		right, promoted := n.internal.Split()
		rightID, err := e.allocatePage()
		if err != nil {
			return nil, err
		}
		if err := e.saveNode(n); err != nil {
			return nil, err
		}
		if err := e.saveNode(&node{pageID: rightID, isLeaf: false, internal: right}); err != nil {
			return nil, err
		}
		return &splitResult{separator: promoted, rightID: rightID}, nil
	}
	if err := e.saveNode(n); err != nil {
		return nil, err
	}
	return nil, nil
}

package engine

import (
	"bytes"

	"github.com/sikiodb/sikiodb/wal"
)

// Delete retire key, durablement. Retourne true si la clé était présente
// (spec.md §4.5).
func (e *Engine) Delete(key []byte) (bool, error) {
	if e.readOnly {
		return false, ErrReadOnly
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(key) > MaxKeySize {
		return false, &KeyTooLargeError{Size: len(key)}
	}

	e.walSequence++
	delEntry := wal.Entry{Sequence: e.walSequence, Op: wal.OpDelete, Key: key}
	e.walSequence++
	commitEntry := wal.Entry{Sequence: e.walSequence, Op: wal.OpCommit}
	if _, err := e.log.Append([]wal.Entry{delEntry, commitEntry}); err != nil {
		return false, err
	}
	if err := e.log.Flush(); err != nil {
		return false, err
	}

	deleted, err := e.applyDelete(key)
	if err != nil {
		return deleted, err
	}
	if deleted && e.stats != nil {
		e.stats.RecordDelete()
	}
	return deleted, e.maybeCheckpoint()
}

// applyDelete descends récursivement et rééquilibre sur le chemin de
// retour ; si la racine interne se retrouve avec zéro clé et un unique
// enfant, elle s'effondre sur cet enfant (spec.md §4.5).
func (e *Engine) applyDelete(key []byte) (bool, error) {
	deleted, _, err := e.deleteRecursiveRebalance(e.rootPageID, key)
	if err != nil {
		return false, err
	}
	if !deleted {
		return false, nil
	}

	root, err := e.loadNode(e.rootPageID)
	if err != nil {
		return true, err
	}
	if !root.isLeaf && len(root.internal.Keys) == 0 && len(root.internal.Children) == 1 {
		oldRoot := e.rootPageID
		e.rootPageID = root.internal.Children[0]
		e.freePage(oldRoot)
	}
	return true, nil
}

// deleteRecursiveRebalance retourne (clé trouvée et retirée, ce nœud
// est-il désormais en underflow).
func (e *Engine) deleteRecursiveRebalance(pageID uint64, key []byte) (deleted, underflow bool, err error) {
	n, err := e.loadNode(pageID)
	if err != nil {
		return false, false, err
	}

	if n.isLeaf {
		pos := n.leaf.FindKeyPosition(key)
		if pos >= len(n.leaf.Entries) || !bytes.Equal(n.leaf.Entries[pos].Key, key) {
			return false, false, nil
		}
		oldValue := n.leaf.Entries[pos].Value
		n.leaf.Delete(key)
		if err := e.freeOverflowIfMarker(oldValue); err != nil {
			return false, false, err
		}
		if err := e.saveNode(n); err != nil {
			return false, false, err
		}
		return true, n.leaf.Underflow(), nil
	}

	pos := n.internal.ChildForKey(key)
	if pos >= len(n.internal.Children) {
		return false, false, nil
	}
	childID := n.internal.Children[pos]
	childDeleted, childUnderflow, err := e.deleteRecursiveRebalance(childID, key)
	if err != nil {
		return false, false, err
	}
	if !childDeleted {
		return false, false, nil
	}
	if childUnderflow {
		if err := e.rebalanceChild(n, pos); err != nil {
			return false, false, err
		}
	}
	if err := e.saveNode(n); err != nil {
		return false, false, err
	}
	return true, n.internal.Underflow(), nil
}

// rebalanceChild attempts, in spec.md §4.5's order: borrow from left,
// borrow from right, merge with left, merge with right.
func (e *Engine) rebalanceChild(parent *node, childIdx int) error {
	childID := parent.internal.Children[childIdx]
	child, err := e.loadNode(childID)
	if err != nil {
		return err
	}

	if childIdx > 0 {
		leftID := parent.internal.Children[childIdx-1]
		left, err := e.loadNode(leftID)
		if err != nil {
			return err
		}
		if canLend(left) {
			newKey := borrowFromLeft(child, left, parent.internal.Keys[childIdx-1])
			parent.internal.Keys[childIdx-1] = newKey
			if err := e.saveNode(left); err != nil {
				return err
			}
			return e.saveNode(child)
		}
	}

	if childIdx < len(parent.internal.Children)-1 {
		rightID := parent.internal.Children[childIdx+1]
		right, err := e.loadNode(rightID)
		if err != nil {
			return err
		}
		if canLend(right) {
			newKey := borrowFromRight(child, right, parent.internal.Keys[childIdx])
			parent.internal.Keys[childIdx] = newKey
			if err := e.saveNode(right); err != nil {
				return err
			}
			return e.saveNode(child)
		}
	}

	if childIdx > 0 {
		leftID := parent.internal.Children[childIdx-1]
		left, err := e.loadNode(leftID)
		if err != nil {
			return err
		}
		separator := parent.internal.Keys[childIdx-1]
		parent.internal.RemoveChildAt(childIdx)
		mergeInto(left, child, separator)
		if err := e.saveNode(left); err != nil {
			return err
		}
		e.freePage(childID)
		return nil
	}

	if childIdx < len(parent.internal.Children)-1 {
		rightID := parent.internal.Children[childIdx+1]
		right, err := e.loadNode(rightID)
		if err != nil {
			return err
		}
		separator := parent.internal.Keys[childIdx]
		parent.internal.RemoveChildAt(childIdx + 1)
		mergeInto(child, right, separator)
		if err := e.saveNode(child); err != nil {
			return err
		}
		e.freePage(rightID)
		return nil
	}

	return nil
}

func canLend(n *node) bool {
	if n.isLeaf {
		return n.leaf.CanLend()
	}
	return n.internal.CanLend()
}

func borrowFromLeft(dst, left *node, parentKey []byte) []byte {
	if dst.isLeaf {
		return dst.leaf.BorrowFromLeft(left.leaf)
	}
	return dst.internal.BorrowFromLeft(left.internal, parentKey)
}

func borrowFromRight(dst, right *node, parentKey []byte) []byte {
	if dst.isLeaf {
		return dst.leaf.BorrowFromRight(right.leaf)
	}
	return dst.internal.BorrowFromRight(right.internal, parentKey)
}

func mergeInto(dst, src *node, separator []byte) {
	if dst.isLeaf {
		dst.leaf.MergeWith(src.leaf)
	} else {
		dst.internal.MergeWith(src.internal, separator)
	}
}

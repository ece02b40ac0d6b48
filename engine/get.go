package engine

import "github.com/sikiodb/sikiodb/btree"

// Get lit key et retourne sa valeur, la résolvant depuis une chaîne
// d'overflow et la décompressant si nécessaire, et l'écartant si son TTL a
// expiré (spec.md §4.6).
func (e *Engine) Get(key []byte) ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stored, found, err := e.lookup(e.rootPageID, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &KeyNotFoundError{Key: key}
	}
	if e.stats != nil {
		e.stats.RecordRead(uint64(len(stored)))
	}

	resolved, err := e.resolveStored(stored)
	if err != nil {
		return nil, err
	}

	value, ok, err := btree.Unwrap(resolved, e.clock.NowMillis())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &KeyNotFoundError{Key: key}
	}
	return value, nil
}

// lookup descend depuis pageID en suivant la règle "égalité part à droite"
// (spec.md §3.2) jusqu'à une feuille.
func (e *Engine) lookup(pageID uint64, key []byte) ([]byte, bool, error) {
	n, err := e.loadNode(pageID)
	if err != nil {
		return nil, false, err
	}
	if n.isLeaf {
		idx := n.leaf.FindKeyPosition(key)
		if idx < len(n.leaf.Entries) && string(n.leaf.Entries[idx].Key) == string(key) {
			return n.leaf.Entries[idx].Value, true, nil
		}
		return nil, false, nil
	}
	pos := n.internal.ChildForKey(key)
	if pos >= len(n.internal.Children) {
		return nil, false, nil
	}
	return e.lookup(n.internal.Children[pos], key)
}

// resolveStored remplace un marqueur d'overflow par le contenu complet de
// la chaîne, décompressé (spec.md §3.3, §3.4). Une valeur inline est
// retournée telle quelle.
func (e *Engine) resolveStored(stored []byte) ([]byte, error) {
	if !btree.IsOverflowMarker(stored) {
		return stored, nil
	}
	start, length, err := btree.DecodeOverflowMarker(stored)
	if err != nil {
		return nil, err
	}
	image, err := btree.ReadOverflowChain(e, start, length)
	if err != nil {
		return nil, err
	}
	return decompressOverflowImage(image)
}

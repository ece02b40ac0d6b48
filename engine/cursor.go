package engine

import (
	"bytes"

	"github.com/sikiodb/sikiodb/btree"
)

// KV est une paire retournée par un scan, déjà résolue (overflow suivi,
// TTL vérifié) et prête à l'usage de l'appelant.
type KV struct {
	Key   []byte
	Value []byte
}

// frame est un niveau de la pile du curseur (spec.md §4.7) : la page
// visitée et l'index de la clé courante en son sein.
type frame struct {
	pageID   uint64
	keyIndex int
}

// Cursor parcourt l'arbre en ordre, sans posséder aucune page — chaque pas
// la recharge depuis le cache (spec.md §4.7). Les pages qu'il touche
// entrent dans le cache propres.
type Cursor struct {
	e     *Engine
	stack []frame
	done  bool
}

// newCursor crée un curseur lié à e, positionné nulle part.
func (e *Engine) newCursor() *Cursor {
	return &Cursor{e: e}
}

// First positionne le curseur sur la plus petite clé de l'arbre.
func (c *Cursor) First() error {
	c.stack = nil
	c.done = false
	pageID := c.e.rootPageID
	for {
		n, err := c.e.loadNode(pageID)
		if err != nil {
			return err
		}
		if n.isLeaf {
			c.stack = append(c.stack, frame{pageID: pageID, keyIndex: 0})
			if len(n.leaf.Entries) == 0 {
				c.done = true
			}
			return nil
		}
		c.stack = append(c.stack, frame{pageID: pageID, keyIndex: 0})
		if len(n.internal.Children) == 0 {
			c.done = true
			return nil
		}
		pageID = n.internal.Children[0]
	}
}

// Last positionne le curseur sur la plus grande clé de l'arbre.
func (c *Cursor) Last() error {
	c.stack = nil
	c.done = false
	pageID := c.e.rootPageID
	for {
		n, err := c.e.loadNode(pageID)
		if err != nil {
			return err
		}
		if n.isLeaf {
			idx := len(n.leaf.Entries) - 1
			if idx < 0 {
				idx = 0
				c.done = true
			}
			c.stack = append(c.stack, frame{pageID: pageID, keyIndex: idx})
			return nil
		}
		lastChild := len(n.internal.Children) - 1
		c.stack = append(c.stack, frame{pageID: pageID, keyIndex: lastChild})
		if lastChild < 0 {
			c.done = true
			return nil
		}
		pageID = n.internal.Children[lastChild]
	}
}

// Seek positionne le curseur sur la première clé >= key, avançant avec
// Next si la descente atterrit au-delà de la dernière entrée de la
// feuille.
func (c *Cursor) Seek(key []byte) error {
	c.stack = nil
	c.done = false
	pageID := c.e.rootPageID
	for {
		n, err := c.e.loadNode(pageID)
		if err != nil {
			return err
		}
		if n.isLeaf {
			idx := n.leaf.FindKeyPosition(key)
			c.stack = append(c.stack, frame{pageID: pageID, keyIndex: idx})
			if idx >= len(n.leaf.Entries) {
				return c.Next()
			}
			return nil
		}
		pos := n.internal.ChildForKey(key)
		c.stack = append(c.stack, frame{pageID: pageID, keyIndex: pos})
		if pos >= len(n.internal.Children) {
			c.done = true
			return nil
		}
		pageID = n.internal.Children[pos]
	}
}

// Valid indique si le curseur pointe sur une entrée exploitable.
func (c *Cursor) Valid() bool {
	return !c.done && len(c.stack) > 0
}

// leafFrame charge la feuille au sommet de la pile.
func (c *Cursor) leafFrame() (*node, *frame, error) {
	top := &c.stack[len(c.stack)-1]
	n, err := c.e.loadNode(top.pageID)
	if err != nil {
		return nil, nil, err
	}
	return n, top, nil
}

// entry retourne la clé et la valeur stockée brute de l'entrée courante :
// ni le marqueur d'overflow ni l'enveloppe TTL ne sont résolus ici —
// ScanRange/ScanPrefix le font via resolveEntry. Retourne nil, nil si
// l'index courant dépasse la dernière entrée de la feuille.
func (c *Cursor) entry() (key, storedValue []byte, err error) {
	n, top, err := c.leafFrame()
	if err != nil {
		return nil, nil, err
	}
	if top.keyIndex >= len(n.leaf.Entries) {
		return nil, nil, nil
	}
	e := n.leaf.Entries[top.keyIndex]
	return e.Key, e.Value, nil
}

// Next avance le curseur d'une entrée, remontant la pile et redescendant
// par la gauche du prochain enfant à droite si la feuille courante est
// épuisée (spec.md §4.7).
func (c *Cursor) Next() error {
	if len(c.stack) == 0 {
		c.done = true
		return nil
	}
	leaf := &c.stack[len(c.stack)-1]
	n, err := c.e.loadNode(leaf.pageID)
	if err != nil {
		return err
	}
	leaf.keyIndex++
	if leaf.keyIndex < len(n.leaf.Entries) {
		return nil
	}

	for len(c.stack) > 1 {
		c.stack = c.stack[:len(c.stack)-1]
		parentFrame := &c.stack[len(c.stack)-1]
		parent, err := c.e.loadNode(parentFrame.pageID)
		if err != nil {
			return err
		}
		parentFrame.keyIndex++
		if parentFrame.keyIndex < len(parent.internal.Children) {
			pageID := parent.internal.Children[parentFrame.keyIndex]
			return c.descendLeftmost(pageID)
		}
	}
	c.done = true
	return nil
}

// Prev est le miroir de Next.
func (c *Cursor) Prev() error {
	if len(c.stack) == 0 {
		c.done = true
		return nil
	}
	leaf := &c.stack[len(c.stack)-1]
	leaf.keyIndex--
	if leaf.keyIndex >= 0 {
		return nil
	}

	for len(c.stack) > 1 {
		c.stack = c.stack[:len(c.stack)-1]
		parentFrame := &c.stack[len(c.stack)-1]
		parentFrame.keyIndex--
		if parentFrame.keyIndex >= 0 {
			parent, err := c.e.loadNode(parentFrame.pageID)
			if err != nil {
				return err
			}
			pageID := parent.internal.Children[parentFrame.keyIndex]
			return c.descendRightmost(pageID)
		}
	}
	c.done = true
	return nil
}

func (c *Cursor) descendLeftmost(pageID uint64) error {
	for {
		n, err := c.e.loadNode(pageID)
		if err != nil {
			return err
		}
		if n.isLeaf {
			c.stack = append(c.stack, frame{pageID: pageID, keyIndex: 0})
			return nil
		}
		c.stack = append(c.stack, frame{pageID: pageID, keyIndex: 0})
		pageID = n.internal.Children[0]
	}
}

func (c *Cursor) descendRightmost(pageID uint64) error {
	for {
		n, err := c.e.loadNode(pageID)
		if err != nil {
			return err
		}
		if n.isLeaf {
			c.stack = append(c.stack, frame{pageID: pageID, keyIndex: len(n.leaf.Entries) - 1})
			return nil
		}
		lastChild := len(n.internal.Children) - 1
		c.stack = append(c.stack, frame{pageID: pageID, keyIndex: lastChild})
		pageID = n.internal.Children[lastChild]
	}
}

// resolveEntry suit un marqueur d'overflow et retire l'enveloppe TTL,
// indiquant ok=false si l'entrée a expiré (le scan doit alors la sauter
// plutôt que la retourner, spec.md §4.8).
func (e *Engine) resolveEntry(key, stored []byte) (kv KV, ok bool, err error) {
	resolved, err := e.resolveStored(stored)
	if err != nil {
		return KV{}, false, err
	}
	value, valid, err := btree.Unwrap(resolved, e.clock.NowMillis())
	if err != nil {
		return KV{}, false, err
	}
	if !valid {
		return KV{}, false, nil
	}
	return KV{Key: append([]byte(nil), key...), Value: value}, true, nil
}

// ScanRange retourne les paires dans [start, end], dans l'ordre, jusqu'à
// limit résultats (0 = illimité). Les entrées expirées sont omises sans
// compter dans limit (spec.md §4.8).
func (e *Engine) ScanRange(start, end []byte, limit int) ([]KV, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	c := e.newCursor()
	if start == nil {
		if err := c.First(); err != nil {
			return nil, err
		}
	} else {
		if err := c.Seek(start); err != nil {
			return nil, err
		}
	}

	var out []KV
	for c.Valid() {
		key, stored, err := c.entry()
		if err != nil {
			return nil, err
		}
		if end != nil && bytes.Compare(key, end) > 0 {
			break
		}
		kv, ok, err := e.resolveEntry(key, stored)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, kv)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		if err := c.Next(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ScanPrefix retourne toutes les paires dont la clé commence par prefix
// (spec.md §4.8) : le scan s'arrête à la borne supérieure exclusive
// [prefix, prefix_increment_or_unbounded).
func (e *Engine) ScanPrefix(prefix []byte) ([]KV, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	upper, unbounded := prefixUpperBound(prefix)

	c := e.newCursor()
	if err := c.Seek(prefix); err != nil {
		return nil, err
	}

	var out []KV
	for c.Valid() {
		key, stored, err := c.entry()
		if err != nil {
			return nil, err
		}
		if !unbounded && bytes.Compare(key, upper) >= 0 {
			break
		}
		kv, ok, err := e.resolveEntry(key, stored)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, kv)
		}
		if err := c.Next(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// prefixUpperBound calcule la borne exclusive d'un scan de préfixe : le
// dernier octet non-0xFF de prefix est incrémenté et les octets suivants
// tronqués ; si prefix ne contient que des 0xFF, la plage est illimitée.
func prefixUpperBound(prefix []byte) (upper []byte, unbounded bool) {
	out := append([]byte(nil), prefix...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xFF {
			out[i]++
			return out[:i+1], false
		}
	}
	return nil, true
}

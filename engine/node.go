package engine

import (
	"github.com/sikiodb/sikiodb/btree"
	"github.com/sikiodb/sikiodb/storage"
)

// node est un nœud B+-tree chargé en mémoire, feuille ou interne — une
// petite union discriminée puisque Go n'a pas d'héritage et que
// l'insertion/suppression récursive (spec.md §4.4, §4.5) doit traiter les
// deux uniformément au niveau de l'appelant.
type node struct {
	pageID   uint64
	isLeaf   bool
	leaf     *btree.LeafNode
	internal *btree.InternalNode
}

// loadNode matérialise la page pageID depuis le cache (ou le fichier data
// à défaut) et la décode selon son page_type.
func (e *Engine) loadNode(pageID uint64) (*node, error) {
	p, ok := e.cache.Get(pageID)
	if !ok {
		if e.stats != nil {
			e.stats.RecordCacheMiss()
		}
		var err error
		p, err = e.adapter.ReadPage(pageID)
		if err != nil {
			return nil, err
		}
		e.cache.Insert(pageID, p, false)
	} else if e.stats != nil {
		e.stats.RecordCacheHit()
	}

	switch p.PageType() {
	case storage.PageTypeLeaf:
		ln, err := btree.DecodeLeaf(p)
		if err != nil {
			return nil, err
		}
		return &node{pageID: pageID, isLeaf: true, leaf: ln}, nil
	case storage.PageTypeInternal:
		in, err := btree.DecodeInternal(p)
		if err != nil {
			return nil, err
		}
		return &node{pageID: pageID, isLeaf: false, internal: in}, nil
	default:
		return nil, &storage.PageCorruptedError{PageID: pageID, Reason: "expected leaf or internal page"}
	}
}

// saveNode sérialise n dans une page fraîche et la marque sale dans le
// cache — elle n'atteint le fichier data qu'au prochain checkpoint
// (spec.md §4.4 : "All node writes go through the cache as dirty").
func (e *Engine) saveNode(n *node) error {
	var p *storage.Page
	if n.isLeaf {
		p = storage.NewPage(n.pageID, storage.PageTypeLeaf)
		if err := n.leaf.Encode(p); err != nil {
			return err
		}
	} else {
		p = storage.NewPage(n.pageID, storage.PageTypeInternal)
		if err := n.internal.Encode(p); err != nil {
			return err
		}
	}
	e.cache.Insert(n.pageID, p, true)
	return nil
}

// newLeafNode alloue une nouvelle page et retourne un nœud feuille vide
// qui lui est lié.
func (e *Engine) newLeafNode() (*node, error) {
	id, err := e.allocatePage()
	if err != nil {
		return nil, err
	}
	return &node{pageID: id, isLeaf: true, leaf: &btree.LeafNode{}}, nil
}

func (e *Engine) newInternalNode() (*node, error) {
	id, err := e.allocatePage()
	if err != nil {
		return nil, err
	}
	return &node{pageID: id, isLeaf: false, internal: &btree.InternalNode{}}, nil
}

// freeOverflowIfMarker libère la chaîne d'overflow référencée par value si
// value est un marqueur 0xFF — appelé chaque fois qu'une valeur de feuille
// est retirée ou remplacée (delete, overwrite), pour que free_page_ids
// reste le reflet fidèle des pages réellement référencées par l'arbre.
func (e *Engine) freeOverflowIfMarker(value []byte) error {
	if !btree.IsOverflowMarker(value) {
		return nil
	}
	start, _, err := btree.DecodeOverflowMarker(value)
	if err != nil {
		return err
	}
	return btree.FreeOverflowChain(e, start)
}

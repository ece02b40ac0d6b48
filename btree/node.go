// Package btree implémente le codec des nœuds B+-tree page-backed de
// SikioDB (feuilles et nœuds internes, spec.md §3.2 et §4.3), ainsi que le
// codec de la chaîne d'overflow (spec.md §3.3) et de l'enveloppe de valeur
// stockée (spec.md §3.4). Les opérations de plus haut niveau (descente,
// insertion, suppression, rééquilibrage récursif) vivent dans le package
// engine, qui matérialise les nœuds à la demande via le cache de pages —
// conformément à SPEC_FULL.md/DESIGN.md, un nœud n'est qu'un graphe de pages
// référencées par id, jamais par pointeur.
package btree

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/sikiodb/sikiodb/storage"
)

// SplitThreshold est la taille sérialisée au-delà de laquelle un nœud doit
// être scindé (spec.md §3.2 : 4072 − 64).
const SplitThreshold = storage.DataSize - 64

// pointerSize est la taille d'un pointeur de cellule (offset u16, length u16).
const pointerSize = 4

// LeafEntry est une paire clé/valeur stockée dans une feuille, triée par clé.
type LeafEntry struct {
	Key   []byte
	Value []byte
}

// LeafNode est un nœud feuille chargé en mémoire.
type LeafNode struct {
	Entries []LeafEntry
}

// InternalNode est un nœud interne chargé en mémoire. Children a toujours
// len(Keys)+1 éléments ; Children[i] est l'enfant GAUCHE du séparateur
// Keys[i], et Children[len(Children)-1] est l'enfant le plus à droite.
type InternalNode struct {
	Keys     [][]byte
	Children []uint64
}

// ---------- feuilles ----------

// DecodeLeaf lit un nœud feuille depuis la région de données d'une page.
func DecodeLeaf(p *storage.Page) (*LeafNode, error) {
	region := p.Region()
	count := int(p.ItemCount())
	n := &LeafNode{Entries: make([]LeafEntry, 0, count)}

	for i := 0; i < count; i++ {
		ptrOff := i * pointerSize
		if ptrOff+pointerSize > len(region) {
			return nil, &storage.PageCorruptedError{PageID: p.PageID(), Reason: "leaf pointer array truncated"}
		}
		cellOff := binary.LittleEndian.Uint16(region[ptrOff:])
		cellLen := binary.LittleEndian.Uint16(region[ptrOff+2:])
		if int(cellOff)+int(cellLen) > len(region) {
			return nil, &storage.PageCorruptedError{PageID: p.PageID(), Reason: "leaf cell out of bounds"}
		}
		cell := region[cellOff : cellOff+cellLen]
		if len(cell) < 4 {
			return nil, &storage.PageCorruptedError{PageID: p.PageID(), Reason: "leaf cell truncated"}
		}
		keyLen := binary.LittleEndian.Uint16(cell[0:])
		valLen := binary.LittleEndian.Uint16(cell[2:])
		off := 4
		if off+int(keyLen)+int(valLen) > len(cell) {
			return nil, &storage.PageCorruptedError{PageID: p.PageID(), Reason: "leaf cell payload truncated"}
		}
		key := append([]byte(nil), cell[off:off+int(keyLen)]...)
		off += int(keyLen)
		val := append([]byte(nil), cell[off:off+int(valLen)]...)
		n.Entries = append(n.Entries, LeafEntry{Key: key, Value: val})
	}
	return n, nil
}

// Size estime la taille sérialisée du nœud (pointeurs + cellules).
func (n *LeafNode) Size() int {
	s := len(n.Entries) * pointerSize
	for _, e := range n.Entries {
		s += 4 + len(e.Key) + len(e.Value)
	}
	return s
}

// NeedsSplit indique si le nœud dépasse SplitThreshold.
func (n *LeafNode) NeedsSplit() bool { return n.Size() > SplitThreshold }

// Underflow indique si le nœud a moins de 2 clés (racine exceptée — cette
// exception est appliquée par l'appelant, pas ici).
func (n *LeafNode) Underflow() bool { return len(n.Entries) < 2 }

// CanLend indique si le nœud peut prêter une entrée à un voisin sans
// tomber en underflow.
func (n *LeafNode) CanLend() bool { return len(n.Entries) > 2 }

// FindKeyPosition retourne l'indice de la borne inférieure (lower bound) de key.
func (n *LeafNode) FindKeyPosition(key []byte) int {
	return sort.Search(len(n.Entries), func(i int) bool {
		return bytes.Compare(n.Entries[i].Key, key) >= 0
	})
}

// Upsert insère key/value, ou remplace la valeur si key existe déjà.
func (n *LeafNode) Upsert(key, value []byte) {
	pos := n.FindKeyPosition(key)
	if pos < len(n.Entries) && bytes.Equal(n.Entries[pos].Key, key) {
		n.Entries[pos].Value = value
		return
	}
	n.Entries = append(n.Entries, LeafEntry{})
	copy(n.Entries[pos+1:], n.Entries[pos:])
	n.Entries[pos] = LeafEntry{Key: key, Value: value}
}

// Delete retire key si présente. Retourne true si une entrée a été retirée.
func (n *LeafNode) Delete(key []byte) bool {
	pos := n.FindKeyPosition(key)
	if pos >= len(n.Entries) || !bytes.Equal(n.Entries[pos].Key, key) {
		return false
	}
	n.Entries = append(n.Entries[:pos], n.Entries[pos+1:]...)
	return true
}

// Split scinde le nœud en deux : n garde la moitié gauche, et Split retourne
// le nouveau nœud droit ainsi que sa clé séparatrice (sa première clé).
func (n *LeafNode) Split() (right *LeafNode, separator []byte) {
	mid := len(n.Entries) / 2
	right = &LeafNode{Entries: append([]LeafEntry(nil), n.Entries[mid:]...)}
	n.Entries = n.Entries[:mid]
	return right, right.Entries[0].Key
}

// BorrowFromLeft déplace la dernière entrée de left vers le début de n.
// Retourne la nouvelle clé séparatrice à écrire dans le parent.
func (n *LeafNode) BorrowFromLeft(left *LeafNode) []byte {
	last := left.Entries[len(left.Entries)-1]
	left.Entries = left.Entries[:len(left.Entries)-1]
	n.Entries = append([]LeafEntry{last}, n.Entries...)
	return n.Entries[0].Key
}

// BorrowFromRight déplace la première entrée de right vers la fin de n.
// Retourne la nouvelle clé séparatrice à écrire dans le parent.
func (n *LeafNode) BorrowFromRight(right *LeafNode) []byte {
	first := right.Entries[0]
	right.Entries = right.Entries[1:]
	n.Entries = append(n.Entries, first)
	return right.Entries[0].Key
}

// MergeWith concatène les entrées de right à la suite de n.
func (n *LeafNode) MergeWith(right *LeafNode) {
	n.Entries = append(n.Entries, right.Entries...)
}

// Encode sérialise le nœud dans p (préalablement créée via storage.NewPage
// avec PageTypeLeaf). Retourne BTreeOverflowError si la taille dépasse la
// région de données disponible — un bug logique ou un seuil de split
// mal dimensionné (spec.md §7).
func (n *LeafNode) Encode(p *storage.Page) error {
	region := p.Region()
	ptrArea := len(n.Entries) * pointerSize

	var cellArea []byte
	offsets := make([]int, len(n.Entries))
	lengths := make([]int, len(n.Entries))
	for i, e := range n.Entries {
		offsets[i] = len(cellArea)
		cell := make([]byte, 4+len(e.Key)+len(e.Value))
		binary.LittleEndian.PutUint16(cell[0:], uint16(len(e.Key)))
		binary.LittleEndian.PutUint16(cell[2:], uint16(len(e.Value)))
		copy(cell[4:], e.Key)
		copy(cell[4+len(e.Key):], e.Value)
		lengths[i] = len(cell)
		cellArea = append(cellArea, cell...)
	}

	total := ptrArea + len(cellArea)
	if total > len(region) {
		return &BTreeOverflowError{Size: total, Capacity: len(region)}
	}

	cellStart := len(region) - len(cellArea)
	copy(region[cellStart:], cellArea)
	for i := range n.Entries {
		ptrOff := i * pointerSize
		binary.LittleEndian.PutUint16(region[ptrOff:], uint16(cellStart+offsets[i]))
		binary.LittleEndian.PutUint16(region[ptrOff+2:], uint16(lengths[i]))
	}

	p.SetPageType(storage.PageTypeLeaf)
	p.SetItemCount(uint16(len(n.Entries)))
	p.SetFreeSpaceOffset(uint16(cellStart))
	return nil
}

// ---------- nœuds internes ----------

// DecodeInternal lit un nœud interne depuis la région de données d'une page.
func DecodeInternal(p *storage.Page) (*InternalNode, error) {
	region := p.Region()
	count := int(p.ItemCount())
	n := &InternalNode{
		Keys:     make([][]byte, 0, count),
		Children: make([]uint64, 0, count+1),
	}

	rightmostOff := count * pointerSize
	if rightmostOff+8 > len(region) {
		return nil, &storage.PageCorruptedError{PageID: p.PageID(), Reason: "internal rightmost pointer truncated"}
	}

	for i := 0; i < count; i++ {
		ptrOff := i * pointerSize
		cellOff := binary.LittleEndian.Uint16(region[ptrOff:])
		cellLen := binary.LittleEndian.Uint16(region[ptrOff+2:])
		if int(cellOff)+int(cellLen) > len(region) {
			return nil, &storage.PageCorruptedError{PageID: p.PageID(), Reason: "internal cell out of bounds"}
		}
		cell := region[cellOff : cellOff+cellLen]
		if len(cell) < 10 {
			return nil, &storage.PageCorruptedError{PageID: p.PageID(), Reason: "internal cell truncated"}
		}
		keyLen := binary.LittleEndian.Uint16(cell[0:])
		childID := binary.LittleEndian.Uint64(cell[2:])
		if 10+int(keyLen) > len(cell) {
			return nil, &storage.PageCorruptedError{PageID: p.PageID(), Reason: "internal cell key truncated"}
		}
		key := append([]byte(nil), cell[10:10+int(keyLen)]...)
		n.Keys = append(n.Keys, key)
		n.Children = append(n.Children, childID)
	}
	rightmost := binary.LittleEndian.Uint64(region[rightmostOff:])
	n.Children = append(n.Children, rightmost)
	return n, nil
}

// Size estime la taille sérialisée du nœud (pointeurs + enfant le plus à
// droite + cellules).
func (n *InternalNode) Size() int {
	s := len(n.Keys)*pointerSize + 8
	for _, k := range n.Keys {
		s += 10 + len(k)
	}
	return s
}

func (n *InternalNode) NeedsSplit() bool { return n.Size() > SplitThreshold }
func (n *InternalNode) Underflow() bool  { return len(n.Keys) < 2 }
func (n *InternalNode) CanLend() bool    { return len(n.Keys) > 2 }

// ChildForKey retourne l'indice de l'enfant à suivre pour key : une
// correspondance exacte avec un séparateur descend dans le sous-arbre
// DROIT de ce séparateur (spec.md §4.6).
func (n *InternalNode) ChildForKey(key []byte) int {
	pos := sort.Search(len(n.Keys), func(i int) bool {
		return bytes.Compare(n.Keys[i], key) > 0
	})
	return pos
}

// InsertSeparator insère (sep, rightChild) à la position pos : sep devient
// Keys[pos] et rightChild devient Children[pos+1].
func (n *InternalNode) InsertSeparator(pos int, sep []byte, rightChild uint64) {
	n.Keys = append(n.Keys, nil)
	copy(n.Keys[pos+1:], n.Keys[pos:])
	n.Keys[pos] = sep

	n.Children = append(n.Children, 0)
	copy(n.Children[pos+2:], n.Children[pos+1:])
	n.Children[pos+1] = rightChild
}

// RemoveChildAt retire Children[idx] ainsi que le séparateur à sa gauche
// (Keys[idx-1]) — utilisé après la fusion de deux enfants, que le nœud
// absorbé soit le gauche ou le droit de la paire fusionnée : dans les deux
// cas c'est le séparateur immédiatement à gauche de l'enfant retiré qui
// devient superflu.
func (n *InternalNode) RemoveChildAt(idx int) {
	sepIdx := idx - 1
	if sepIdx < 0 {
		sepIdx = 0
	}
	if sepIdx >= len(n.Keys) {
		sepIdx = len(n.Keys) - 1
	}
	n.Keys = append(n.Keys[:sepIdx], n.Keys[sepIdx+1:]...)
	n.Children = append(n.Children[:idx], n.Children[idx+1:]...)
}

// Split scinde le nœud : n garde la moitié gauche, Split retourne le
// nouveau nœud droit et la clé à faire remonter dans le parent.
func (n *InternalNode) Split() (right *InternalNode, promoted []byte) {
	mid := len(n.Keys) / 2
	promoted = n.Keys[mid]

	right = &InternalNode{
		Keys:     append([][]byte(nil), n.Keys[mid+1:]...),
		Children: append([]uint64(nil), n.Children[mid+1:]...),
	}
	n.Keys = n.Keys[:mid]
	n.Children = n.Children[:mid+1]
	return right, promoted
}

// BorrowFromLeft fait pivoter la clé séparatrice du parent à travers le
// nœud : parentSep descend en tête de n, la dernière clé de left remonte
// en tant que nouvelle clé séparatrice, et le dernier enfant de left
// devient le premier enfant de n.
func (n *InternalNode) BorrowFromLeft(left *InternalNode, parentSep []byte) (newParentSep []byte) {
	movedChild := left.Children[len(left.Children)-1]
	newParentSep = left.Keys[len(left.Keys)-1]
	left.Keys = left.Keys[:len(left.Keys)-1]
	left.Children = left.Children[:len(left.Children)-1]

	n.Keys = append([][]byte{parentSep}, n.Keys...)
	n.Children = append([]uint64{movedChild}, n.Children...)
	return newParentSep
}

// BorrowFromRight est le miroir de BorrowFromLeft.
func (n *InternalNode) BorrowFromRight(right *InternalNode, parentSep []byte) (newParentSep []byte) {
	movedChild := right.Children[0]
	newParentSep = right.Keys[0]
	right.Keys = right.Keys[1:]
	right.Children = right.Children[1:]

	n.Keys = append(n.Keys, parentSep)
	n.Children = append(n.Children, movedChild)
	return newParentSep
}

// MergeWith absorbe separator puis les clés/enfants de right dans n.
func (n *InternalNode) MergeWith(right *InternalNode, separator []byte) {
	n.Keys = append(n.Keys, separator)
	n.Keys = append(n.Keys, right.Keys...)
	n.Children = append(n.Children, right.Children...)
}

// Encode sérialise le nœud dans p.
func (n *InternalNode) Encode(p *storage.Page) error {
	region := p.Region()
	ptrArea := len(n.Keys) * pointerSize

	var cellArea []byte
	offsets := make([]int, len(n.Keys))
	lengths := make([]int, len(n.Keys))
	for i, k := range n.Keys {
		offsets[i] = len(cellArea)
		cell := make([]byte, 10+len(k))
		binary.LittleEndian.PutUint16(cell[0:], uint16(len(k)))
		binary.LittleEndian.PutUint64(cell[2:], n.Children[i])
		copy(cell[10:], k)
		lengths[i] = len(cell)
		cellArea = append(cellArea, cell...)
	}

	total := ptrArea + 8 + len(cellArea)
	if total > len(region) {
		return &BTreeOverflowError{Size: total, Capacity: len(region)}
	}

	cellStart := len(region) - len(cellArea)
	copy(region[cellStart:], cellArea)
	for i := range n.Keys {
		ptrOff := i * pointerSize
		binary.LittleEndian.PutUint16(region[ptrOff:], uint16(cellStart+offsets[i]))
		binary.LittleEndian.PutUint16(region[ptrOff+2:], uint16(lengths[i]))
	}
	binary.LittleEndian.PutUint64(region[ptrArea:], n.Children[len(n.Children)-1])

	p.SetPageType(storage.PageTypeInternal)
	p.SetItemCount(uint16(len(n.Keys)))
	p.SetFreeSpaceOffset(uint16(cellStart))
	return nil
}

// BTreeOverflowError signale qu'un nœud ne peut pas être sérialisé dans la
// région de données disponible (spec.md §7 : BTreeOverflow).
type BTreeOverflowError struct {
	Size     int
	Capacity int
}

func (e *BTreeOverflowError) Error() string {
	return "btree: node does not fit in page (size " + itoa(e.Size) + " > capacity " + itoa(e.Capacity) + ")"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

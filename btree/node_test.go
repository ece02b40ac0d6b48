package btree

import (
	"bytes"
	"testing"

	"github.com/sikiodb/sikiodb/storage"
)

func TestLeafEncodeDecodeRoundTrip(t *testing.T) {
	n := &LeafNode{Entries: []LeafEntry{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
		{Key: []byte("c"), Value: []byte("3")},
	}}
	p := storage.NewPage(7, storage.PageTypeLeaf)
	if err := n.Encode(p); err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := DecodeLeaf(p)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(got.Entries))
	}
	for i, e := range got.Entries {
		if !bytes.Equal(e.Key, n.Entries[i].Key) || !bytes.Equal(e.Value, n.Entries[i].Value) {
			t.Errorf("entry %d = %+v, want %+v", i, e, n.Entries[i])
		}
	}
}

func TestLeafUpsertInsertsSorted(t *testing.T) {
	n := &LeafNode{}
	n.Upsert([]byte("c"), []byte("3"))
	n.Upsert([]byte("a"), []byte("1"))
	n.Upsert([]byte("b"), []byte("2"))
	n.Upsert([]byte("b"), []byte("2-updated"))

	if len(n.Entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(n.Entries))
	}
	want := []string{"a", "b", "c"}
	for i, k := range want {
		if string(n.Entries[i].Key) != k {
			t.Errorf("entry %d key = %q, want %q", i, n.Entries[i].Key, k)
		}
	}
	if string(n.Entries[1].Value) != "2-updated" {
		t.Errorf("upsert did not replace value: %q", n.Entries[1].Value)
	}
}

func TestLeafDeleteRemovesEntry(t *testing.T) {
	n := &LeafNode{}
	n.Upsert([]byte("a"), []byte("1"))
	n.Upsert([]byte("b"), []byte("2"))

	if !n.Delete([]byte("a")) {
		t.Fatal("expected delete to report found")
	}
	if n.Delete([]byte("a")) {
		t.Fatal("expected second delete to report not found")
	}
	if len(n.Entries) != 1 || string(n.Entries[0].Key) != "b" {
		t.Errorf("unexpected entries after delete: %+v", n.Entries)
	}
}

func TestLeafSplitAndMergeRoundTrip(t *testing.T) {
	n := &LeafNode{}
	for _, k := range []string{"a", "b", "c", "d"} {
		n.Upsert([]byte(k), []byte(k))
	}
	right, sep := n.Split()
	if len(n.Entries)+len(right.Entries) != 4 {
		t.Fatalf("split lost entries: left=%d right=%d", len(n.Entries), len(right.Entries))
	}
	if !bytes.Equal(sep, right.Entries[0].Key) {
		t.Errorf("separator %q != right's first key %q", sep, right.Entries[0].Key)
	}

	n.MergeWith(right)
	if len(n.Entries) != 4 {
		t.Fatalf("merge lost entries: got %d, want 4", len(n.Entries))
	}
}

func TestLeafBorrowFromLeftAndRight(t *testing.T) {
	left := &LeafNode{Entries: []LeafEntry{{Key: []byte("a"), Value: []byte("1")}, {Key: []byte("b"), Value: []byte("2")}, {Key: []byte("c"), Value: []byte("3")}}}
	right := &LeafNode{Entries: []LeafEntry{{Key: []byte("z"), Value: []byte("9")}}}

	newSep := right.BorrowFromLeft(left)
	if len(left.Entries) != 2 || len(right.Entries) != 2 {
		t.Fatalf("borrow sizes wrong: left=%d right=%d", len(left.Entries), len(right.Entries))
	}
	if string(right.Entries[0].Key) != "c" || string(newSep) != "c" {
		t.Errorf("expected borrowed key 'c' at front of right, got sep=%q entries=%+v", newSep, right.Entries)
	}

	newSep2 := left.BorrowFromRight(right)
	if string(newSep2) != "z" {
		t.Errorf("expected new separator 'z', got %q", newSep2)
	}
}

func TestLeafNeedsSplitAndUnderflow(t *testing.T) {
	n := &LeafNode{}
	if n.NeedsSplit() {
		t.Error("empty node should not need split")
	}
	if !n.Underflow() {
		t.Error("empty node should report underflow")
	}
	big := bytes.Repeat([]byte("x"), SplitThreshold)
	n.Upsert([]byte("k"), big)
	if !n.NeedsSplit() {
		t.Error("oversized node should need split")
	}
}

func TestInternalEncodeDecodeRoundTrip(t *testing.T) {
	n := &InternalNode{
		Keys:     [][]byte{[]byte("m"), []byte("t")},
		Children: []uint64{10, 20, 30},
	}
	p := storage.NewPage(1, storage.PageTypeInternal)
	if err := n.Encode(p); err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := DecodeInternal(p)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Keys) != 2 || len(got.Children) != 3 {
		t.Fatalf("got keys=%d children=%d, want 2/3", len(got.Keys), len(got.Children))
	}
	if got.Children[2] != 30 {
		t.Errorf("rightmost child = %d, want 30", got.Children[2])
	}
	for i, k := range got.Keys {
		if !bytes.Equal(k, n.Keys[i]) {
			t.Errorf("key %d = %q, want %q", i, k, n.Keys[i])
		}
	}
}

func TestInternalChildForKey(t *testing.T) {
	n := &InternalNode{
		Keys:     [][]byte{[]byte("m"), []byte("t")},
		Children: []uint64{10, 20, 30},
	}
	cases := []struct {
		key  string
		want int
	}{
		{"a", 0},
		{"m", 1}, // exact match on separator descends right (spec.md §4.6)
		{"n", 1},
		{"t", 2},
		{"z", 2},
	}
	for _, c := range cases {
		if got := n.ChildForKey([]byte(c.key)); got != c.want {
			t.Errorf("ChildForKey(%q) = %d, want %d", c.key, got, c.want)
		}
	}
}

func TestInternalInsertSeparator(t *testing.T) {
	n := &InternalNode{
		Keys:     [][]byte{[]byte("m")},
		Children: []uint64{10, 20},
	}
	n.InsertSeparator(1, []byte("t"), 30)
	if len(n.Keys) != 2 || len(n.Children) != 3 {
		t.Fatalf("unexpected sizes keys=%d children=%d", len(n.Keys), len(n.Children))
	}
	if string(n.Keys[1]) != "t" || n.Children[2] != 30 {
		t.Errorf("insert did not land correctly: keys=%v children=%v", n.Keys, n.Children)
	}
}

func TestInternalSplit(t *testing.T) {
	n := &InternalNode{
		Keys:     [][]byte{[]byte("b"), []byte("d"), []byte("f")},
		Children: []uint64{1, 2, 3, 4},
	}
	right, promoted := n.Split()
	if string(promoted) != "d" {
		t.Errorf("promoted = %q, want %q", promoted, "d")
	}
	if len(n.Keys) != 1 || len(n.Children) != 2 {
		t.Errorf("left node sizes wrong: keys=%d children=%d", len(n.Keys), len(n.Children))
	}
	if len(right.Keys) != 1 || len(right.Children) != 2 {
		t.Errorf("right node sizes wrong: keys=%d children=%d", len(right.Keys), len(right.Children))
	}
}

func TestInternalMergeWith(t *testing.T) {
	left := &InternalNode{Keys: [][]byte{[]byte("b")}, Children: []uint64{1, 2}}
	right := &InternalNode{Keys: [][]byte{[]byte("f")}, Children: []uint64{3, 4}}
	left.MergeWith(right, []byte("d"))

	if len(left.Keys) != 3 || len(left.Children) != 4 {
		t.Fatalf("merge sizes wrong: keys=%d children=%d", len(left.Keys), len(left.Children))
	}
	want := []string{"b", "d", "f"}
	for i, k := range want {
		if string(left.Keys[i]) != k {
			t.Errorf("key %d = %q, want %q", i, left.Keys[i], k)
		}
	}
}

func TestInternalRemoveChildAtMergeLeft(t *testing.T) {
	// Merging child 2 into its left sibling (childIdx=2): the caller
	// passes RemoveChildAt(childIdx), removing Children[2] and the
	// separator immediately to its left, Keys[1].
	n := &InternalNode{
		Keys:     [][]byte{[]byte("b"), []byte("d"), []byte("f")},
		Children: []uint64{1, 2, 3, 4},
	}
	n.RemoveChildAt(2)
	if len(n.Keys) != 2 || len(n.Children) != 3 {
		t.Fatalf("sizes wrong: keys=%v children=%v", n.Keys, n.Children)
	}
	if string(n.Keys[0]) != "b" || string(n.Keys[1]) != "f" {
		t.Errorf("keys = %v, want [b f]", n.Keys)
	}
	if n.Children[0] != 1 || n.Children[1] != 2 || n.Children[2] != 4 {
		t.Errorf("children = %v, want [1 2 4]", n.Children)
	}
}

func TestInternalRemoveChildAtMergeRight(t *testing.T) {
	// Merging child 0's right sibling into child 0 (childIdx=0): the
	// caller passes RemoveChildAt(childIdx+1), removing Children[1] and
	// its left separator, Keys[0] — same method, opposite direction.
	n := &InternalNode{
		Keys:     [][]byte{[]byte("b"), []byte("d"), []byte("f")},
		Children: []uint64{1, 2, 3, 4},
	}
	n.RemoveChildAt(1)
	if len(n.Keys) != 2 || len(n.Children) != 3 {
		t.Fatalf("sizes wrong: keys=%v children=%v", n.Keys, n.Children)
	}
	if string(n.Keys[0]) != "d" || string(n.Keys[1]) != "f" {
		t.Errorf("keys = %v, want [d f]", n.Keys)
	}
	if n.Children[0] != 1 || n.Children[1] != 3 || n.Children[2] != 4 {
		t.Errorf("children = %v, want [1 3 4]", n.Children)
	}
}

package engine

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"testing"
)

type fakeClock struct{ now int64 }

func (c *fakeClock) NowMillis() int64 { return c.now }

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := OpenMemory()
	if err != nil {
		t.Fatalf("open memory engine: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestPutGetRoundTrip(t *testing.T) {
	e := openTestEngine(t)
	if err := e.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := e.Get([]byte("a"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "1" {
		t.Fatalf("got %q, want 1", got)
	}
}

func TestGetMissingKeyReturnsNotFound(t *testing.T) {
	e := openTestEngine(t)
	if _, err := e.Get([]byte("missing")); err == nil {
		t.Fatalf("expected KeyNotFoundError")
	}
}

func TestPutOverwritesExistingKey(t *testing.T) {
	e := openTestEngine(t)
	if err := e.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := e.Put([]byte("a"), []byte("2")); err != nil {
		t.Fatal(err)
	}
	got, err := e.Get([]byte("a"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "2" {
		t.Fatalf("got %q, want 2", got)
	}
}

func TestManyPutsForceSplitAndLookupSucceeds(t *testing.T) {
	e := openTestEngine(t)
	const n = 2000
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		if err := e.Put(key, []byte(fmt.Sprintf("value-%d", i))); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}
	for i := 0; i < n; i += 97 {
		key := []byte(fmt.Sprintf("key-%05d", i))
		got, err := e.Get(key)
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		want := fmt.Sprintf("value-%d", i)
		if string(got) != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	}
}

func TestDeleteRemovesKey(t *testing.T) {
	e := openTestEngine(t)
	if err := e.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatal(err)
	}
	deleted, err := e.Delete([]byte("a"))
	if err != nil {
		t.Fatal(err)
	}
	if !deleted {
		t.Fatalf("expected deleted=true")
	}
	if _, err := e.Get([]byte("a")); err == nil {
		t.Fatalf("expected not found after delete")
	}
}

func TestDeleteMissingKeyReturnsFalse(t *testing.T) {
	e := openTestEngine(t)
	deleted, err := e.Delete([]byte("missing"))
	if err != nil {
		t.Fatal(err)
	}
	if deleted {
		t.Fatalf("expected deleted=false")
	}
}

func TestDeleteEveryThirdKeyKeepsTheOthers(t *testing.T) {
	e := openTestEngine(t)
	const n = 500
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		if err := e.Put(key, []byte("v")); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}
	for i := 0; i < n; i += 3 {
		key := []byte(fmt.Sprintf("key-%05d", i))
		if _, err := e.Delete(key); err != nil {
			t.Fatalf("delete %d: %v", i, err)
		}
	}
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		_, err := e.Get(key)
		if i%3 == 0 {
			if err == nil {
				t.Fatalf("key %d should be deleted", i)
			}
		} else if err != nil {
			t.Fatalf("key %d should still exist: %v", i, err)
		}
	}
}

func TestTTLExpiryHidesValue(t *testing.T) {
	clock := &fakeClock{now: 1000}
	e, err := OpenWithOptions(":memory:", Options{Clock: clock})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer e.Close()

	if err := e.PutWithTTL([]byte("a"), []byte("1"), 500); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Get([]byte("a")); err != nil {
		t.Fatalf("expected value before expiry: %v", err)
	}
	clock.now = 1600
	if _, err := e.Get([]byte("a")); err == nil {
		t.Fatalf("expected expired key to be reported not found")
	}
}

func TestOverflowValueRoundTrips(t *testing.T) {
	e := openTestEngine(t)
	big := make([]byte, 5000)
	for i := range big {
		big[i] = byte(i % 251)
	}
	if err := e.Put([]byte("big"), big); err != nil {
		t.Fatal(err)
	}
	got, err := e.Get([]byte("big"))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(big) {
		t.Fatalf("got len %d, want %d", len(got), len(big))
	}
	for i := range big {
		if got[i] != big[i] {
			t.Fatalf("byte %d mismatch", i)
		}
	}
}

func TestOverflowChainFreedOnDelete(t *testing.T) {
	e := openTestEngine(t)
	big := make([]byte, 5000)

	if err := e.Put([]byte("big"), big); err != nil {
		t.Fatal(err)
	}
	nextBefore := e.nextPageID
	if _, err := e.Delete([]byte("big")); err != nil {
		t.Fatal(err)
	}
	if len(e.freePageIDs) == 0 {
		t.Fatal("expected overflow chain pages to be reclaimed into free_page_ids after delete")
	}

	// Re-inserting an equally large value must reuse the freed chain pages
	// (LIFO) rather than growing the file further.
	if err := e.Put([]byte("big2"), big); err != nil {
		t.Fatal(err)
	}
	if e.nextPageID > nextBefore {
		t.Fatalf("expected reclaimed pages to be reused, nextPageID grew from %d to %d", nextBefore, e.nextPageID)
	}
}

func TestOverflowChainFreedOnOverwrite(t *testing.T) {
	e := openTestEngine(t)
	big := make([]byte, 5000)
	small := []byte("short")

	if err := e.Put([]byte("k"), big); err != nil {
		t.Fatal(err)
	}
	if len(e.freePageIDs) != 0 {
		t.Fatalf("expected no free pages yet, got %d", len(e.freePageIDs))
	}
	if err := e.Put([]byte("k"), small); err != nil {
		t.Fatal(err)
	}
	if len(e.freePageIDs) == 0 {
		t.Fatal("expected the old overflow chain to be freed on overwrite")
	}
	got, err := e.Get([]byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "short" {
		t.Fatalf("got %q, want %q", got, "short")
	}
}

func TestPutBatchAppliesAllSortedByKey(t *testing.T) {
	e := openTestEngine(t)
	var stream []byte
	appendTuple := func(key, value string) {
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(key)))
		stream = append(stream, lenBuf[:]...)
		stream = append(stream, key...)
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(value)))
		stream = append(stream, lenBuf[:]...)
		stream = append(stream, value...)
	}
	appendTuple("c", "3")
	appendTuple("a", "1")
	appendTuple("b", "2")

	n, err := e.PutBatch(stream)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("got %d applied, want 3", n)
	}
	for _, kv := range []struct{ k, v string }{{"a", "1"}, {"b", "2"}, {"c", "3"}} {
		got, err := e.Get([]byte(kv.k))
		if err != nil {
			t.Fatalf("get %s: %v", kv.k, err)
		}
		if string(got) != kv.v {
			t.Fatalf("key %s: got %q want %q", kv.k, got, kv.v)
		}
	}
}

func TestPutBatchStopsAtTruncatedTuple(t *testing.T) {
	e := openTestEngine(t)
	var stream []byte
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], 1)
	stream = append(stream, lenBuf[:]...)
	stream = append(stream, 'a')
	binary.LittleEndian.PutUint32(lenBuf[:], 1)
	stream = append(stream, lenBuf[:]...)
	stream = append(stream, '1')
	// Truncated trailing tuple: key_len present, key bytes missing.
	binary.LittleEndian.PutUint32(lenBuf[:], 10)
	stream = append(stream, lenBuf[:]...)

	n, err := e.PutBatch(stream)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("got %d applied, want 1", n)
	}
}

func TestWriteTxnCommitAppliesAllOps(t *testing.T) {
	e := openTestEngine(t)
	txn, err := e.BeginWrite()
	if err != nil {
		t.Fatal(err)
	}
	if err := txn.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := txn.Put([]byte("b"), []byte("2")); err != nil {
		t.Fatal(err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatal(err)
	}
	for _, kv := range []struct{ k, v string }{{"a", "1"}, {"b", "2"}} {
		got, err := e.Get([]byte(kv.k))
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != kv.v {
			t.Fatalf("key %s: got %q want %q", kv.k, got, kv.v)
		}
	}
}

func TestWriteTxnAbortDoesNotApply(t *testing.T) {
	e := openTestEngine(t)
	txn, err := e.BeginWrite()
	if err != nil {
		t.Fatal(err)
	}
	if err := txn.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatal(err)
	}
	txn.Abort()
	if _, err := e.Get([]byte("a")); err == nil {
		t.Fatalf("expected aborted txn to leave no trace")
	}
}

func TestReadTxnSeesSnapshotNotLaterWrites(t *testing.T) {
	e := openTestEngine(t)
	if err := e.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatal(err)
	}
	rtx := e.BeginRead()
	defer rtx.Close()

	if err := e.Put([]byte("a"), []byte("2")); err != nil {
		t.Fatal(err)
	}

	got, err := rtx.Get([]byte("a"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "1" {
		t.Fatalf("snapshot reader got %q, want 1 (pre-write value)", got)
	}
}

func TestCursorFirstLastNextPrev(t *testing.T) {
	e := openTestEngine(t)
	keys := []string{"a", "b", "c", "d", "e"}
	for _, k := range keys {
		if err := e.Put([]byte(k), []byte(k)); err != nil {
			t.Fatal(err)
		}
	}

	c := e.newCursor()
	if err := c.First(); err != nil {
		t.Fatal(err)
	}
	var forward []string
	for c.Valid() {
		key, _, err := c.entry()
		if err != nil {
			t.Fatal(err)
		}
		forward = append(forward, string(key))
		if err := c.Next(); err != nil {
			t.Fatal(err)
		}
	}
	if fmt.Sprint(forward) != fmt.Sprint(keys) {
		t.Fatalf("forward scan got %v, want %v", forward, keys)
	}

	if err := c.Last(); err != nil {
		t.Fatal(err)
	}
	var backward []string
	for c.Valid() {
		key, _, err := c.entry()
		if err != nil {
			t.Fatal(err)
		}
		backward = append(backward, string(key))
		if err := c.Prev(); err != nil {
			t.Fatal(err)
		}
	}
	if len(backward) != len(keys) {
		t.Fatalf("backward scan got %v entries, want %d", backward, len(keys))
	}
	for i, k := range backward {
		if k != keys[len(keys)-1-i] {
			t.Fatalf("backward[%d] = %q, want %q", i, k, keys[len(keys)-1-i])
		}
	}
}

func TestScanRangeBounds(t *testing.T) {
	e := openTestEngine(t)
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		if err := e.Put([]byte(k), []byte(k)); err != nil {
			t.Fatal(err)
		}
	}
	kvs, err := e.ScanRange([]byte("b"), []byte("d"), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(kvs) != 3 {
		t.Fatalf("got %d entries, want 3", len(kvs))
	}
	for i, want := range []string{"b", "c", "d"} {
		if string(kvs[i].Key) != want {
			t.Fatalf("entry %d = %q, want %q", i, kvs[i].Key, want)
		}
	}
}

func TestScanRangeLimit(t *testing.T) {
	e := openTestEngine(t)
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		if err := e.Put([]byte(k), []byte(k)); err != nil {
			t.Fatal(err)
		}
	}
	kvs, err := e.ScanRange(nil, nil, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(kvs) != 2 {
		t.Fatalf("got %d entries, want 2", len(kvs))
	}
}

func TestScanPrefixMatchesOnly(t *testing.T) {
	e := openTestEngine(t)
	for _, k := range []string{"user:1", "user:2", "order:1"} {
		if err := e.Put([]byte(k), []byte(k)); err != nil {
			t.Fatal(err)
		}
	}
	kvs, err := e.ScanPrefix([]byte("user:"))
	if err != nil {
		t.Fatal(err)
	}
	if len(kvs) != 2 {
		t.Fatalf("got %d entries, want 2", len(kvs))
	}
	for _, kv := range kvs {
		if len(kv.Key) < 5 || string(kv.Key[:5]) != "user:" {
			t.Fatalf("unexpected key %q in prefix scan", kv.Key)
		}
	}
}

func TestScanPrefixAllFFIsUnbounded(t *testing.T) {
	prefix := []byte{0xFF, 0xFF}
	upper, unbounded := prefixUpperBound(prefix)
	if !unbounded {
		t.Fatalf("expected unbounded upper, got %v", upper)
	}
}

func TestPrefixUpperBoundIncrementsLastByte(t *testing.T) {
	upper, unbounded := prefixUpperBound([]byte("ab"))
	if unbounded {
		t.Fatalf("expected bounded upper")
	}
	if string(upper) != "ac" {
		t.Fatalf("got %q, want %q", upper, "ac")
	}
}

func TestRecoveryReplaysUncheckpointedDataAfterReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.sdb")

	e, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("key-%03d", i))
		if err := e.PutNoSync(key, []byte("v")); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}
	if err := e.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := e.adapter.Close(); err != nil {
		t.Fatalf("close adapter: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("key-%03d", i))
		if _, err := reopened.Get(key); err != nil {
			t.Fatalf("key %d missing after recovery: %v", i, err)
		}
	}
}

func TestCheckpointTruncatesWAL(t *testing.T) {
	e := openTestEngine(t)
	for i := 0; i < 10; i++ {
		if err := e.Put([]byte(fmt.Sprintf("k%d", i)), []byte("v")); err != nil {
			t.Fatal(err)
		}
	}
	if err := e.Checkpoint(); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	size, err := e.log.Size()
	if err != nil {
		t.Fatal(err)
	}
	if size != 0 {
		t.Fatalf("wal size after checkpoint = %d, want 0", size)
	}
}

func TestReadOnlyEngineRejectsMutation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.sdb")
	e, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}

	ro, err := OpenReadOnly(path)
	if err != nil {
		t.Fatalf("open read-only: %v", err)
	}
	defer ro.Close()

	if err := ro.Put([]byte("b"), []byte("2")); err != ErrReadOnly {
		t.Fatalf("got %v, want ErrReadOnly", err)
	}
	if _, err := ro.Delete([]byte("a")); err != ErrReadOnly {
		t.Fatalf("got %v, want ErrReadOnly", err)
	}
	got, err := ro.Get([]byte("a"))
	if err != nil {
		t.Fatalf("get on read-only: %v", err)
	}
	if string(got) != "1" {
		t.Fatalf("got %q, want 1", got)
	}
}

func TestVerifyIntegrityReportsNoCorruptionOnHealthyDB(t *testing.T) {
	e := openTestEngine(t)
	for i := 0; i < 20; i++ {
		if err := e.Put([]byte(fmt.Sprintf("k%d", i)), []byte("v")); err != nil {
			t.Fatal(err)
		}
	}
	big := make([]byte, 3000)
	if err := e.Put([]byte("overflow"), big); err != nil {
		t.Fatal(err)
	}
	if err := e.Checkpoint(); err != nil {
		t.Fatal(err)
	}
	corrupted, err := e.VerifyIntegrity()
	if err != nil {
		t.Fatal(err)
	}
	if len(corrupted) != 0 {
		t.Fatalf("unexpected corrupted pages: %v", corrupted)
	}
}

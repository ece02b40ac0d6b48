package engine

import (
	"encoding/binary"
	"sort"

	"github.com/sikiodb/sikiodb/btree"
	"github.com/sikiodb/sikiodb/wal"
)

// PutBatch parse un flux de tuples (key_len u32, key, value_len u32,
// value) et les applique comme un unique commit WAL, triés par clé avant
// application (spec.md §4.9). Le parsing s'arrête silencieusement au
// premier tuple tronqué plutôt que de retourner une erreur, pour tolérer
// un flux produit de façon incrémentale.
func (e *Engine) PutBatch(stream []byte) (int, error) {
	if e.readOnly {
		return 0, ErrReadOnly
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	pairs, err := parseBatchStream(stream)
	if err != nil {
		return 0, err
	}
	if len(pairs) == 0 {
		return 0, nil
	}

	entries := make([]wal.Entry, 0, len(pairs)+1)
	for _, pr := range pairs {
		e.walSequence++
		entries = append(entries, wal.Entry{
			Sequence: e.walSequence,
			Op:       wal.OpPut,
			Key:      pr.key,
			Value:    btree.WrapRaw(pr.value),
		})
	}
	e.walSequence++
	entries = append(entries, wal.Entry{Sequence: e.walSequence, Op: wal.OpCommit})

	if _, err := e.log.Append(entries); err != nil {
		return 0, err
	}
	if err := e.log.Flush(); err != nil {
		return 0, err
	}

	sort.Slice(pairs, func(i, j int) bool { return string(pairs[i].key) < string(pairs[j].key) })
	for _, pr := range pairs {
		if err := e.applyPut(pr.key, btree.WrapRaw(pr.value)); err != nil {
			return 0, err
		}
	}

	if err := e.maybeCheckpoint(); err != nil {
		return len(pairs), err
	}
	return len(pairs), nil
}

type batchPair struct {
	key   []byte
	value []byte
}

// parseBatchStream lit des tuples length-prefixed jusqu'à épuisement ou
// troncature (grounded on original_source/src/db.rs's put_batch_internal).
func parseBatchStream(stream []byte) ([]batchPair, error) {
	var pairs []batchPair
	off := 0
	for {
		if off+4 > len(stream) {
			break
		}
		keyLen := int(binary.LittleEndian.Uint32(stream[off : off+4]))
		off += 4
		if off+keyLen > len(stream) {
			break
		}
		key := stream[off : off+keyLen]
		off += keyLen

		if off+4 > len(stream) {
			break
		}
		valLen := int(binary.LittleEndian.Uint32(stream[off : off+4]))
		off += 4
		if off+valLen > len(stream) {
			break
		}
		value := stream[off : off+valLen]
		off += valLen

		if keyLen > MaxKeySize {
			return nil, &KeyTooLargeError{Size: keyLen}
		}
		if valLen+1 > MaxValueSize {
			return nil, &ValueTooLargeError{Size: valLen}
		}
		pairs = append(pairs, batchPair{key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
	}
	return pairs, nil
}

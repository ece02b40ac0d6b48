package engine

import (
	"github.com/sikiodb/sikiodb/btree"
	"github.com/sikiodb/sikiodb/wal"
)

// txnOp est une mutation bufferisée dans une WriteTxn.
type txnOp struct {
	delete bool
	key    []byte
	value  []byte // déjà enveloppé (btree.WrapRaw/WrapTTL) pour un put
}

// WriteTxn regroupe plusieurs put/delete en un unique commit WAL
// (spec.md §4.10) : les mutations sont bufferisées en mémoire et
// n'atteignent le journal qu'à Commit.
type WriteTxn struct {
	e      *Engine
	ops    []txnOp
	closed bool
}

// BeginWrite ouvre une transaction d'écriture bufferisée.
func (e *Engine) BeginWrite() (*WriteTxn, error) {
	if e.readOnly {
		return nil, ErrReadOnly
	}
	return &WriteTxn{e: e}, nil
}

// Put bufferise une insertion/remplacement dans la transaction.
func (t *WriteTxn) Put(key, value []byte) error {
	if len(key) > MaxKeySize {
		return &KeyTooLargeError{Size: len(key)}
	}
	t.ops = append(t.ops, txnOp{key: key, value: btree.WrapRaw(value)})
	return nil
}

// PutWithTTL bufferise une insertion avec expiration relative.
func (t *WriteTxn) PutWithTTL(key, value []byte, ttlMillis int64) error {
	if len(key) > MaxKeySize {
		return &KeyTooLargeError{Size: len(key)}
	}
	expiry := t.e.clock.NowMillis() + ttlMillis
	t.ops = append(t.ops, txnOp{key: key, value: btree.WrapTTL(value, expiry)})
	return nil
}

// Delete bufferise une suppression.
func (t *WriteTxn) Delete(key []byte) error {
	if len(key) > MaxKeySize {
		return &KeyTooLargeError{Size: len(key)}
	}
	t.ops = append(t.ops, txnOp{delete: true, key: key})
	return nil
}

// Commit écrit toutes les mutations bufferisées comme un unique groupe
// WAL Put/Delete*, suivi d'un unique Commit, les flush une fois, puis les
// applique à l'arbre dans l'ordre où elles ont été bufferisées
// (spec.md §4.10 : "single WAL flush for the whole transaction").
func (t *WriteTxn) Commit() error {
	if t.closed {
		return nil
	}
	t.closed = true
	if t.e.readOnly {
		return ErrReadOnly
	}
	if len(t.ops) == 0 {
		return nil
	}

	t.e.mu.Lock()
	defer t.e.mu.Unlock()

	entries := make([]wal.Entry, 0, len(t.ops)+1)
	for _, op := range t.ops {
		t.e.walSequence++
		if op.delete {
			entries = append(entries, wal.Entry{Sequence: t.e.walSequence, Op: wal.OpDelete, Key: op.key})
		} else {
			entries = append(entries, wal.Entry{Sequence: t.e.walSequence, Op: wal.OpPut, Key: op.key, Value: op.value})
		}
	}
	t.e.walSequence++
	entries = append(entries, wal.Entry{Sequence: t.e.walSequence, Op: wal.OpCommit})

	if _, err := t.e.log.Append(entries); err != nil {
		return err
	}
	if err := t.e.log.Flush(); err != nil {
		return err
	}

	for _, op := range t.ops {
		if op.delete {
			if _, err := t.e.applyDelete(op.key); err != nil {
				return err
			}
		} else {
			if err := t.e.applyPut(op.key, op.value); err != nil {
				return err
			}
		}
	}

	return t.e.maybeCheckpoint()
}

// Abort abandonne la transaction sans toucher au WAL ni à l'arbre.
func (t *WriteTxn) Abort() {
	t.closed = true
	t.ops = nil
}

// ReadTxn épingle root_page_id au moment de son ouverture, offrant une vue
// isolée des écritures ultérieures (spec.md §4.10 : snapshot reads).
// Tant qu'elle reste ouverte, toute page libérée par une fusion ou une
// réécriture d'overflow est retenue plutôt que recyclée (voir
// Engine.freePage).
type ReadTxn struct {
	e          *Engine
	rootPageID uint64
	closed     bool
}

// BeginRead ouvre une transaction de lecture, épinglant la racine courante.
func (e *Engine) BeginRead() *ReadTxn {
	e.mu.Lock()
	e.readerRefCount++
	root := e.rootPageID
	e.mu.Unlock()
	return &ReadTxn{e: e, rootPageID: root}
}

// Get lit key dans l'instantané épinglé par la transaction.
func (t *ReadTxn) Get(key []byte) ([]byte, error) {
	t.e.mu.RLock()
	defer t.e.mu.RUnlock()

	stored, found, err := t.e.lookup(t.rootPageID, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &KeyNotFoundError{Key: key}
	}
	resolved, err := t.e.resolveStored(stored)
	if err != nil {
		return nil, err
	}
	value, ok, err := btree.Unwrap(resolved, t.e.clock.NowMillis())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &KeyNotFoundError{Key: key}
	}
	return value, nil
}

// Close libère l'instantané, laissant les pages en attente rejoindre
// free_page_ids si c'était le dernier lecteur actif.
func (t *ReadTxn) Close() {
	if t.closed {
		return
	}
	t.closed = true
	t.e.releaseReader()
}

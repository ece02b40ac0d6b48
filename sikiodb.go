// Package sikiodb expose la façade publique de SikioDB : un magasin
// clé-valeur ordonné, embarqué, mono-écrivain, consistant en cas
// d'incident (spec.md §6).
package sikiodb

import (
	"github.com/sikiodb/sikiodb/engine"
	"github.com/sikiodb/sikiodb/stats"
)

// DB est une base ouverte. Toutes ses méthodes sont sûres à appeler depuis
// plusieurs goroutines ; la sérialisation effective des écritures reste la
// responsabilité de l'appelant en cas de multi-process (spec.md §5).
type DB struct {
	e *engine.Engine
}

// Options reprend engine.Options sans exposer le paquet interne.
type Options = engine.Options

// KV est une paire clé/valeur retournée par un scan.
type KV = engine.KV

// WriteTxn et ReadTxn exposent les transactions bufferisées/d'instantané.
type WriteTxn = engine.WriteTxn
type ReadTxn = engine.ReadTxn

// Open ouvre (ou crée) une base à path, effectuant la reprise sur incident.
func Open(path string) (*DB, error) {
	e, err := engine.Open(path)
	if err != nil {
		return nil, err
	}
	return &DB{e: e}, nil
}

// OpenReadOnly ouvre une base existante en lecture seule.
func OpenReadOnly(path string) (*DB, error) {
	e, err := engine.OpenReadOnly(path)
	if err != nil {
		return nil, err
	}
	return &DB{e: e}, nil
}

// OpenMemory crée une base entièrement en mémoire.
func OpenMemory() (*DB, error) {
	e, err := engine.OpenMemory()
	if err != nil {
		return nil, err
	}
	return &DB{e: e}, nil
}

// OpenWithOptions ouvre path avec des options explicites.
func OpenWithOptions(path string, opts Options) (*DB, error) {
	e, err := engine.OpenWithOptions(path, opts)
	if err != nil {
		return nil, err
	}
	return &DB{e: e}, nil
}

// Get lit key.
func (db *DB) Get(key []byte) ([]byte, error) {
	return db.e.Get(key)
}

// Put insère ou remplace key/value, durablement.
func (db *DB) Put(key, value []byte) error {
	return db.e.Put(key, value)
}

// PutWithTTL insère key/value avec une expiration relative en millisecondes.
func (db *DB) PutWithTTL(key, value []byte, ttlMillis int64) error {
	return db.e.PutWithTTL(key, value, ttlMillis)
}

// PutNoSync insère key/value sans fsync du WAL.
func (db *DB) PutNoSync(key, value []byte) error {
	return db.e.PutNoSync(key, value)
}

// PutBatch applique un flux length-prefixed de paires clé/valeur en un seul
// commit et retourne le nombre de paires appliquées.
func (db *DB) PutBatch(stream []byte) (int, error) {
	return db.e.PutBatch(stream)
}

// Delete retire key. Retourne true si la clé était présente.
func (db *DB) Delete(key []byte) (bool, error) {
	return db.e.Delete(key)
}

// ScanRange retourne les paires dans [start, end], triées, bornées à limit
// résultats (0 = illimité). start/end nil signifie non borné.
func (db *DB) ScanRange(start, end []byte, limit int) ([]KV, error) {
	return db.e.ScanRange(start, end, limit)
}

// ScanPrefix retourne toutes les paires dont la clé commence par prefix.
func (db *DB) ScanPrefix(prefix []byte) ([]KV, error) {
	return db.e.ScanPrefix(prefix)
}

// BeginWrite ouvre une transaction d'écriture bufferisée.
func (db *DB) BeginWrite() (*WriteTxn, error) {
	return db.e.BeginWrite()
}

// BeginRead ouvre une transaction de lecture en instantané.
func (db *DB) BeginRead() *ReadTxn {
	return db.e.BeginRead()
}

// Flush fsync le WAL et le fichier data sans déclencher de checkpoint.
func (db *DB) Flush() error {
	return db.e.Flush()
}

// Checkpoint force un checkpoint immédiat.
func (db *DB) Checkpoint() error {
	return db.e.Checkpoint()
}

// VerifyIntegrity relit toutes les pages et retourne les ids corrompus.
func (db *DB) VerifyIntegrity() ([]uint64, error) {
	return db.e.VerifyIntegrity()
}

// Close effectue un checkpoint puis ferme la base.
func (db *DB) Close() error {
	return db.e.Close()
}

// Stats retourne les compteurs d'opérations, ou nil si Options.Stats
// n'a pas été fourni à l'ouverture.
func (db *DB) Stats() *stats.Counters {
	return db.e.Stats()
}

// Package stats fournit des compteurs d'opérations optionnels autour d'un
// moteur SikioDB : reads/writes/deletes, hits/misses de cache, octets
// transférés, et une estimation de fragmentation.
package stats

import (
	"fmt"
	"sync/atomic"
)

// Counters accumule des compteurs atomiques, sûrs à incrémenter depuis
// plusieurs goroutines même si le moteur lui-même sérialise ses écritures
// (grounded on original_source/src/stats.rs's AtomicU64 fields).
type Counters struct {
	reads        atomic.Uint64
	writes       atomic.Uint64
	deletes      atomic.Uint64
	cacheHits    atomic.Uint64
	cacheMisses  atomic.Uint64
	bytesRead    atomic.Uint64
	bytesWritten atomic.Uint64
	checkpoints  atomic.Uint64
}

// New crée un jeu de compteurs à zéro.
func New() *Counters {
	return &Counters{}
}

func (c *Counters) RecordRead(bytes uint64) {
	c.reads.Add(1)
	c.bytesRead.Add(bytes)
}

func (c *Counters) RecordWrite(bytes uint64) {
	c.writes.Add(1)
	c.bytesWritten.Add(bytes)
}

func (c *Counters) RecordDelete() {
	c.deletes.Add(1)
}

func (c *Counters) RecordCacheHit() {
	c.cacheHits.Add(1)
}

func (c *Counters) RecordCacheMiss() {
	c.cacheMisses.Add(1)
}

func (c *Counters) RecordCheckpoint() {
	c.checkpoints.Add(1)
}

// CacheHitRate retourne le taux de succès du cache en pourcentage, ou 0
// s'il n'y a pas encore eu d'accès (grounded on
// original_source/src/stats.rs's cache_hit_rate, and on
// storage.Cache.Stats's hit/miss counter pair).
func (c *Counters) CacheHitRate() float64 {
	hits := c.cacheHits.Load()
	misses := c.cacheMisses.Load()
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100
}

// Snapshot est une copie immuable des compteurs à un instant donné.
type Snapshot struct {
	Reads        uint64
	Writes       uint64
	Deletes      uint64
	CacheHits    uint64
	CacheMisses  uint64
	CacheHitRate float64
	BytesRead    uint64
	BytesWritten uint64
	Checkpoints  uint64
}

// Snapshot capture l'état courant des compteurs.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Reads:        c.reads.Load(),
		Writes:       c.writes.Load(),
		Deletes:      c.deletes.Load(),
		CacheHits:    c.cacheHits.Load(),
		CacheMisses:  c.cacheMisses.Load(),
		CacheHitRate: c.CacheHitRate(),
		BytesRead:    c.bytesRead.Load(),
		BytesWritten: c.bytesWritten.Load(),
		Checkpoints:  c.checkpoints.Load(),
	}
}

// String formate le snapshot en une ligne lisible.
func (s Snapshot) String() string {
	return fmt.Sprintf(
		"reads=%d writes=%d deletes=%d cache_hit_rate=%.1f%% bytes_read=%d bytes_written=%d checkpoints=%d",
		s.Reads, s.Writes, s.Deletes, s.CacheHitRate, s.BytesRead, s.BytesWritten, s.Checkpoints,
	)
}

// FragmentationEstimate estime le pourcentage (0-100) de pages allouées qui sont
// actuellement libres (dans free_page_ids) plutôt que récupérées par
// l'espace utilisateur — une approximation grossière de la fragmentation
// du fichier data (grounded on original_source/src/stats.rs's to_json
// reporting shape, adapted since the Rust original does not track free
// pages directly in DatabaseStats — spec.md §3.1's free-list is the
// source of truth here).
func FragmentationEstimate(freePageCount, totalPageCount uint64) float64 {
	if totalPageCount == 0 {
		return 0
	}
	return float64(freePageCount) / float64(totalPageCount) * 100
}

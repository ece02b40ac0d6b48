// Package engine implémente le cœur de SikioDB : le moteur qui possède
// l'adaptateur de stockage, le cache de pages, l'état de racine du
// B+-tree et le numéro de séquence WAL, et qui expose put/get/delete/scan,
// les transactions, la reprise sur incident et le checkpoint (spec.md §4).
package engine

import (
	"sort"
	"sync"

	"github.com/sikiodb/sikiodb/btree"
	"github.com/sikiodb/sikiodb/stats"
	"github.com/sikiodb/sikiodb/storage"
	"github.com/sikiodb/sikiodb/wal"
)

// MaxKeySize et MaxValueSize bornent la taille d'une clé/valeur utilisateur
// (spec.md §4.4).
const (
	MaxKeySize   = 1024
	MaxValueSize = 64 * 1024 * 1024
)

// checkpointThresholdDefault est la taille de WAL (en octets) au-delà de
// laquelle un put/delete déclenche un checkpoint (spec.md §4.4, §4.11).
const checkpointThresholdDefault = 50 * 1024 * 1024

// Options configure Open/OpenWithOptions.
type Options struct {
	// CacheCapacity est le nombre de pages résidentes dans la LRU (0 = défaut 256).
	CacheCapacity int
	// Clock fournit l'horloge murale pour l'expiration TTL (nil = SystemClock).
	Clock Clock
	// CheckpointThresholdBytes borne la taille du WAL avant checkpoint forcé
	// (0 = défaut 50 MiB).
	CheckpointThresholdBytes int64
	// ReadOnly ouvre le moteur en lecture seule : toute mutation échoue avec
	// ErrReadOnly.
	ReadOnly bool
	// Stats, si non nil, reçoit les compteurs d'opérations (reads/writes/
	// deletes, hits/misses de cache) au fil de l'exécution.
	Stats *stats.Counters
}

func (o Options) withDefaults() Options {
	if o.CacheCapacity == 0 {
		o.CacheCapacity = 256
	}
	if o.Clock == nil {
		o.Clock = SystemClock{}
	}
	if o.CheckpointThresholdBytes == 0 {
		o.CheckpointThresholdBytes = checkpointThresholdDefault
	}
	return o
}

// Engine est le moteur de stockage : il possède l'adaptateur de fichiers,
// le cache de pages et l'état de l'arbre, et sérialise l'accès en écriture
// derrière un mutex — spec.md §5 ne retire cette discipline qu'aux
// appelants concurrents multi-processus, pas à la sûreté interne du moteur
// face à plusieurs goroutines.
type Engine struct {
	mu sync.RWMutex

	adapter *storage.Adapter
	cache   *storage.Cache
	log     *wal.Log
	clock   Clock

	checkpointThreshold int64
	readOnly            bool

	rootPageID  uint64
	nextPageID  uint64
	freePageIDs []uint64 // triés ascendant ; dépilés en LIFO (spec.md §3.1)
	walSequence uint64

	// readerRefCount et pendingFree implémentent la résolution de l'Open
	// Question "snapshot/page-reuse safety" (SPEC_FULL.md §4.3) : tant
	// qu'un lecteur-instantané est actif, les pages libérées par une
	// fusion ou une réécriture d'overflow sont mises de côté plutôt que
	// recyclées, pour ne pas être réutilisées sous les pieds d'un lecteur
	// qui a épinglé un ancien root_page_id.
	readerRefCount int
	pendingFree    map[uint64]bool

	stats *stats.Counters
}

// Open ouvre (ou crée) une base à path, effectuant la reprise sur incident.
func Open(path string) (*Engine, error) {
	return OpenWithOptions(path, Options{})
}

// OpenReadOnly ouvre une base existante en lecture seule : toute mutation
// retourne ErrReadOnly (grounded on original_source/src/readonly.rs).
func OpenReadOnly(path string) (*Engine, error) {
	return OpenWithOptions(path, Options{ReadOnly: true})
}

// OpenMemory crée un moteur entièrement en mémoire, utile pour les tests et
// les bases éphémères.
func OpenMemory() (*Engine, error) {
	return openWithAdapter(storage.OpenMemory(), Options{})
}

// OpenWithOptions ouvre path avec des options explicites.
func OpenWithOptions(path string, opts Options) (*Engine, error) {
	adapter, err := storage.Open(path)
	if err != nil {
		return nil, err
	}
	return openWithAdapter(adapter, opts)
}

func openWithAdapter(adapter *storage.Adapter, opts Options) (*Engine, error) {
	opts = opts.withDefaults()
	e := &Engine{
		adapter:             adapter,
		cache:               storage.NewCache(opts.CacheCapacity),
		log:                 wal.NewLog(adapter),
		clock:               opts.Clock,
		checkpointThreshold: opts.CheckpointThresholdBytes,
		readOnly:            opts.ReadOnly,
		pendingFree:         make(map[uint64]bool),
		stats:               opts.Stats,
	}
	if err := e.recover(); err != nil {
		adapter.Close()
		return nil, err
	}
	return e, nil
}

// recover implémente spec.md §4.12 : sélection du slot de métadonnées
// valide le plus récent, puis rejeu du WAL en groupant pending/committed.
func (e *Engine) recover() error {
	var best *metadata

	count, err := e.adapter.DataPageCount()
	if err != nil {
		return err
	}
	if count > metadataPageID0 {
		if buf, err := e.adapter.ReadRawPage(metadataPageID0); err == nil {
			if m := decodeMetadata(buf[:]); m != nil {
				best = m
			}
		}
	}
	if count > metadataPageID1 {
		if buf, err := e.adapter.ReadRawPage(metadataPageID1); err == nil {
			if m := decodeMetadata(buf[:]); m != nil {
				if best == nil || m.WalSequence > best.WalSequence {
					best = m
				}
			}
		}
	}

	if best != nil && best.RootPageID > 0 {
		e.rootPageID = best.RootPageID
		e.nextPageID = best.NextPageID
		e.freePageIDs = append([]uint64(nil), best.FreePageIDs...)
		e.walSequence = best.WalSequence
	} else {
		if err := e.initializeEmptyDB(); err != nil {
			return err
		}
	}

	size, err := e.log.Size()
	if err != nil {
		return err
	}
	if size > 0 {
		if err := e.replayWAL(); err != nil {
			return err
		}
	}
	return nil
}

// initializeEmptyDB alloue une racine feuille vide et écrit des métadonnées
// identiques dans les deux slots (spec.md §4.12 point 1).
func (e *Engine) initializeEmptyDB() error {
	e.nextPageID = 2
	root, err := e.newLeafNode()
	if err != nil {
		return err
	}
	page := storage.NewPage(root.pageID, storage.PageTypeLeaf)
	if err := root.leaf.Encode(page); err != nil {
		return err
	}
	if err := e.adapter.WritePage(page); err != nil {
		return err
	}
	e.rootPageID = root.pageID

	meta := e.buildMetadata()
	if err := e.writeMetadataToSlot(metadataPageID0, meta); err != nil {
		return err
	}
	return e.writeMetadataToSlot(metadataPageID1, meta)
}

// writeMetadataToSlot sérialise meta et l'écrit tel quel dans slot (0 ou
// 1). Les pages de métadonnées portent leur propre magic/checksum
// (spec.md §3.5) à des offsets qui se chevauchent avec ceux de
// l'enveloppe générique de nœud (spec.md §3.1) ; elles contournent donc
// Page.Finalize/Verify et passent par l'écriture brute de l'adaptateur.
func (e *Engine) writeMetadataToSlot(slot uint64, meta *metadata) error {
	buf := meta.encode()
	return e.adapter.WriteRawPage(slot, buf[:])
}

func (e *Engine) buildMetadata() *metadata {
	return &metadata{
		RootPageID:  e.rootPageID,
		NextPageID:  e.nextPageID,
		WalSequence: e.walSequence,
		FreePageIDs: append([]uint64(nil), e.freePageIDs...),
	}
}

// allocatePage retourne un id de page réutilisé depuis free_page_ids
// (LIFO) ou, à défaut, alloue un nouvel id monotone.
func (e *Engine) allocatePage() (uint64, error) {
	if n := len(e.freePageIDs); n > 0 {
		id := e.freePageIDs[n-1]
		e.freePageIDs = e.freePageIDs[:n-1]
		return id, nil
	}
	id := e.nextPageID
	e.nextPageID++
	return id, nil
}

// freePage marque id comme réutilisable. Si un lecteur-instantané est
// actif, id est retenu dans pendingFree jusqu'à ce que le dernier lecteur
// se ferme (résolution de l'Open Question "snapshot/page-reuse safety").
func (e *Engine) freePage(id uint64) {
	if e.readerRefCount > 0 {
		e.pendingFree[id] = true
		return
	}
	e.freePageIDs = append(e.freePageIDs, id)
	sort.Slice(e.freePageIDs, func(i, j int) bool { return e.freePageIDs[i] < e.freePageIDs[j] })
}

// releaseReader décrémente le refcount de lecteurs-instantanés ; au
// dernier relâchement, toute page en attente dans pendingFree rejoint
// free_page_ids.
func (e *Engine) releaseReader() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.readerRefCount > 0 {
		e.readerRefCount--
	}
	if e.readerRefCount == 0 && len(e.pendingFree) > 0 {
		for id := range e.pendingFree {
			e.freePageIDs = append(e.freePageIDs, id)
		}
		e.pendingFree = make(map[uint64]bool)
		sort.Slice(e.freePageIDs, func(i, j int) bool { return e.freePageIDs[i] < e.freePageIDs[j] })
	}
}

// Allocate/WritePage/ReadPage/FreePage implémentent btree.PageAllocator
// pour la chaîne d'overflow (spec.md §3.3). Conformément au prototype
// d'origine, les pages d'overflow ne transitent PAS par le cache : elles
// sont écrites et relues directement via l'adaptateur, puisqu'elles sont
// typiquement lues une seule fois lors d'un get.
func (e *Engine) Allocate(pageType storage.PageType) (uint64, error) {
	return e.allocatePage()
}

// WritePage et ReadPage passent par l'I/O brute de l'adaptateur plutôt que
// par WritePage/ReadPage génériques : EncodeOverflowPage/DecodeOverflowPage
// (btree/overflow.go) calculent déjà leur propre checksum sur une plage
// d'octets distincte de celle de l'enveloppe générique de nœud, bien que
// les deux checksums partagent le même offset [20:24] — les faire
// transiter par Page.Finalize/Verify écraserait ou invaliderait celui de
// l'overflow.
func (e *Engine) WritePage(p *storage.Page) error {
	return e.adapter.WriteRawPage(p.PageID(), p.Data[:])
}

func (e *Engine) ReadPage(id uint64) (*storage.Page, error) {
	buf, err := e.adapter.ReadRawPage(id)
	if err != nil {
		return nil, err
	}
	return &storage.Page{Data: buf}, nil
}

func (e *Engine) FreePage(id uint64) error {
	e.freePage(id)
	return nil
}

// Stats retourne les compteurs d'opérations configurés via Options.Stats,
// ou nil si aucun n'a été fourni à l'ouverture.
func (e *Engine) Stats() *stats.Counters {
	return e.stats
}

// Checkpoint exécute les six étapes de spec.md §4.11.
func (e *Engine) Checkpoint() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.checkpointLocked()
}

func (e *Engine) checkpointLocked() error {
	ids := e.cache.DirtyPageIDs()
	for _, id := range ids {
		p, ok := e.cache.TakeDirtyPage(id)
		if !ok {
			continue
		}
		if err := e.adapter.WritePage(p); err != nil {
			return err
		}
	}
	if err := e.adapter.FlushData(); err != nil {
		return err
	}

	meta := e.buildMetadata()
	slot := metadataPageID0
	if e.walSequence%2 != 0 {
		slot = metadataPageID1
	}
	if err := e.writeMetadataToSlot(slot, meta); err != nil {
		return err
	}
	if err := e.adapter.FlushData(); err != nil {
		return err
	}
	if err := e.log.Truncate(); err != nil {
		return err
	}

	e.walSequence = 0
	e.cache.ClearDirty()
	if e.stats != nil {
		e.stats.RecordCheckpoint()
	}
	return nil
}

// maybeCheckpoint déclenche un checkpoint si la taille du WAL dépasse le
// seuil configuré (spec.md §4.4 point 7).
func (e *Engine) maybeCheckpoint() error {
	size, err := e.log.Size()
	if err != nil {
		return err
	}
	if size > e.checkpointThreshold || e.cache.SpillOverLimit() {
		return e.checkpointLocked()
	}
	return nil
}

// Flush fsync le WAL et le fichier data sans déclencher de checkpoint.
func (e *Engine) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.log.Flush(); err != nil {
		return err
	}
	return e.adapter.FlushData()
}

// Close effectue un checkpoint (écriture des pages sales, fsync du fichier
// data, troncature du WAL) avant de fermer l'adaptateur
// (spec.md §9 : "callers MUST call close() for durability guarantees").
func (e *Engine) Close() error {
	e.mu.Lock()
	if err := e.checkpointLocked(); err != nil {
		e.mu.Unlock()
		e.adapter.Close()
		return err
	}
	e.mu.Unlock()
	return e.adapter.Close()
}

// VerifyIntegrity relit chaque page au-delà des slots de métadonnées et
// retourne les ids dont le contenu est structurellement invalide ou dont
// le checksum ne correspond pas (spec.md §6).
func (e *Engine) VerifyIntegrity() ([]uint64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	count, err := e.adapter.DataPageCount()
	if err != nil {
		return nil, err
	}
	var corrupted []uint64
	for id := uint64(2); id < count; id++ {
		if _, err := e.adapter.ReadPage(id); err == nil {
			continue
		}
		// Not a valid tree-node envelope — it may still be a valid
		// overflow page, whose checksum covers a different byte range
		// (spec.md §3.3) than the generic node envelope (spec.md §3.1).
		buf, err := e.adapter.ReadRawPage(id)
		if err != nil {
			corrupted = append(corrupted, id)
			continue
		}
		p := &storage.Page{Data: buf}
		if _, _, _, err := btree.DecodeOverflowPage(p); err != nil {
			corrupted = append(corrupted, id)
		}
	}
	return corrupted, nil
}

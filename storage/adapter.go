package storage

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Adapter est l'adaptateur de stockage (spec.md §4.1) : lectures/écritures
// positionnées sur deux handles de type fichier ("data" et "WAL"), avec
// flush et troncature indépendants par handle. Chaque méthode prend le
// mutex de l'adaptateur, si bien que deux appels ne s'exécutent jamais en
// même temps.
type Adapter struct {
	mu       sync.Mutex
	data     StorageFile
	wal      StorageFile
	lock     *fileLock
	dataPath string
}

// Open ouvre (ou crée) la paire de fichiers data+WAL à dataPath / dataPath+".wal",
// protégée par un verrou de fichier au niveau OS.
func Open(dataPath string) (*Adapter, error) {
	lock, err := lockFile(dataPath)
	if err != nil {
		return nil, err
	}

	data, err := os.OpenFile(dataPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		lock.unlock()
		return nil, fmt.Errorf("storage: open data file: %w", err)
	}
	wal, err := os.OpenFile(dataPath+".wal", os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		data.Close()
		lock.unlock()
		return nil, fmt.Errorf("storage: open wal file: %w", err)
	}

	return &Adapter{data: data, wal: wal, lock: lock, dataPath: dataPath}, nil
}

// OpenMemory crée un adaptateur entièrement en mémoire (pas de verrou OS —
// utilisé pour les tests et les bases éphémères).
func OpenMemory() *Adapter {
	return &Adapter{data: NewMemFile(), wal: NewMemFile(), dataPath: ":memory:"}
}

// Close ferme les deux handles et libère le verrou de fichier.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	dataErr := a.data.Close()
	walErr := a.wal.Close()
	if a.lock != nil {
		a.lock.unlock()
	}
	if dataErr != nil {
		return dataErr
	}
	return walErr
}

// ReadPage lit la page id depuis le fichier data et vérifie son checksum.
func (a *Adapter) ReadPage(id uint64) (*Page, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p := &Page{}
	if _, err := a.data.ReadAt(p.Data[:], int64(id)*PageSize); err != nil {
		return nil, &IoError{Message: fmt.Sprintf("read page %d", id), Err: err}
	}
	if err := p.Verify(); err != nil {
		return nil, err
	}
	return p, nil
}

// WritePage finalise le checksum de la page puis l'écrit à sa position.
func (a *Adapter) WritePage(p *Page) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	p.Finalize()
	if _, err := a.data.WriteAt(p.Data[:], int64(p.PageID())*PageSize); err != nil {
		return &IoError{Message: fmt.Sprintf("write page %d", p.PageID()), Err: err}
	}
	return nil
}

// ReadRawPage lit les 4096 octets bruts de la page id, sans passer par
// l'enveloppe générique de page : les métadonnées (spec.md §3.5) portent
// leur propre checksum à un offset différent de celui de l'enveloppe de
// nœud, donc Page.Verify ne s'applique pas à elles.
func (a *Adapter) ReadRawPage(id uint64) ([PageSize]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var buf [PageSize]byte
	if _, err := a.data.ReadAt(buf[:], int64(id)*PageSize); err != nil {
		return buf, &IoError{Message: fmt.Sprintf("read raw page %d", id), Err: err}
	}
	return buf, nil
}

// WriteRawPage écrit buf tel quel à la position de la page id, sans
// recalculer de checksum d'enveloppe générique.
func (a *Adapter) WriteRawPage(id uint64, buf []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.data.WriteAt(buf, int64(id)*PageSize); err != nil {
		return &IoError{Message: fmt.Sprintf("write raw page %d", id), Err: err}
	}
	return nil
}

// FlushData fsync le fichier data.
func (a *Adapter) FlushData() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.data.Sync()
}

// DataPageCount retourne le nombre de pages actuellement présentes dans le
// fichier data.
func (a *Adapter) DataPageCount() (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	info, err := a.data.Stat()
	if err != nil {
		return 0, err
	}
	return uint64(info.Size()) / PageSize, nil
}

// AppendWAL ajoute buf à la fin du fichier WAL et retourne l'offset auquel
// il a été écrit.
func (a *Adapter) AppendWAL(buf []byte) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	info, err := a.wal.Stat()
	if err != nil {
		return 0, err
	}
	offset := info.Size()
	if _, err := a.wal.WriteAt(buf, offset); err != nil {
		return 0, &IoError{Message: "append wal", Err: err}
	}
	return offset, nil
}

// ReadWAL lit length octets du WAL à partir de offset.
func (a *Adapter) ReadWAL(offset int64, length int) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	buf := make([]byte, length)
	n, err := a.wal.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, &IoError{Message: "read wal", Err: err}
	}
	return buf[:n], nil
}

// FlushWAL fsync le fichier WAL — la barrière de durabilité d'un commit.
func (a *Adapter) FlushWAL() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.wal.Sync()
}

// TruncateWAL vide le WAL après un checkpoint réussi.
func (a *Adapter) TruncateWAL() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.wal.Truncate(0); err != nil {
		return &IoError{Message: "truncate wal", Err: err}
	}
	return a.wal.Sync()
}

// WALSize retourne la taille courante du fichier WAL en octets.
func (a *Adapter) WALSize() (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	info, err := a.wal.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

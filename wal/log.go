package wal

import "github.com/sikiodb/sikiodb/storage"

// Log est le journal d'écriture anticipée adossé à l'adaptateur de stockage.
// Il ne garde aucun état décodé en mémoire : chaque Scan relit le fichier
// depuis le début, ce qui n'est exercé qu'au démarrage (recovery) et lors
// des tests — en fonctionnement normal l'engine n'append que.
type Log struct {
	adapter *storage.Adapter
}

// NewLog enveloppe un adaptateur de stockage déjà ouvert.
func NewLog(a *storage.Adapter) *Log {
	return &Log{adapter: a}
}

// Append sérialise puis écrit entries en un seul appel à l'adaptateur —
// c'est ce qui permet au put_batch (spec.md §4.9) d'amortir un seul flush
// sur l'ensemble du lot.
func (l *Log) Append(entries []Entry) (int64, error) {
	var buf []byte
	for i := range entries {
		buf = append(buf, entries[i].Encode()...)
	}
	return l.adapter.AppendWAL(buf)
}

// Flush fsync le fichier WAL — la barrière de durabilité d'un commit.
func (l *Log) Flush() error {
	return l.adapter.FlushWAL()
}

// Truncate vide le WAL après un checkpoint réussi.
func (l *Log) Truncate() error {
	return l.adapter.TruncateWAL()
}

// Size retourne la taille courante du WAL en octets.
func (l *Log) Size() (int64, error) {
	return l.adapter.WALSize()
}

// Scan relit l'intégralité du WAL et décode ses entrées dans l'ordre. La
// première entrée tronquée ou au CRC32 invalide arrête le scan : le reste
// du journal est considéré comme la queue d'une écriture interrompue par un
// crash et silencieusement abandonné (spec.md §4.12, §7).
func (l *Log) Scan() ([]Entry, error) {
	size, err := l.Size()
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	buf, err := l.adapter.ReadWAL(0, int(size))
	if err != nil {
		return nil, err
	}

	var entries []Entry
	offset := 0
	for offset < len(buf) {
		entry, n, err := Decode(buf[offset:])
		if err != nil {
			break
		}
		entries = append(entries, entry)
		offset += n
	}
	return entries, nil
}

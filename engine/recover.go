package engine

import "github.com/sikiodb/sikiodb/wal"

// replayWAL implémente spec.md §4.12 point 3 : les entrées Put/Delete
// s'accumulent dans pending jusqu'à un Commit, qui les déplace en bloc dans
// committed ; un Checkpoint rencontré en cours de scan vide pending ET
// committed (résolution de l'Open Question "mid-WAL checkpoint entry" —
// tout ce qui précède a déjà été durci dans le fichier data) et le scan
// continue plutôt que de s'arrêter. Les entrées de committed sont ensuite
// rejouées dans l'ordre via les mêmes chemins applyPut/applyDelete que
// l'écriture normale, sans réappendre au WAL, puis un checkpoint force la
// troncature du journal rejoué.
func (e *Engine) replayWAL() error {
	entries, err := e.log.Scan()
	if err != nil {
		return err
	}

	var pending []wal.Entry
	var committed []wal.Entry

	for _, entry := range entries {
		switch entry.Op {
		case wal.OpPut, wal.OpDelete:
			pending = append(pending, entry)
		case wal.OpCommit:
			committed = append(committed, pending...)
			pending = nil
		case wal.OpCheckpoint:
			pending = nil
			committed = nil
		}
	}

	for _, entry := range committed {
		switch entry.Op {
		case wal.OpPut:
			if err := e.applyPut(entry.Key, entry.Value); err != nil {
				return err
			}
		case wal.OpDelete:
			if _, err := e.applyDelete(entry.Key); err != nil {
				return err
			}
		}
		if entry.Sequence > e.walSequence {
			e.walSequence = entry.Sequence
		}
	}

	return e.checkpointLocked()
}

// Package wal implémente le codec et le journal d'écriture anticipée (WAL)
// de SikioDB : entrées Put/Delete/Commit/Checkpoint framées et checksummées
// (spec.md §3.6), rejouées en groupe au démarrage (engine.Engine.recover).
package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// Operation identifie le type d'une entrée WAL.
type Operation uint8

const (
	OpPut        Operation = 1
	OpDelete     Operation = 2
	OpCommit     Operation = 3
	OpCheckpoint Operation = 4
)

func (o Operation) String() string {
	switch o {
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	case OpCommit:
		return "commit"
	case OpCheckpoint:
		return "checkpoint"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(o))
	}
}

// HeaderSize est la taille de l'en-tête d'une entrée WAL, avant clé et valeur.
//
//	[0:8]   sequence  uint64
//	[8]     operation uint8
//	[9:12]  padding (3 octets)
//	[12:16] key_len   uint32
//	[16:20] value_len uint32
//	[20:24] checksum  uint32
const HeaderSize = 8 + 1 + 3 + 4 + 4 + 4

// Entry est une entrée décodée du WAL.
type Entry struct {
	Sequence uint64
	Op       Operation
	Key      []byte
	Value    []byte
}

// Encode sérialise l'entrée dans son format sur disque.
func (e *Entry) Encode() []byte {
	total := HeaderSize + len(e.Key) + len(e.Value)
	buf := make([]byte, total)

	binary.LittleEndian.PutUint64(buf[0:8], e.Sequence)
	buf[8] = byte(e.Op)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(e.Key)))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(len(e.Value)))

	off := HeaderSize
	copy(buf[off:], e.Key)
	off += len(e.Key)
	copy(buf[off:], e.Value)

	crc := crc32.NewIEEE()
	crc.Write(buf[0:8])                     // sequence
	crc.Write([]byte{byte(e.Op)})           // operation
	crc.Write(buf[12:16])                   // key_len
	crc.Write(e.Key)                        // key bytes
	crc.Write(buf[16:20])                   // value_len
	crc.Write(e.Value)                      // value bytes
	binary.LittleEndian.PutUint32(buf[20:24], crc.Sum32())

	return buf
}

// ErrTruncated signale une entrée dont les octets disponibles ne suffisent
// pas à couvrir l'en-tête ou la charge annoncée — la fin (probablement
// légitime, liée à un crash mi-écriture) du journal.
var ErrTruncated = fmt.Errorf("wal: truncated entry")

// Decode désérialise une entrée depuis buf, qui peut contenir davantage de
// données à sa suite. Retourne l'entrée, le nombre d'octets consommés, et
// une erreur si l'en-tête est tronqué, la charge tronquée, ou le CRC32 ne
// correspond pas (toutes ces erreurs sont traitées de façon identique par
// l'appelant : fin de journal exploitable).
func Decode(buf []byte) (Entry, int, error) {
	if len(buf) < HeaderSize {
		return Entry{}, 0, ErrTruncated
	}

	sequence := binary.LittleEndian.Uint64(buf[0:8])
	op := Operation(buf[8])
	keyLen := binary.LittleEndian.Uint32(buf[12:16])
	valueLen := binary.LittleEndian.Uint32(buf[16:20])
	storedCRC := binary.LittleEndian.Uint32(buf[20:24])

	total := HeaderSize + int(keyLen) + int(valueLen)
	if len(buf) < total {
		return Entry{}, 0, ErrTruncated
	}

	key := buf[HeaderSize : HeaderSize+int(keyLen)]
	value := buf[HeaderSize+int(keyLen) : total]

	crc := crc32.NewIEEE()
	crc.Write(buf[0:8])
	crc.Write([]byte{byte(op)})
	crc.Write(buf[12:16])
	crc.Write(key)
	crc.Write(buf[16:20])
	crc.Write(value)
	if crc.Sum32() != storedCRC {
		return Entry{}, 0, &ChecksumError{Sequence: sequence, Expected: storedCRC, Actual: crc.Sum32()}
	}

	entry := Entry{
		Sequence: sequence,
		Op:       op,
		Key:      append([]byte(nil), key...),
		Value:    append([]byte(nil), value...),
	}
	return entry, total, nil
}

// ChecksumError signale une entrée WAL dont le CRC32 stocké est invalide.
type ChecksumError struct {
	Sequence uint64
	Expected uint32
	Actual   uint32
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("wal: entry %d checksum mismatch: expected %d, got %d", e.Sequence, e.Expected, e.Actual)
}

package engine

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/sikiodb/sikiodb/storage"
)

// Magic est la valeur magique stockée dans chaque slot de métadonnées
// (spec.md §3.5), héritée du nom de crate du prototype d'origine : SikioDB.
const Magic uint64 = 0x53494B494F4442

// metadataHeaderSize est la taille de l'en-tête avant la liste des pages
// libres : magic(8) + root_page_id(8) + next_page_id(8) + wal_sequence(8) +
// checksum(4) + free_count(4).
const metadataHeaderSize = 40

const metadataPageID0 uint64 = 0
const metadataPageID1 uint64 = 1

// metadata est l'image décodée d'un slot de métadonnées.
type metadata struct {
	RootPageID  uint64
	NextPageID  uint64
	WalSequence uint64
	FreePageIDs []uint64
}

// encode sérialise m dans une page de 4096 octets. Le checksum ne couvre
// que les 36 premiers octets (magic/root/next/wal_sequence, champ checksum
// zéroé) — free_count et la liste des pages libres en sont délibérément
// exclus, fidèlement au calcul du prototype d'origine (leiko57/SikioDB).
func (m *metadata) encode() [storage.PageSize]byte {
	var buf [storage.PageSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], Magic)
	binary.LittleEndian.PutUint64(buf[8:16], m.RootPageID)
	binary.LittleEndian.PutUint64(buf[16:24], m.NextPageID)
	binary.LittleEndian.PutUint64(buf[24:32], m.WalSequence)

	freeCount := uint32(len(m.FreePageIDs))
	binary.LittleEndian.PutUint32(buf[36:40], freeCount)
	maxIDs := (storage.PageSize - metadataHeaderSize) / 8
	idsToWrite := len(m.FreePageIDs)
	if idsToWrite > maxIDs {
		idsToWrite = maxIDs
	}
	for i := 0; i < idsToWrite; i++ {
		off := metadataHeaderSize + i*8
		binary.LittleEndian.PutUint64(buf[off:off+8], m.FreePageIDs[i])
	}

	checksum := crc32.ChecksumIEEE(buf[0:36])
	binary.LittleEndian.PutUint32(buf[32:36], checksum)
	return buf
}

// decodeMetadata lit et valide un slot de métadonnées. Retourne nil si le
// magic ou le checksum est invalide — un slot absent ou perdu lors
// d'un crash mi-écriture, pas une erreur fatale (spec.md §4.12).
func decodeMetadata(buf []byte) *metadata {
	if len(buf) < metadataHeaderSize {
		return nil
	}
	if binary.LittleEndian.Uint64(buf[0:8]) != Magic {
		return nil
	}
	storedChecksum := binary.LittleEndian.Uint32(buf[32:36])

	check := append([]byte(nil), buf[0:36]...)
	binary.LittleEndian.PutUint32(check[32:36], 0)
	if crc32.ChecksumIEEE(check) != storedChecksum {
		return nil
	}

	m := &metadata{
		RootPageID:  binary.LittleEndian.Uint64(buf[8:16]),
		NextPageID:  binary.LittleEndian.Uint64(buf[16:24]),
		WalSequence: binary.LittleEndian.Uint64(buf[24:32]),
	}
	freeCount := int(binary.LittleEndian.Uint32(buf[36:40]))
	maxIDs := (storage.PageSize - metadataHeaderSize) / 8
	if freeCount > maxIDs {
		freeCount = maxIDs
	}
	m.FreePageIDs = make([]uint64, 0, freeCount)
	for i := 0; i < freeCount; i++ {
		off := metadataHeaderSize + i*8
		if off+8 > len(buf) {
			break
		}
		m.FreePageIDs = append(m.FreePageIDs, binary.LittleEndian.Uint64(buf[off:off+8]))
	}
	return m
}

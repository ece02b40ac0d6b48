package engine

import "github.com/klauspost/compress/s2"

// Étiquette d'algorithme de compression stockée en tête de l'image écrite
// dans une chaîne d'overflow (spec.md §3.4, §9). LZ4 est le choix d'origine
// de la spécification ; aucun repo de référence du corpus ne vendor de
// binding LZ4, et le seul codec de compression effectivement câblé dans le
// module teacher est github.com/klauspost/compress — son sous-paquet s2,
// un successeur de snappy pensé pour le même rôle de compression rapide à
// ratio modéré, en tient lieu (voir DESIGN.md).
const (
	compressionNone byte = 0x00
	compressionS2   byte = 0x01
)

// compressForOverflow enveloppe wrapped avec un octet d'étiquette : si la
// compression S2 ne réduit pas la taille, l'image reste non compressée
// (spec.md §3.4, §9 : "tags uncompressed vs compressed ... to allow bypass
// when compression does not shrink").
func compressForOverflow(wrapped []byte) []byte {
	compressed := s2.Encode(nil, wrapped)
	if len(compressed) >= len(wrapped) {
		out := make([]byte, 1+len(wrapped))
		out[0] = compressionNone
		copy(out[1:], wrapped)
		return out
	}
	out := make([]byte, 1+len(compressed))
	out[0] = compressionS2
	copy(out[1:], compressed)
	return out
}

// decompressOverflowImage inverse compressForOverflow.
func decompressOverflowImage(image []byte) ([]byte, error) {
	if len(image) == 0 {
		return nil, &CorruptedError{Message: "empty overflow image"}
	}
	tag, payload := image[0], image[1:]
	switch tag {
	case compressionNone:
		return append([]byte(nil), payload...), nil
	case compressionS2:
		return s2.Decode(nil, payload)
	default:
		return nil, &CorruptedError{Message: "unknown compression tag"}
	}
}

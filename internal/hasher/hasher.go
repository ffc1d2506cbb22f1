package hasher

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// ContentHash computes the xxHash64 of data and returns a hex string
// truncated to hexLen characters (0 keeps all 16). Used for export records
// and content-addressed upload names.
func ContentHash(data []byte, hexLen int) string {
	return truncate(sum(xxhash.Sum64(data)), hexLen)
}

// HandleID derives a buffer handle id from the payload and a sequence
// number. The sequence keeps ids unique when identical bytes are registered
// twice in one session (e.g. re-rendering an unchanged preview).
func HandleID(data []byte, seq uint64) string {
	d := xxhash.New()
	d.Write(data)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	d.Write(b[:])
	return truncate(sum(d.Sum64()), 16)
}

// UploadName builds the content-addressed filename for an exported buffer:
// edited-<hash12>.<ext>.
func UploadName(data []byte, ext string) string {
	return fmt.Sprintf("edited-%s.%s", ContentHash(data, 12), ext)
}

func sum(v uint64) string {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return hex.EncodeToString(b[:])
}

func truncate(full string, hexLen int) string {
	if hexLen > 0 && hexLen < len(full) {
		return full[:hexLen]
	}
	return full
}

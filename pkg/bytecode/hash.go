package bytecode

import (
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/zeebo/blake3"
)

// Hash is the content address of a module: the BLAKE3 digest of its
// serialized (uncompressed) form.
type Hash [32]byte

// ErrInvalidHash is returned when a hash string cannot be parsed.
var ErrInvalidHash = errors.New("invalid module hash")

// HashBytes returns the content hash of serialized module bytes.
func HashBytes(data []byte) Hash {
	return Hash(blake3.Sum256(data))
}

// Hash returns the content hash of the module.
func (m *Module) Hash() Hash {
	return HashBytes(m.Serialize())
}

// String returns the base58 form of the hash.
func (h Hash) String() string {
	return base58.Encode(h[:])
}

// Short returns the first eight base58 characters, for listings.
func (h Hash) Short() string {
	s := h.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// ParseHash decodes a base58 hash string.
func ParseHash(s string) (Hash, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return Hash{}, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	if len(raw) != len(Hash{}) {
		return Hash{}, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidHash, len(raw), len(Hash{}))
	}
	var h Hash
	copy(h[:], raw)
	return h, nil
}

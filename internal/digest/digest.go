// Package digest computes the BLAKE3 hashes used to name saved documents and
// cached resources. Each use has its own keyed domain so a document and a URL
// with identical bytes never share a digest.
package digest

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

type Hash [32]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

type domainKey [32]byte

// ASCII domain names, zero padded.
var (
	documentDomainKey = domainKey{
		'o', 'f', 'f', 'i', 'c', 'e', 'm', 'e', 's', 'h', '.', 'd', 'o', 'c', 'u', 'm',
		'e', 'n', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	resourceDomainKey = domainKey{
		'o', 'f', 'f', 'i', 'c', 'e', 'm', 'e', 's', 'h', '.', 'r', 'e', 's', 'o', 'u',
		'r', 'c', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

// Document hashes the bytes of a saved document.
func Document(data []byte) Hash {
	return keyedHash(documentDomainKey, data)
}

// Resource hashes the location of a fetched resource.
func Resource(location string) Hash {
	return keyedHash(resourceDomainKey, []byte(location))
}

func keyedHash(key domainKey, data []byte) Hash {
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("digest: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var out Hash
	copy(out[:], hasher.Sum(nil))
	return out
}

// Parse decodes a hex digest.
func Parse(s string) (Hash, bool) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(h) {
		return Hash{}, false
	}
	copy(h[:], b)
	return h, true
}

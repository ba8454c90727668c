package util

import (
	"fmt"
	"hash/fnv"
)

// Hash returns a short stable hex digest, used to build cache keys
// from feed identities of arbitrary length.
func Hash(s string) string {
	hasher := fnv.New64a()
	hasher.Write([]byte(s))
	return fmt.Sprintf("%x", hasher.Sum64())
}

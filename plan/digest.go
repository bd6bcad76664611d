package plan

import (
	"github.com/opencontainers/go-digest"

	"github.com/stratumbuild/stratum/internal/types"
)

// LayerDigest derives the cache key for one layer from the canonical
// (path, content digest) pair sequence of its entries. Entries are sorted
// by path before hashing so filesystem iteration order never reaches the
// digest, and no timestamp contributes to it.
func LayerDigest(entries []types.FileEntry) digest.Digest {
	sorted := make([]types.FileEntry, len(entries))
	copy(sorted, entries)
	types.SortFileEntries(sorted)

	digester := digest.Canonical.Digester()
	h := digester.Hash()
	for _, entry := range sorted {
		h.Write([]byte(entry.Path))
		h.Write([]byte{0})
		h.Write([]byte(entry.Digest))
		h.Write([]byte{0})
	}
	return digester.Digest()
}

// PlanDigest identifies a whole plan by its ordered layer digest sequence.
func PlanDigest(layers []types.Layer) digest.Digest {
	digester := digest.Canonical.Digester()
	h := digester.Hash()
	for i := range layers {
		h.Write([]byte(layers[i].Digest))
		h.Write([]byte{0})
	}
	return digester.Digest()
}

package loadbalancer

import (
	"sort"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// consistentHashRing maps virtual nodes onto a 64-bit ring and routes a key
// to the next node clockwise. The Rust source keeps a BTreeMap<u64, id>; Go
// has no ordered map, so the ring is a sorted slice of (hash, id) pairs
// rebuilt on membership change and binary-searched on lookup.
type consistentHashRing struct {
	mu           sync.RWMutex
	virtualNodes int
	hashes       []uint64
	owners       []string // owners[i] is the instance ID for hashes[i]
}

func newConsistentHashRing(virtualNodes int) *consistentHashRing {
	if virtualNodes <= 0 {
		virtualNodes = 150
	}
	return &consistentHashRing{virtualNodes: virtualNodes}
}

// update rebuilds the ring from the current candidate set. Called lazily on
// the next selection after a membership change, per spec §4.3.
func (r *consistentHashRing) update(instanceIDs []string) {
	type entry struct {
		hash  uint64
		owner string
	}
	entries := make([]entry, 0, len(instanceIDs)*r.virtualNodes)
	for _, id := range instanceIDs {
		for i := 0; i < r.virtualNodes; i++ {
			key := id + ":" + strconv.Itoa(i)
			entries = append(entries, entry{hash: hashKey(key), owner: id})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].hash < entries[j].hash })

	hashes := make([]uint64, len(entries))
	owners := make([]string, len(entries))
	for i, e := range entries {
		hashes[i] = e.hash
		owners[i] = e.owner
	}

	r.mu.Lock()
	r.hashes = hashes
	r.owners = owners
	r.mu.Unlock()
}

// find returns the owning instance ID for key, walking clockwise from its
// hash and wrapping to the first node if key's hash exceeds every node.
func (r *consistentHashRing) find(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.hashes) == 0 {
		return "", false
	}

	h := hashKey(key)
	idx := sort.Search(len(r.hashes), func(i int) bool { return r.hashes[i] >= h })
	if idx == len(r.hashes) {
		idx = 0
	}
	return r.owners[idx], true
}

func hashKey(key string) uint64 {
	return xxhash.Sum64String(key)
}

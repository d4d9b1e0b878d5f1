package hashmap

// Key is anything that can be hashed and compared structurally.
type Key[K any] interface {
	Hash() uint32
	Equal(other K) bool
}

type entry[K Key[K], V any] struct {
	key   K
	value V
}

// HashMap is a mutable hash table over structurally compared keys.
// Keys are kept in insertion order so iteration is deterministic.
type HashMap[K Key[K], V any] struct {
	M    map[uint32][]entry[K, V]
	Keys []K
}

func New[K Key[K], V any]() *HashMap[K, V] {
	return &HashMap[K, V]{M: make(map[uint32][]entry[K, V])}
}

func (h *HashMap[K, V]) Set(k K, v V) {
	hash := k.Hash()
	bucket := h.M[hash]
	for i := range bucket {
		if bucket[i].key.Equal(k) {
			bucket[i].value = v
			return
		}
	}
	h.M[hash] = append(bucket, entry[K, V]{key: k, value: v})
	h.Keys = append(h.Keys, k)
}

func (h *HashMap[K, V]) Get(k K) (v V, ok bool) {
	for _, e := range h.M[k.Hash()] {
		if e.key.Equal(k) {
			return e.value, true
		}
	}
	return
}

// GetOrSet returns the value stored under k, or stores v and returns it.
// The returned key is the one first stored.
func (h *HashMap[K, V]) GetOrSet(k K, v V) (K, V, bool) {
	hash := k.Hash()
	for _, e := range h.M[hash] {
		if e.key.Equal(k) {
			return e.key, e.value, true
		}
	}
	h.M[hash] = append(h.M[hash], entry[K, V]{key: k, value: v})
	h.Keys = append(h.Keys, k)
	return k, v, false
}

func (h *HashMap[K, V]) Len() int {
	return len(h.Keys)
}

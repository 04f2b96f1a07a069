package commands

// Keyspace is the host key-value store that filters live in. Values of other
// types may share the keyspace; operations on them fail with
// cuckoo.ErrWrongType.
type Keyspace interface {
	Get(key string) (any, bool)
	Set(key string, value any)
	Delete(key string)
}

// MapKeyspace is an in-memory Keyspace. It is not safe for concurrent use on
// its own; a Store serializes access to it.
type MapKeyspace map[string]any

// NewMapKeyspace returns an empty MapKeyspace.
func NewMapKeyspace() MapKeyspace {
	return make(MapKeyspace)
}

func (m MapKeyspace) Get(key string) (any, bool) {
	v, ok := m[key]
	return v, ok
}

func (m MapKeyspace) Set(key string, value any) {
	m[key] = value
}

func (m MapKeyspace) Delete(key string) {
	delete(m, key)
}

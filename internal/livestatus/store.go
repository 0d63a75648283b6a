package livestatus

// Keys under which the tracker's persisted scalars are stored. Each is an
// independent value; there is no schema beyond key/value.
const (
	keyLiveVideoID  = "live_video_id"
	keyLeaseExpires = "lease_expires_at"
	keyLastFlush    = "last_flush_at"
)

// Store is the persistence abstraction for the tracker's scalar state.
// Implementations can be in-memory or durable. The StateRepository uses
// Store for all reads and writes; callers of StateRepository do not need to
// know which Store is used.
type Store interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Delete(key string) error
}

// InMemoryStore is a map-backed Store for tests and ephemeral runs.
type InMemoryStore struct {
	values map[string]string
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{values: make(map[string]string)}
}

// Get implements Store.Get.
func (s *InMemoryStore) Get(key string) (string, bool, error) {
	v, ok := s.values[key]
	return v, ok, nil
}

// Set implements Store.Set.
func (s *InMemoryStore) Set(key, value string) error {
	s.values[key] = value
	return nil
}

// Delete implements Store.Delete.
func (s *InMemoryStore) Delete(key string) error {
	delete(s.values, key)
	return nil
}

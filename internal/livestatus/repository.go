package livestatus

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// BroadcastFunc receives the new snapshot after every live-state write.
type BroadcastFunc func(Snapshot)

// StateRepository is the single authoritative owner of the tracker's state:
// the current live video, the subscription lease expiry, and the manual
// refresh throttle. All three update paths (push notification,
// reconciliation, manual refresh) mutate state exclusively through this
// type, so ordering between them is simply arrival order at the mutex.
//
// Values are cached in memory and written through to the Store; a failed
// durable write is logged and the in-process value remains authoritative.
// The broadcast hook runs after the mutex is released but before the
// mutating call returns, which keeps listener I/O out of the state critical
// section while preserving write-implies-broadcast ordering.
type StateRepository struct {
	mu        sync.Mutex
	store     Store
	broadcast BroadcastFunc
	log       *slog.Logger

	videoID   string
	hasVideo  bool
	leaseExp  time.Time
	hasLease  bool
	lastFlush time.Time
	hasFlush  bool
}

// NewStateRepository constructs a repository and loads any persisted values
// from store.
func NewStateRepository(store Store, log *slog.Logger) (*StateRepository, error) {
	r := &StateRepository{store: store, log: log}

	v, ok, err := store.Get(keyLiveVideoID)
	if err != nil {
		return nil, fmt.Errorf("load live video id: %w", err)
	}
	if ok {
		r.videoID, r.hasVideo = v, true
	}

	if r.leaseExp, r.hasLease, err = loadTime(store, keyLeaseExpires); err != nil {
		return nil, err
	}
	if r.lastFlush, r.hasFlush, err = loadTime(store, keyLastFlush); err != nil {
		return nil, err
	}

	return r, nil
}

// loadTime reads an RFC3339 timestamp from store. Malformed values are
// treated as absent.
func loadTime(store Store, key string) (time.Time, bool, error) {
	v, ok, err := store.Get(key)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("load %s: %w", key, err)
	}
	if !ok {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false, nil
	}
	return t, true, nil
}

// SetBroadcast installs the function invoked with the new snapshot on every
// live-state write. Must be called before the repository is shared between
// goroutines.
func (r *StateRepository) SetBroadcast(fn BroadcastFunc) {
	r.broadcast = fn
}

// Snapshot returns the current live state.
func (r *StateRepository) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *StateRepository) snapshotLocked() Snapshot {
	if !r.hasVideo {
		return Snapshot{Live: false}
	}
	id := r.videoID
	return Snapshot{Live: true, VideoID: &id}
}

// SetLive records videoID as the currently live video and broadcasts the
// snapshot. It reports whether the effective value changed; re-affirming the
// same id still broadcasts, which listeners treat as an idempotent refresh.
func (r *StateRepository) SetLive(videoID string) bool {
	r.mu.Lock()
	changed := !r.hasVideo || r.videoID != videoID
	r.videoID, r.hasVideo = videoID, true
	r.persistLocked(keyLiveVideoID, videoID)
	snap := r.snapshotLocked()
	r.mu.Unlock()

	r.notify(snap)
	return changed
}

// Clear records that nothing is live and broadcasts the snapshot. It reports
// whether a live value was actually removed.
func (r *StateRepository) Clear() bool {
	r.mu.Lock()
	changed := r.hasVideo
	r.videoID, r.hasVideo = "", false
	if err := r.store.Delete(keyLiveVideoID); err != nil {
		r.log.Error("delete persisted state", slog.String("key", keyLiveVideoID), slog.String("error", err.Error()))
	}
	snap := r.snapshotLocked()
	r.mu.Unlock()

	r.notify(snap)
	return changed
}

// LeaseExpiry returns the expiry of the most recent verified subscription
// lease, if one is known.
func (r *StateRepository) LeaseExpiry() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaseExp, r.hasLease
}

// RecordLease stores the lease expiry obtained from a successful handshake.
func (r *StateRepository) RecordLease(expiresAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaseExp, r.hasLease = expiresAt, true
	r.persistLocked(keyLeaseExpires, expiresAt.UTC().Format(time.RFC3339))
}

// LastFlush returns the timestamp of the last accepted manual refresh, if any.
func (r *StateRepository) LastFlush() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastFlush, r.hasFlush
}

// RecordFlush stores the manual refresh timestamp. The throttle only moves
// forward; an older timestamp is ignored.
func (r *StateRepository) RecordFlush(at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hasFlush && !at.After(r.lastFlush) {
		return
	}
	r.lastFlush, r.hasFlush = at, true
	r.persistLocked(keyLastFlush, at.UTC().Format(time.RFC3339))
}

// persistLocked writes through to the store. Caller must hold r.mu.
func (r *StateRepository) persistLocked(key, value string) {
	if err := r.store.Set(key, value); err != nil {
		r.log.Error("persist state", slog.String("key", key), slog.String("error", err.Error()))
	}
}

func (r *StateRepository) notify(snap Snapshot) {
	if r.broadcast != nil {
		r.broadcast(snap)
	}
}

package livestatus

import (
	"errors"
	"fmt"
	"time"
)

// Snapshot is the wire representation of the current live state. It is sent
// to real-time listeners on connect and on every state change, and returned
// by the status endpoint. VideoID is nil when nothing is live.
type Snapshot struct {
	Live    bool    `json:"live"`
	VideoID *string `json:"videoId"`
}

// DefaultLeaseSeconds is the lease duration requested from the hub and
// assumed when a handshake omits hub.lease_seconds. Five days, by convention
// rather than protocol mandate.
const DefaultLeaseSeconds = 432000

// DefaultFlushCooldown is the minimum interval between accepted manual
// refreshes.
const DefaultFlushCooldown = 30 * time.Minute

var (
	// ErrBadHandshake is returned when a hub verification request does not
	// match the monitored subscription exactly.
	ErrBadHandshake = errors.New("handshake parameters do not match the monitored subscription")

	// ErrNoLiveVideo is returned by a manual refresh that found nothing live
	// on the channel.
	ErrNoLiveVideo = errors.New("no live video found")

	// ErrUpstream wraps a failed metadata or search lookup. Current state is
	// preserved when it occurs.
	ErrUpstream = errors.New("upstream lookup failed")
)

// RateLimitedError is returned by a manual refresh inside the cooldown
// window. RetryAfter is how long the caller must wait.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("manual refresh throttled, retry in %s", e.RetryAfter.Round(time.Second))
}

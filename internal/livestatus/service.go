package livestatus

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"livewatch/internal/platform/metrics"
	"livewatch/internal/websub"
	"livewatch/internal/youtube"
)

// leaseRenewalFraction: renew once less than this share of the configured
// lease window remains. The hub never announces imminent expiry, so the only
// signal is time-based.
const leaseRenewalFraction = 0.10

const renewTimeout = 15 * time.Second

// TopicForChannel returns the exact WebSub topic URL for a channel's upload
// feed. Handshake topic matching is against this string, byte for byte.
func TopicForChannel(channelID string) string {
	return "https://www.youtube.com/xml/feeds/videos.xml?channel_id=" + channelID
}

// MetadataClient looks up live-streaming details for a known video and
// searches for a currently live one on the monitored channel.
type MetadataClient interface {
	LiveStreamingDetails(ctx context.Context, videoID string) (*youtube.LiveDetails, error)
	SearchLive(ctx context.Context, channelID string) (string, bool, error)
}

// HubClient renews the upstream push subscription.
type HubClient interface {
	Subscribe(ctx context.Context, r websub.Request) error
}

// Config carries the tracker's per-channel settings.
type Config struct {
	ChannelID     string
	TopicURL      string        // exact WebSub topic; derived from ChannelID when empty
	CallbackURL   string        // public URL the hub pushes to
	VerifyToken   string        // hub.verify_token expected on handshakes
	WebhookSecret string        // shared secret for inbound notifications
	ControlToken  string        // privileged update header token
	LeaseSeconds  int           // lease duration requested from the hub
	FlushCooldown time.Duration // minimum interval between manual refreshes
}

// Service is the live-status actor. It authenticates and classifies push
// notifications, answers subscription handshakes, reconciles recorded state
// against the metadata service, renews the lease, and serves manual
// refreshes. All state flows through the single StateRepository write
// surface; no lock is held across an external call.
type Service struct {
	cfg      Config
	repo     *StateRepository
	metadata MetadataClient
	hub      HubClient
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// NewService returns a Service. Metrics may be nil to disable metric
// recording (e.g. in tests). Zero-valued lease and cooldown settings fall
// back to the defaults.
func NewService(cfg Config, repo *StateRepository, metadata MetadataClient, hub HubClient, log *slog.Logger, m *metrics.Metrics) *Service {
	if cfg.TopicURL == "" {
		cfg.TopicURL = TopicForChannel(cfg.ChannelID)
	}
	if cfg.LeaseSeconds <= 0 {
		cfg.LeaseSeconds = DefaultLeaseSeconds
	}
	if cfg.FlushCooldown <= 0 {
		cfg.FlushCooldown = DefaultFlushCooldown
	}
	return &Service{cfg: cfg, repo: repo, metadata: metadata, hub: hub, log: log, metrics: m}
}

// Snapshot returns the current live state.
func (s *Service) Snapshot() Snapshot {
	return s.repo.Snapshot()
}

// Status returns the current snapshot and the lease expiry, if known.
func (s *Service) Status() (Snapshot, time.Time, bool) {
	exp, ok := s.repo.LeaseExpiry()
	return s.repo.Snapshot(), exp, ok
}

// Authenticate checks the shared-secret token and, when present, the payload
// signature of an inbound notification.
func (s *Service) Authenticate(token, signature string, body []byte) bool {
	if !VerifyToken(token, s.cfg.WebhookSecret) {
		return false
	}
	return VerifySignature(signature, body, s.cfg.WebhookSecret)
}

// AuthorizeControl checks the privileged update token.
func (s *Service) AuthorizeControl(token string) bool {
	return VerifyToken(token, s.cfg.ControlToken)
}

// HandshakeParams are the hub.* query parameters of a verification GET.
type HandshakeParams struct {
	Mode         string
	Topic        string
	Challenge    string
	VerifyToken  string
	LeaseSeconds string
}

// VerifyHandshake validates a hub verification request. On success it records
// the new lease expiry and returns the challenge to echo back; any mismatch
// returns ErrBadHandshake with no state change.
func (s *Service) VerifyHandshake(p HandshakeParams) (string, error) {
	if p.Mode != "subscribe" || p.Topic != s.cfg.TopicURL || p.VerifyToken != s.cfg.VerifyToken || p.Challenge == "" {
		return "", ErrBadHandshake
	}

	lease, err := strconv.Atoi(p.LeaseSeconds)
	if err != nil || lease <= 0 {
		lease = DefaultLeaseSeconds
	}
	expiresAt := time.Now().Add(time.Duration(lease) * time.Second)
	s.repo.RecordLease(expiresAt)

	s.log.Info("subscription verified",
		slog.Int("lease_seconds", lease),
		slog.String("expires_at", expiresAt.UTC().Format(time.RFC3339)),
	)
	return p.Challenge, nil
}

// HandleNotification processes an authenticated push notification body. A
// body with nothing actionable, a non-livestream upload, or an inconclusive
// metadata lookup leaves state untouched; the caller acknowledges the hub
// regardless so it does not retry.
func (s *Service) HandleNotification(ctx context.Context, body []byte) {
	videoID, ok := ExtractVideoID(body)
	if !ok {
		s.log.Debug("notification without video id, ignoring")
		return
	}

	details, err := s.metadata.LiveStreamingDetails(ctx, videoID)
	if err != nil {
		s.log.Warn("live details lookup failed, keeping current state",
			slog.String("video_id", videoID), slog.String("error", err.Error()))
		return
	}
	if details == nil {
		s.log.Debug("notification for ordinary upload, ignoring", slog.String("video_id", videoID))
		return
	}
	if details.ActualEndTime != "" {
		// The push can arrive after the stream already finished.
		s.log.Debug("notification for ended stream, ignoring", slog.String("video_id", videoID))
		return
	}

	changed := s.repo.SetLive(videoID)
	s.log.Info("live video recorded", slog.String("video_id", videoID), slog.Bool("changed", changed))
}

// Reconcile is one pass of the periodic sweep: re-check a recorded live
// video against the metadata service, then renew the subscription lease if
// it is close to expiry. Each half degrades independently; an upstream
// failure leaves state as-is until the next pass.
func (s *Service) Reconcile(ctx context.Context) {
	if snap := s.repo.Snapshot(); snap.Live && snap.VideoID != nil {
		s.reconcileLive(ctx, *snap.VideoID)
	}
	s.maybeRenewLease()
}

func (s *Service) reconcileLive(ctx context.Context, videoID string) {
	details, err := s.metadata.LiveStreamingDetails(ctx, videoID)
	if err != nil {
		s.log.Warn("reconcile lookup failed, keeping current state",
			slog.String("video_id", videoID), slog.String("error", err.Error()))
		return
	}
	// Ended is signaled by the details disappearing entirely or by an
	// explicit end time; only present-without-end-time means still live.
	if details == nil || details.ActualEndTime != "" {
		s.repo.Clear()
		s.log.Info("recorded stream has ended", slog.String("video_id", videoID))
	}
}

// maybeRenewLease fires a detached renewal request when the lease is unknown
// or less than 10% of its window remains. The request is not awaited: its
// only visible effects are a log line and, eventually, a fresh handshake
// from the hub, which is what actually moves the expiry.
func (s *Service) maybeRenewLease() {
	window := time.Duration(s.cfg.LeaseSeconds) * time.Second
	if expiresAt, ok := s.repo.LeaseExpiry(); ok {
		if remaining := time.Until(expiresAt); float64(remaining) >= leaseRenewalFraction*float64(window) {
			return
		}
	}

	if s.metrics != nil {
		s.metrics.IncRenewalAttempts()
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), renewTimeout)
		defer cancel()
		err := s.hub.Subscribe(ctx, websub.Request{
			Callback:     s.cfg.CallbackURL,
			Topic:        s.cfg.TopicURL,
			VerifyToken:  s.cfg.VerifyToken,
			Secret:       s.cfg.WebhookSecret,
			LeaseSeconds: s.cfg.LeaseSeconds,
		})
		if err != nil {
			s.log.Warn("lease renewal request failed", slog.String("error", err.Error()))
			return
		}
		s.log.Info("lease renewal requested", slog.String("topic", s.cfg.TopicURL))
	}()
}

// Flush bypasses the push protocol and asks the search service directly
// whether anything is live right now. The cooldown timestamp is recorded
// before the external call, so the throttle holds even when the search
// fails. Returns ErrNoLiveVideo when the search comes back empty (state is
// cleared) and ErrUpstream when the search itself failed (state preserved).
func (s *Service) Flush(ctx context.Context) (Snapshot, error) {
	now := time.Now()
	if last, ok := s.repo.LastFlush(); ok {
		if elapsed := now.Sub(last); elapsed < s.cfg.FlushCooldown {
			return s.repo.Snapshot(), &RateLimitedError{RetryAfter: s.cfg.FlushCooldown - elapsed}
		}
	}
	s.repo.RecordFlush(now)

	videoID, found, err := s.metadata.SearchLive(ctx, s.cfg.ChannelID)
	if err != nil {
		s.log.Warn("live search failed, keeping current state", slog.String("error", err.Error()))
		return s.repo.Snapshot(), fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if !found {
		s.repo.Clear()
		s.log.Info("manual refresh found nothing live")
		return s.repo.Snapshot(), ErrNoLiveVideo
	}

	s.repo.SetLive(videoID)
	s.log.Info("manual refresh found live video", slog.String("video_id", videoID))
	return s.repo.Snapshot(), nil
}

// ApplyUpdate applies a privileged direct set or clear. A nil or empty id
// clears. Repeating the same update is safe; the repository re-broadcasts an
// identical snapshot, which listeners treat as a refresh.
func (s *Service) ApplyUpdate(videoID *string) Snapshot {
	if videoID == nil || *videoID == "" {
		s.repo.Clear()
	} else {
		s.repo.SetLive(*videoID)
	}
	return s.repo.Snapshot()
}

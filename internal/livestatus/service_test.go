package livestatus

import (
	"context"
	"errors"
	"testing"
	"time"

	"livewatch/internal/websub"
	"livewatch/internal/youtube"
)

// fakeMetadata implements MetadataClient for tests.
type fakeMetadata struct {
	details    map[string]*youtube.LiveDetails
	detailsErr error
	liveID     string
	searchErr  error
}

func (f *fakeMetadata) LiveStreamingDetails(ctx context.Context, videoID string) (*youtube.LiveDetails, error) {
	if f.detailsErr != nil {
		return nil, f.detailsErr
	}
	return f.details[videoID], nil
}

func (f *fakeMetadata) SearchLive(ctx context.Context, channelID string) (string, bool, error) {
	if f.searchErr != nil {
		return "", false, f.searchErr
	}
	if f.liveID == "" {
		return "", false, nil
	}
	return f.liveID, true, nil
}

// fakeHub implements HubClient for tests; Subscribe calls land on a channel
// because renewal is fired from a detached goroutine.
type fakeHub struct {
	calls chan websub.Request
	err   error
}

func newFakeHub() *fakeHub {
	return &fakeHub{calls: make(chan websub.Request, 4)}
}

func (f *fakeHub) Subscribe(ctx context.Context, r websub.Request) error {
	f.calls <- r
	return f.err
}

func testConfig() Config {
	return Config{
		ChannelID:     "UCchannel123",
		CallbackURL:   "https://tracker.example.com/webhook",
		VerifyToken:   "verify-token",
		WebhookSecret: "hook-secret",
		ControlToken:  "control-token",
		LeaseSeconds:  DefaultLeaseSeconds,
		FlushCooldown: DefaultFlushCooldown,
	}
}

func newTestService(t *testing.T, md MetadataClient, hub HubClient) (*Service, *StateRepository) {
	t.Helper()
	repo, err := NewStateRepository(NewInMemoryStore(), testLogger())
	if err != nil {
		t.Fatalf("NewStateRepository: %v", err)
	}
	return NewService(testConfig(), repo, md, hub, testLogger(), nil), repo
}

func validHandshake() HandshakeParams {
	return HandshakeParams{
		Mode:        "subscribe",
		Topic:       TopicForChannel("UCchannel123"),
		Challenge:   "XYZ123",
		VerifyToken: "verify-token",
	}
}

func TestVerifyHandshake_accepts_and_records_lease(t *testing.T) {
	svc, repo := newTestService(t, &fakeMetadata{}, newFakeHub())

	p := validHandshake()
	p.LeaseSeconds = "3600"
	challenge, err := svc.VerifyHandshake(p)
	if err != nil {
		t.Fatalf("VerifyHandshake: %v", err)
	}
	if challenge != "XYZ123" {
		t.Errorf("challenge = %q, want XYZ123", challenge)
	}

	exp, ok := repo.LeaseExpiry()
	if !ok {
		t.Fatal("expected lease expiry recorded")
	}
	want := time.Now().Add(time.Hour)
	if d := exp.Sub(want); d < -time.Minute || d > time.Minute {
		t.Errorf("lease expiry %v not near %v", exp, want)
	}
}

func TestVerifyHandshake_default_lease(t *testing.T) {
	svc, repo := newTestService(t, &fakeMetadata{}, newFakeHub())

	if _, err := svc.VerifyHandshake(validHandshake()); err != nil {
		t.Fatalf("VerifyHandshake: %v", err)
	}
	exp, _ := repo.LeaseExpiry()
	want := time.Now().Add(DefaultLeaseSeconds * time.Second)
	if d := exp.Sub(want); d < -time.Minute || d > time.Minute {
		t.Errorf("default lease expiry %v not near %v", exp, want)
	}
}

func TestVerifyHandshake_rejects_any_altered_parameter(t *testing.T) {
	svc, repo := newTestService(t, &fakeMetadata{}, newFakeHub())

	alter := map[string]func(*HandshakeParams){
		"mode":      func(p *HandshakeParams) { p.Mode = "unsubscribe" },
		"topic":     func(p *HandshakeParams) { p.Topic = TopicForChannel("UCother") },
		"token":     func(p *HandshakeParams) { p.VerifyToken = "wrong" },
		"challenge": func(p *HandshakeParams) { p.Challenge = "" },
	}
	for name, mutate := range alter {
		p := validHandshake()
		mutate(&p)
		if _, err := svc.VerifyHandshake(p); !errors.Is(err, ErrBadHandshake) {
			t.Errorf("%s: expected ErrBadHandshake, got %v", name, err)
		}
	}
	if _, ok := repo.LeaseExpiry(); ok {
		t.Error("expected no lease recorded after rejected handshakes")
	}
}

func TestHandleNotification_live_stream_sets_state(t *testing.T) {
	md := &fakeMetadata{details: map[string]*youtube.LiveDetails{
		"dQw4w9WgXcQ": {ActualStartTime: "2026-08-29T10:00:00Z"},
	}}
	svc, repo := newTestService(t, md, newFakeHub())

	svc.HandleNotification(context.Background(), []byte(uploadNotification))

	snap := repo.Snapshot()
	if !snap.Live || snap.VideoID == nil || *snap.VideoID != "dQw4w9WgXcQ" {
		t.Errorf("snapshot after live notification: %+v", snap)
	}
}

func TestHandleNotification_ordinary_upload_ignored(t *testing.T) {
	// No live details for the video at all.
	svc, repo := newTestService(t, &fakeMetadata{}, newFakeHub())

	svc.HandleNotification(context.Background(), []byte(uploadNotification))

	if snap := repo.Snapshot(); snap.Live {
		t.Errorf("expected state untouched for ordinary upload, got %+v", snap)
	}
}

func TestHandleNotification_ended_stream_ignored(t *testing.T) {
	md := &fakeMetadata{details: map[string]*youtube.LiveDetails{
		"dQw4w9WgXcQ": {ActualStartTime: "2026-08-29T10:00:00Z", ActualEndTime: "2026-08-29T11:00:00Z"},
	}}
	svc, repo := newTestService(t, md, newFakeHub())

	svc.HandleNotification(context.Background(), []byte(uploadNotification))

	if snap := repo.Snapshot(); snap.Live {
		t.Errorf("expected state untouched for ended stream, got %+v", snap)
	}
}

func TestHandleNotification_lookup_failure_keeps_state(t *testing.T) {
	md := &fakeMetadata{detailsErr: errors.New("quota exceeded")}
	svc, repo := newTestService(t, md, newFakeHub())
	repo.SetLive("previous99")

	svc.HandleNotification(context.Background(), []byte(uploadNotification))

	snap := repo.Snapshot()
	if !snap.Live || *snap.VideoID != "previous99" {
		t.Errorf("expected previous state kept on lookup failure, got %+v", snap)
	}
}

func TestHandleNotification_nothing_actionable(t *testing.T) {
	svc, repo := newTestService(t, &fakeMetadata{detailsErr: errors.New("must not be called")}, newFakeHub())

	svc.HandleNotification(context.Background(), []byte(deletedNotification))

	if snap := repo.Snapshot(); snap.Live {
		t.Errorf("expected no state change for deletion notice, got %+v", snap)
	}
}

func TestReconcile_clears_ended_stream(t *testing.T) {
	md := &fakeMetadata{details: map[string]*youtube.LiveDetails{
		"abc123": {ActualStartTime: "2026-08-29T10:00:00Z", ActualEndTime: "2026-08-29T11:00:00Z"},
	}}
	svc, repo := newTestService(t, md, newFakeHub())
	repo.SetLive("abc123")
	repo.RecordLease(time.Now().Add(48 * time.Hour))

	svc.Reconcile(context.Background())

	if snap := repo.Snapshot(); snap.Live {
		t.Errorf("expected state cleared for ended stream, got %+v", snap)
	}
}

func TestReconcile_clears_vanished_stream(t *testing.T) {
	// Details gone entirely also means ended.
	svc, repo := newTestService(t, &fakeMetadata{}, newFakeHub())
	repo.SetLive("abc123")
	repo.RecordLease(time.Now().Add(48 * time.Hour))

	svc.Reconcile(context.Background())

	if snap := repo.Snapshot(); snap.Live {
		t.Errorf("expected state cleared for vanished details, got %+v", snap)
	}
}

func TestReconcile_still_live_keeps_state(t *testing.T) {
	md := &fakeMetadata{details: map[string]*youtube.LiveDetails{
		"abc123": {ActualStartTime: "2026-08-29T10:00:00Z"},
	}}
	svc, repo := newTestService(t, md, newFakeHub())
	repo.SetLive("abc123")
	repo.RecordLease(time.Now().Add(48 * time.Hour))

	svc.Reconcile(context.Background())

	snap := repo.Snapshot()
	if !snap.Live || *snap.VideoID != "abc123" {
		t.Errorf("expected state kept while still live, got %+v", snap)
	}
}

func TestReconcile_inconclusive_lookup_keeps_state(t *testing.T) {
	md := &fakeMetadata{detailsErr: errors.New("upstream down")}
	svc, repo := newTestService(t, md, newFakeHub())
	repo.SetLive("abc123")
	repo.RecordLease(time.Now().Add(48 * time.Hour))

	svc.Reconcile(context.Background())

	if snap := repo.Snapshot(); !snap.Live {
		t.Errorf("expected state kept on inconclusive lookup, got %+v", snap)
	}
}

func TestReconcile_renews_when_lease_unknown(t *testing.T) {
	hub := newFakeHub()
	svc, _ := newTestService(t, &fakeMetadata{}, hub)

	svc.Reconcile(context.Background())

	select {
	case req := <-hub.calls:
		if req.Topic != TopicForChannel("UCchannel123") {
			t.Errorf("renewal topic = %q", req.Topic)
		}
		if req.Callback != "https://tracker.example.com/webhook" {
			t.Errorf("renewal callback = %q", req.Callback)
		}
		if req.VerifyToken != "verify-token" || req.Secret != "hook-secret" {
			t.Error("renewal did not carry the configured tokens")
		}
		if req.LeaseSeconds != DefaultLeaseSeconds {
			t.Errorf("renewal lease = %d", req.LeaseSeconds)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a renewal request when lease is unknown")
	}
}

func TestReconcile_renews_near_expiry(t *testing.T) {
	hub := newFakeHub()
	svc, repo := newTestService(t, &fakeMetadata{}, hub)
	// Less than 10% of a 5 day lease remains.
	repo.RecordLease(time.Now().Add(time.Hour))

	svc.Reconcile(context.Background())

	select {
	case <-hub.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a renewal request near expiry")
	}
}

func TestReconcile_no_renewal_with_fresh_lease(t *testing.T) {
	hub := newFakeHub()
	svc, repo := newTestService(t, &fakeMetadata{}, hub)
	repo.RecordLease(time.Now().Add(4 * 24 * time.Hour))

	svc.Reconcile(context.Background())

	select {
	case req := <-hub.calls:
		t.Fatalf("unexpected renewal request: %+v", req)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFlush_sets_live_video(t *testing.T) {
	svc, _ := newTestService(t, &fakeMetadata{liveID: "live42"}, newFakeHub())

	snap, err := svc.Flush(context.Background())
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if !snap.Live || snap.VideoID == nil || *snap.VideoID != "live42" {
		t.Errorf("flush snapshot: %+v", snap)
	}
}

func TestFlush_nothing_live_clears(t *testing.T) {
	svc, repo := newTestService(t, &fakeMetadata{}, newFakeHub())
	repo.SetLive("stale00")

	snap, err := svc.Flush(context.Background())
	if !errors.Is(err, ErrNoLiveVideo) {
		t.Fatalf("expected ErrNoLiveVideo, got %v", err)
	}
	if snap.Live {
		t.Errorf("expected cleared snapshot, got %+v", snap)
	}
}

func TestFlush_rate_limited(t *testing.T) {
	svc, repo := newTestService(t, &fakeMetadata{liveID: "live42"}, newFakeHub())

	if _, err := svc.Flush(context.Background()); err != nil {
		t.Fatalf("first Flush: %v", err)
	}

	_, err := svc.Flush(context.Background())
	var rl *RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
	if rl.RetryAfter <= 0 {
		t.Errorf("expected positive retry-after, got %v", rl.RetryAfter)
	}
	// The rejected call must not have touched state.
	if snap := repo.Snapshot(); !snap.Live || *snap.VideoID != "live42" {
		t.Errorf("state after rejected flush: %+v", snap)
	}
}

func TestFlush_search_failure_keeps_state_and_cooldown(t *testing.T) {
	md := &fakeMetadata{searchErr: errors.New("search down")}
	svc, repo := newTestService(t, md, newFakeHub())
	repo.SetLive("current11")

	snap, err := svc.Flush(context.Background())
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
	if !snap.Live || *snap.VideoID != "current11" {
		t.Errorf("expected state preserved, got %+v", snap)
	}
	// The cooldown was recorded before the failing call.
	if _, ok := repo.LastFlush(); !ok {
		t.Error("expected flush timestamp recorded despite search failure")
	}
}

func TestApplyUpdate_set_and_clear(t *testing.T) {
	svc, _ := newTestService(t, &fakeMetadata{}, newFakeHub())

	id := "manual77"
	snap := svc.ApplyUpdate(&id)
	if !snap.Live || snap.VideoID == nil || *snap.VideoID != "manual77" {
		t.Errorf("snapshot after set: %+v", snap)
	}

	snap = svc.ApplyUpdate(nil)
	if snap.Live || snap.VideoID != nil {
		t.Errorf("snapshot after clear: %+v", snap)
	}

	// Clearing twice is safe and observably identical.
	snap = svc.ApplyUpdate(nil)
	if snap.Live || snap.VideoID != nil {
		t.Errorf("snapshot after repeated clear: %+v", snap)
	}
}

func TestAuthenticate(t *testing.T) {
	svc, _ := newTestService(t, &fakeMetadata{}, newFakeHub())
	body := []byte(uploadNotification)

	if !svc.Authenticate("hook-secret", "", body) {
		t.Error("expected valid token without signature to be accepted")
	}
	if !svc.Authenticate("hook-secret", signBody("hook-secret", body), body) {
		t.Error("expected valid token with valid signature to be accepted")
	}
	if svc.Authenticate("wrong", "", body) {
		t.Error("expected bad token to be rejected")
	}
	if svc.Authenticate("hook-secret", signBody("other", body), body) {
		t.Error("expected bad signature to be rejected despite valid token")
	}
}

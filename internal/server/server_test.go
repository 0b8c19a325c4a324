package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"wordmint/internal/challenge"
	"wordmint/internal/events"
	"wordmint/internal/notify"
	"wordmint/internal/platform"
	"wordmint/internal/store"
	"wordmint/internal/trigger"
)

type stubPoster struct {
	mu      sync.Mutex
	creates int
}

func (p *stubPoster) CreatePost(_ context.Context, title string) (platform.Post, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.creates++
	ref := fmt.Sprintf("post-%d", p.creates)
	return platform.Post{Reference: ref, Title: title, URL: "https://example.test/" + ref}, nil
}

func (p *stubPoster) DeletePost(context.Context, string) error { return nil }

func (p *stubPoster) GetPost(_ context.Context, ref string) (platform.Post, error) {
	return platform.Post{Reference: ref}, nil
}

type stubWords struct{}

func (stubWords) Pick(_ context.Context, n int64) (string, error) {
	return fmt.Sprintf("word-%d", n), nil
}

type stubPusher struct{}

func (stubPusher) EnqueueBatch(context.Context, []platform.PushItem) error { return nil }

type stubDirectory struct{}

func (stubDirectory) AccountID(_ context.Context, username string) (string, bool, error) {
	return "acct-" + username, true, nil
}

func (stubDirectory) Timezone(context.Context, string) (string, bool, error) {
	return "Etc/UTC", true, nil
}

type testServer struct {
	URL    string
	Secret string
	close  func()
}

func (s *testServer) Close() { s.close() }

func newTestServer(t *testing.T, secret string) *testServer {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := store.NewWithClient(rdb)
	audit := events.Writer{Store: st}

	sched := &notify.Scheduler{
		Store:      st,
		Resolver:   &notify.Resolver{Dir: stubDirectory{}, FallbackZone: "America/New_York"},
		Trigger:    trigger.Nop{},
		Events:     audit,
		TargetHour: 9,
	}
	deliverer := &notify.Deliverer{Store: st, Pusher: stubPusher{}, Events: audit}
	sweeper := &notify.Sweeper{Store: st, Deliverer: deliverer}
	creator := &challenge.Creator{
		Store:    st,
		Poster:   &stubPoster{},
		Words:    stubWords{},
		Notifier: sched,
		Events:   audit,
	}

	handler, err := New(Config{
		Creator:   creator,
		Scheduler: sched,
		Deliverer: deliverer,
		Sweeper:   sweeper,
		Store:     st,
		BasePath:  "/v0",
		Auth:      AuthConfig{JWTSecret: secret},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Secret: secret,
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			rdb.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func (s *testServer) token(t *testing.T) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "scheduler-host",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := tok.SignedString([]byte(s.Secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func doJSON(t *testing.T, method, url, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	var decoded map[string]any
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &decoded)
	}
	return resp, decoded
}

func TestHealthIsOpen(t *testing.T) {
	ts := newTestServer(t, "secret")
	resp, body := doJSON(t, http.MethodGet, ts.URL+"/v0/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestOperationalEndpointsRequireAuth(t *testing.T) {
	ts := newTestServer(t, "secret")
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/v0/internal/challenges/today", "", map[string]any{})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestEnsureDailyChallengeEndpoint(t *testing.T) {
	ts := newTestServer(t, "secret")
	token := ts.token(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/v0/internal/challenges/today", token, map[string]any{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body %v", resp.StatusCode, body)
	}
	if body["status"] != "created" {
		t.Fatalf("status = %v, want created", body["status"])
	}

	// Re-invocation is idempotent, via either entry point.
	resp, body = doJSON(t, http.MethodPost, ts.URL+"/v0/internal/challenges/today/retry", token, map[string]any{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("retry status = %d", resp.StatusCode)
	}
	if body["status"] != "exists" {
		t.Fatalf("retry status = %v, want exists", body["status"])
	}
}

func TestSendUnknownGroupReportsAlreadyClaimed(t *testing.T) {
	ts := newTestServer(t, "secret")
	resp, body := doJSON(t, http.MethodPost,
		ts.URL+"/v0/internal/notifications/groups/nope/send", ts.token(t), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body %v", resp.StatusCode, body)
	}
	if body["ok"] != false || body["reason"] != "already-claimed" {
		t.Fatalf("body = %v", body)
	}
}

func TestSweepEndpointEmptyIndex(t *testing.T) {
	ts := newTestServer(t, "secret")
	resp, body := doJSON(t, http.MethodPost,
		ts.URL+"/v0/internal/notifications/sweep", ts.token(t), map[string]any{"limit": 10})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["processed"] != float64(0) {
		t.Fatalf("processed = %v, want 0", body["processed"])
	}
}

func TestPreviewEndpointGroupsUsers(t *testing.T) {
	ts := newTestServer(t, "secret")
	resp, body := doJSON(t, http.MethodPost,
		ts.URL+"/v0/internal/notifications/preview", ts.token(t),
		map[string]any{"usernames": []string{"ada", "brian"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body %v", resp.StatusCode, body)
	}
	groups, ok := body["groups"].([]any)
	if !ok || len(groups) != 1 {
		t.Fatalf("groups = %v, want one coalesced group", body["groups"])
	}
	if body["total_recipients"] != float64(2) {
		t.Fatalf("total_recipients = %v", body["total_recipients"])
	}
}

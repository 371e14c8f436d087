package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(Config{
		BaseURL:      server.URL + "/",
		Token:        "secret",
		Attempts:     3,
		RetryDelay:   time.Millisecond,
		ReadyTimeout: time.Second,
		PollInterval: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	return client
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected error for empty base url")
	}
}

func TestHealthyIsUnauthenticatedAndCached(t *testing.T) {
	var hits atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("expected no auth header on health, got %q", got)
		}
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		if err := client.Healthy(context.Background()); err != nil {
			t.Fatalf("Healthy returned error: %v", err)
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("expected one health request, got %d", hits.Load())
	}
}

func TestListSendsBearerTokenAndAcceptsWrappedPayload(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("expected bearer token, got %q", got)
		}
		_, _ = w.Write([]byte(`{"sessions":[{"id":"s1","name":"wave-bd-1","state":"running"},{"id":"s2","name":"other","state":"ready"}]}`))
	}))

	sessions, err := client.List(context.Background())
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(sessions) != 2 || sessions[0].ID != "s1" || sessions[1].State != StateReady {
		t.Fatalf("unexpected sessions: %#v", sessions)
	}

	found, err := client.FindByName(context.Background(), "wave-bd-1")
	if err != nil {
		t.Fatalf("FindByName returned error: %v", err)
	}
	if found.ID != "s1" {
		t.Fatalf("expected s1, got %q", found.ID)
	}
	if _, err := client.FindByName(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateWaitsUntilSessionIsReady(t *testing.T) {
	var polls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/sessions":
			var request CreateRequest
			if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
				t.Errorf("decode create request: %v", err)
			}
			if request.Name != "gate-review-bd-1" || request.Cwd != "/tmp/wt" || request.Command != "claude" {
				t.Errorf("unexpected create request: %#v", request)
			}
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"s9","name":"gate-review-bd-1","state":"starting"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/api/sessions/s9":
			state := "starting"
			if polls.Add(1) >= 3 {
				state = "ready"
			}
			_, _ = w.Write([]byte(`{"id":"s9","name":"gate-review-bd-1","state":"` + state + `"}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusTeapot)
		}
	}))

	session, err := client.Create(context.Background(), CreateRequest{Name: "gate-review-bd-1", Cwd: "/tmp/wt", Command: "claude"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if !session.Ready() || session.ID != "s9" {
		t.Fatalf("expected ready session s9, got %#v", session)
	}
	if polls.Load() < 3 {
		t.Fatalf("expected at least 3 polls, got %d", polls.Load())
	}
}

func TestCreateRejectsMissingNameBeforeRequest(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request expected, got %s %s", r.Method, r.URL.Path)
	}))
	if _, err := client.Create(context.Background(), CreateRequest{Cwd: "/tmp"}); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestSendPostsTextAndExecuteFlag(t *testing.T) {
	var mu sync.Mutex
	var got sendRequest
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/sessions/s1/input" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		mu.Lock()
		defer mu.Unlock()
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))

	if err := client.Send(context.Background(), "s1", "run the review", true); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if got.Text != "run the review" || !got.Execute {
		t.Fatalf("unexpected payload: %#v", got)
	}
}

func TestDeleteTreatsMissingSessionAsSuccess(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("expected DELETE, got %s", r.Method)
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	if err := client.Delete(context.Background(), "gone"); err != nil {
		t.Fatalf("expected nil error for missing session, got %v", err)
	}
}

func TestTransientFailuresAreRetriedThenReportedUnavailable(t *testing.T) {
	var hits atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := client.List(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if !IsUnavailable(err) {
		t.Fatalf("expected IsUnavailable to report true")
	}
	if hits.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", hits.Load())
	}
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var hits atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad token"}`))
	}))

	_, err := client.List(context.Background())
	if err == nil || errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", hits.Load())
	}
	if want := "list sessions: status 401: bad token"; err.Error() != want {
		t.Fatalf("expected %q, got %q", want, err.Error())
	}
}

func TestLoadToken(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token")
	if err := os.WriteFile(path, []byte("  abc123\n"), 0o600); err != nil {
		t.Fatalf("write token: %v", err)
	}

	token, err := LoadToken(path)
	if err != nil {
		t.Fatalf("LoadToken returned error: %v", err)
	}
	if token != "abc123" {
		t.Fatalf("expected trimmed token, got %q", token)
	}

	token, err = LoadToken(filepath.Join(dir, "missing"))
	if err != nil || token != "" {
		t.Fatalf("expected empty token for missing file, got %q, %v", token, err)
	}
}

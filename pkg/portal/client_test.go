package portal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	perrors "github.com/criticalmanufacturing/portalauth/pkg/errors"
)

// fakePortal is an httptest-backed portal tenant: discovery document, token
// endpoint, userinfo endpoint, and the roles sub-resource, with per-endpoint
// call counters.
type fakePortal struct {
	server *httptest.Server

	metadataCalls int64
	exchangeCalls int64
	userCalls     int64
	roleCalls     int64

	exchangeStatus int
	userStatus     int
	roleStatus     int

	accessToken string
	userAccount string
	roleNames   []string

	metadataBody string
	tokenBody    string
}

func newFakePortal(t *testing.T) *fakePortal {
	t.Helper()

	p := &fakePortal{
		exchangeStatus: http.StatusOK,
		userStatus:     http.StatusOK,
		roleStatus:     http.StatusOK,
		accessToken:    "A",
		userAccount:    "jsilva",
		roleNames:      []string{"Administrator"},
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&p.metadataCalls, 1)
		if p.metadataBody != "" {
			_, _ = w.Write([]byte(p.metadataBody))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"issuer":            p.server.URL,
			"token_endpoint":    p.server.URL + "/oauth2/token",
			"userinfo_endpoint": p.server.URL + "/api/users/me",
		})
	})

	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&p.exchangeCalls, 1)

		if err := r.ParseForm(); err != nil {
			t.Errorf("parse token form: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q, want refresh_token", got)
		}
		if got := r.PostForm.Get("client_id"); got != "nexus" {
			t.Errorf("client_id = %q, want nexus", got)
		}
		if got := r.PostForm.Get("refresh_token"); got == "" {
			t.Error("missing refresh_token form value")
		}

		if p.exchangeStatus != http.StatusOK {
			w.WriteHeader(p.exchangeStatus)
			return
		}
		if p.tokenBody != "" {
			_, _ = w.Write([]byte(p.tokenBody))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"access_token":  p.accessToken,
			"refresh_token": "R",
		})
	})

	mux.HandleFunc("/api/users/me", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&p.userCalls, 1)
		if got := r.Header.Get("Authorization"); got != "Bearer "+p.accessToken {
			t.Errorf("userinfo Authorization = %q, want bearer %q", got, p.accessToken)
		}
		if p.userStatus != http.StatusOK {
			w.WriteHeader(p.userStatus)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"userAccount": p.userAccount})
	})

	mux.HandleFunc("/api/users/me/roles", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&p.roleCalls, 1)
		if got := r.Header.Get("Authorization"); got != "Bearer "+p.accessToken {
			t.Errorf("roles Authorization = %q, want bearer %q", got, p.accessToken)
		}
		if p.roleStatus != http.StatusOK {
			w.WriteHeader(p.roleStatus)
			return
		}

		roles := make([]map[string]any, 0, len(p.roleNames))
		for i, name := range p.roleNames {
			roles = append(roles, map[string]any{
				"id":          "r" + string(rune('0'+i)),
				"name":        name,
				"description": "",
				"isScope":     false,
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"body": roles})
	})

	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)

	return p
}

func (p *fakePortal) metadataURL() string {
	return p.server.URL + "/.well-known/openid-configuration"
}

func newTestClient(t *testing.T, p *fakePortal) *Client {
	t.Helper()

	client, err := New(Config{
		MetadataURL: p.metadataURL(),
		ClientID:    "nexus",
	})
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	return client
}

func TestResolveSuccess(t *testing.T) {
	p := newFakePortal(t)
	client := newTestClient(t, p)

	principal, err := client.Resolve(context.Background(), "jsilva", "tok-1")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	if principal.Username != "jsilva" {
		t.Fatalf("username = %q, want jsilva", principal.Username)
	}
	if principal.AccessToken != "A" {
		t.Fatalf("access token = %q, want A", principal.AccessToken)
	}
	if len(principal.Roles) != 1 || principal.Roles[0] != "Administrator" {
		t.Fatalf("roles = %v, want [Administrator]", principal.Roles)
	}
}

func TestResolveMemoizesMetadata(t *testing.T) {
	p := newFakePortal(t)
	client := newTestClient(t, p)

	for i := 0; i < 5; i++ {
		if _, err := client.Resolve(context.Background(), "jsilva", "tok-1"); err != nil {
			t.Fatalf("resolve %d failed: %v", i, err)
		}
	}

	if calls := atomic.LoadInt64(&p.metadataCalls); calls != 1 {
		t.Fatalf("metadata fetched %d times, want 1", calls)
	}
	if calls := atomic.LoadInt64(&p.exchangeCalls); calls != 5 {
		t.Fatalf("exchange called %d times, want 5", calls)
	}
}

func TestConcurrentFirstMetadataAccessFetchesOnce(t *testing.T) {
	p := newFakePortal(t)
	client := newTestClient(t, p)

	const workers = 16

	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Metadata(context.Background())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("metadata fetch failed: %v", err)
		}
	}

	if calls := atomic.LoadInt64(&p.metadataCalls); calls != 1 {
		t.Fatalf("metadata fetched %d times under concurrency, want 1", calls)
	}
}

func TestMetadataFetchFailureIsRetried(t *testing.T) {
	p := newFakePortal(t)
	p.metadataBody = "{not json"
	client := newTestClient(t, p)

	if _, err := client.Metadata(context.Background()); err == nil {
		t.Fatal("expected metadata failure on malformed document")
	}

	p.metadataBody = ""
	if _, err := client.Metadata(context.Background()); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}

	if calls := atomic.LoadInt64(&p.metadataCalls); calls != 2 {
		t.Fatalf("metadata fetched %d times, want 2", calls)
	}
}

func TestResolveClassifiesRejectedExchange(t *testing.T) {
	p := newFakePortal(t)
	p.exchangeStatus = http.StatusUnauthorized
	client := newTestClient(t, p)

	_, err := client.Resolve(context.Background(), "jsilva", "bad-tok-99999")
	if err == nil {
		t.Fatal("expected resolve to fail")
	}
	if !perrors.IsUnauthorized(err) {
		t.Fatalf("expected unauthorized classification, got %v", err)
	}
	if perrors.StatusCode(err) != http.StatusUnauthorized {
		t.Fatalf("status code = %d, want 401", perrors.StatusCode(err))
	}
	if strings.Contains(err.Error(), "bad-tok-99999") {
		t.Fatalf("error leaks the credential: %q", err.Error())
	}

	// The pipeline stops at the failing hop.
	if calls := atomic.LoadInt64(&p.userCalls); calls != 0 {
		t.Fatalf("userinfo called %d times after failed exchange, want 0", calls)
	}
}

func TestResolveClassifiesForbiddenUserinfo(t *testing.T) {
	p := newFakePortal(t)
	p.userStatus = http.StatusForbidden
	client := newTestClient(t, p)

	_, err := client.Resolve(context.Background(), "jsilva", "tok-1")
	if !perrors.IsUnauthorized(err) {
		t.Fatalf("expected unauthorized classification, got %v", err)
	}
	if perrors.StatusCode(err) != http.StatusForbidden {
		t.Fatalf("status code = %d, want 403", perrors.StatusCode(err))
	}
	if calls := atomic.LoadInt64(&p.roleCalls); calls != 0 {
		t.Fatalf("roles called %d times after failed userinfo, want 0", calls)
	}
}

func TestResolveClassifiesPortalFailure(t *testing.T) {
	p := newFakePortal(t)
	p.exchangeStatus = http.StatusInternalServerError
	client := newTestClient(t, p)

	_, err := client.Resolve(context.Background(), "jsilva", "tok-1")
	if !perrors.IsUnavailable(err) {
		t.Fatalf("expected unavailable classification, got %v", err)
	}
	if perrors.StatusCode(err) != http.StatusInternalServerError {
		t.Fatalf("status code = %d, want 500", perrors.StatusCode(err))
	}
}

func TestResolveClassifiesMalformedTokenPayload(t *testing.T) {
	p := newFakePortal(t)
	p.tokenBody = "{not json"
	client := newTestClient(t, p)

	_, err := client.Resolve(context.Background(), "jsilva", "tok-1")
	if !perrors.IsUnavailable(err) {
		t.Fatalf("malformed payload must classify as unavailable, got %v", err)
	}
}

func TestResolveClassifiesUnreachablePortal(t *testing.T) {
	p := newFakePortal(t)
	client := newTestClient(t, p)
	p.server.Close()

	_, err := client.Resolve(context.Background(), "jsilva", "tok-1")
	if !perrors.IsUnavailable(err) {
		t.Fatalf("transport failure must classify as unavailable, got %v", err)
	}
}

func TestResolveDeduplicatesRoleNames(t *testing.T) {
	p := newFakePortal(t)
	p.roleNames = []string{"Administrator", "Administrator", "Viewer"}
	client := newTestClient(t, p)

	principal, err := client.Resolve(context.Background(), "jsilva", "tok-1")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	if len(principal.Roles) != 2 {
		t.Fatalf("roles = %v, want 2 unique entries", principal.Roles)
	}
	if principal.Roles[0] != "Administrator" || principal.Roles[1] != "Viewer" {
		t.Fatalf("roles = %v, want sorted [Administrator Viewer]", principal.Roles)
	}
}

func TestResolveRejectsEmptyAccessToken(t *testing.T) {
	p := newFakePortal(t)
	p.tokenBody = `{"access_token":"","refresh_token":"R"}`
	client := newTestClient(t, p)

	_, err := client.Resolve(context.Background(), "jsilva", "tok-1")
	if !perrors.IsUnavailable(err) {
		t.Fatalf("empty access_token must classify as unavailable, got %v", err)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{ClientID: "nexus"}); err != ErrMissingMetadataURL {
		t.Fatalf("expected ErrMissingMetadataURL, got %v", err)
	}
	if _, err := New(Config{MetadataURL: "http://localhost/metadata"}); err != ErrMissingClientID {
		t.Fatalf("expected ErrMissingClientID, got %v", err)
	}
}

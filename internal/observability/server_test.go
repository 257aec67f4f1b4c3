package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ghwatch/internal/metrics"
	logx "ghwatch/pkg/logx"
)

func get(t *testing.T, url, bearer string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b)
}

func TestHandlerServesHealthAndMetrics(t *testing.T) {
	m := metrics.New()
	m.SetTracked(3)
	s := New(Config{Enabled: true}, m.Handler(), logx.Nop(), WithStatus(func() any { return map[string]int{"tracked": 3} }))
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	if code, body := get(t, ts.URL+"/healthz", ""); code != 200 || body != "ok" {
		t.Fatalf("healthz = %d %q", code, body)
	}
	if code, body := get(t, ts.URL+"/metrics", ""); code != 200 || !strings.Contains(body, "ghwatch_tracked_accounts 3") {
		t.Fatalf("metrics = %d, body missing gauge", code)
	}
	if code, body := get(t, ts.URL+"/status", ""); code != 200 || !strings.Contains(body, `"tracked":3`) {
		t.Fatalf("status = %d %q", code, body)
	}
}

func TestTokenRequired(t *testing.T) {
	s := New(Config{Enabled: true, Token: "s3cret"}, nil, logx.Nop())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	if code, _ := get(t, ts.URL+"/healthz", ""); code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", code)
	}
	if code, _ := get(t, ts.URL+"/healthz", "wrong"); code != http.StatusUnauthorized {
		t.Fatalf("wrong token: %d", code)
	}
	if code, _ := get(t, ts.URL+"/healthz", "s3cret"); code != 200 {
		t.Fatalf("bearer token: %d", code)
	}
	if code, _ := get(t, ts.URL+"/healthz?token=s3cret", ""); code != 200 {
		t.Fatalf("query token: %d", code)
	}
}

func TestStartServesOnLoopback(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, nil, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for s.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatalf("server did not bind")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if code, body := get(t, "http://"+s.Addr()+"/healthz", ""); code != 200 || body != "ok" {
		t.Fatalf("healthz = %d %q", code, body)
	}
}

func TestServeRefusesPublicBindWithoutToken(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, nil, logx.Nop())
	if err := s.serveOnce(context.Background()); err != ErrInsecureBind {
		t.Fatalf("serveOnce = %v, want ErrInsecureBind", err)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:9090": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":9090":          false,
		"10.0.0.1:9090":  false,
		"garbage":        false,
	}
	for in, want := range cases {
		if got := isLoopbackAddr(in); got != want {
			t.Errorf("isLoopbackAddr(%q) = %v, want %v", in, got, want)
		}
	}
}

package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newMetadataServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/updates/distributions/app/manifests/latest", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("platform") != "win" {
			http.Error(w, "bad platform", http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"full":{"host_version": [1, 0, 9163], "package_sha256": "x"}}`))
	})
	mux.HandleFunc("/app", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head>` +
			`<script src="/assets/vendor.js" integrity=""></script>` +
			`<script src="/assets/build.js" integrity=""></script>` +
			`<script src="/assets/tail.js"></script></head></html>`))
	})
	mux.HandleFunc("/assets/build.js", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`window.GLOBAL_ENV={};e.exports=["buildNumber","312345"];`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetch(t *testing.T) {
	srv := newMetadataServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	md, err := Fetch(ctx,
		WithBaseURL(srv.URL+"/"),
		WithOSVersion(func() string { return "10.0.19045" }),
	)
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if md.ClientVersion != "1.0.9163" {
		t.Errorf("ClientVersion = %q, want %q", md.ClientVersion, "1.0.9163")
	}
	if md.BuildNumber != 312345 {
		t.Errorf("BuildNumber = %d, want 312345", md.BuildNumber)
	}
	if md.OSVersion != "10.0.19045" {
		t.Errorf("OSVersion = %q", md.OSVersion)
	}
}

func TestFetch_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := Fetch(ctx, WithBaseURL(srv.URL)); err == nil {
		t.Fatal("expected error for 404 manifest")
	}
}

func TestParseHostVersion(t *testing.T) {
	got, err := parseHostVersion([]byte(`"host_version": [1, 0, 42]`))
	if err != nil {
		t.Fatalf("parseHostVersion() error: %v", err)
	}
	if got != "1.0.42" {
		t.Errorf("got %q, want %q", got, "1.0.42")
	}

	for _, bad := range []string{`{}`, `"host_version": [1, 0`, `"host_version": [1, "a"]`} {
		if _, err := parseHostVersion([]byte(bad)); !errors.Is(err, ErrUnexpectedContent) {
			t.Errorf("parseHostVersion(%q) error = %v, want ErrUnexpectedContent", bad, err)
		}
	}
}

func TestParseScriptSrc(t *testing.T) {
	page := `<script src="/a.js"></script><script src="/b.js"></script><script src="/c.js"></script>`
	got, err := parseScriptSrc([]byte(page))
	if err != nil {
		t.Fatalf("parseScriptSrc() error: %v", err)
	}
	if got != "/b.js" {
		t.Errorf("got %q, want %q", got, "/b.js")
	}

	if _, err := parseScriptSrc([]byte(`<script src="/only.js"></script>`)); !errors.Is(err, ErrUnexpectedContent) {
		t.Errorf("single script: error = %v, want ErrUnexpectedContent", err)
	}
}

func TestParseBuildNumber(t *testing.T) {
	n, err := parseBuildNumber([]byte(`x"buildNumber","9001"y`))
	if err != nil || n != 9001 {
		t.Errorf("parseBuildNumber() = %d, %v; want 9001", n, err)
	}
	if _, err := parseBuildNumber([]byte(`"buildNumber","abc"`)); !errors.Is(err, ErrUnexpectedContent) {
		t.Errorf("error = %v, want ErrUnexpectedContent", err)
	}
}

func TestMetadata_UserAgent(t *testing.T) {
	md := Metadata{ClientVersion: "1.0.9163"}
	ua := md.UserAgent()
	if !strings.Contains(ua, "discord/1.0.9163") {
		t.Errorf("UserAgent() = %q, missing client version", ua)
	}
	if !strings.HasPrefix(ua, "Mozilla/5.0 (Windows NT 10.0") {
		t.Errorf("UserAgent() = %q", ua)
	}
}

func TestOSVersion(t *testing.T) {
	if OSVersion() == "" {
		t.Error("OSVersion() is empty")
	}
}

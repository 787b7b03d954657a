package r2s3

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"voxelstream.ai/internal/mapserver"
)

func TestClient_PutObjectSigned(t *testing.T) {
	var (
		gotPath, gotAuth, gotType, gotCache, gotHash string
		gotBody                                      []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		gotCache = r.Header.Get("Cache-Control")
		gotHash = r.Header.Get("x-amz-content-sha256")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := New(srv.URL, "maps", "AKID", "SECRET")
	if err != nil {
		t.Fatal(err)
	}
	c.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	if err := c.PutObject(context.Background(), "/tiles/-1/2.png", []byte("png"), "image/png", "public, max-age=60"); err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	if gotPath != "/maps/tiles/-1/2.png" {
		t.Fatalf("path=%s", gotPath)
	}
	if !strings.HasPrefix(gotAuth, "AWS4-HMAC-SHA256 Credential=AKID/20240102/auto/s3/aws4_request, SignedHeaders=content-type;host;x-amz-content-sha256;x-amz-date, Signature=") {
		t.Fatalf("auth=%s", gotAuth)
	}
	if gotType != "image/png" || gotCache != "public, max-age=60" || string(gotBody) != "png" {
		t.Fatalf("type=%q cache=%q body=%q", gotType, gotCache, gotBody)
	}
	if gotHash != sha256Hex([]byte("png")) {
		t.Fatalf("payload hash=%s", gotHash)
	}
}

func TestClient_PutObjectError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusForbidden)
	}))
	defer srv.Close()
	c, _ := New(srv.URL, "maps", "AKID", "SECRET")
	err := c.PutObject(context.Background(), "a.png", []byte{1}, "", "")
	if err == nil || !strings.Contains(err.Error(), "status=403") {
		t.Fatalf("err=%v", err)
	}
	if err := c.PutObject(context.Background(), "../", []byte{1}, "", ""); err == nil {
		t.Fatalf("expected empty key error")
	}
}

func TestSign_KnownSignature(t *testing.T) {
	req, _ := http.NewRequest(http.MethodPut, "https://acct.r2.example.com/maps/tiles/0/0.png", nil)
	req.Header.Set("Content-Type", "image/png")
	credentials{keyID: "AKID", secret: "SECRET"}.sign(req, "/maps/tiles/0/0.png", []byte("png"), time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))

	want := "AWS4-HMAC-SHA256 Credential=AKID/20240102/auto/s3/aws4_request, " +
		"SignedHeaders=content-type;host;x-amz-content-sha256;x-amz-date, " +
		"Signature=548f53e11ff069256a425076cda90e0f8a918a248820fcbafaf5298141968514"
	if got := req.Header.Get("Authorization"); got != want {
		t.Fatalf("auth=%s", got)
	}
	if req.Header.Get("x-amz-date") != "20240102T030405Z" {
		t.Fatalf("date=%s", req.Header.Get("x-amz-date"))
	}
}

func TestObjectPath(t *testing.T) {
	cases := map[string]string{
		"tiles/1/2.png":      "/b/tiles/1/2.png",
		"/w/tiles/-3/4.png/": "/b/w/tiles/-3/4.png",
		"a b/c.png":          "/b/a%20b/c.png",
	}
	for in, want := range cases {
		got, err := objectPath("b", in)
		if err != nil || got != want {
			t.Fatalf("objectPath(%q)=%q,%v want %q", in, got, err, want)
		}
	}
	for _, bad := range []string{"", "/", "a//b", "a/../b", "./a"} {
		if _, err := objectPath("b", bad); !errors.Is(err, errBadKey) {
			t.Fatalf("objectPath(%q) err=%v", bad, err)
		}
	}
}

func TestNew_RequiresFields(t *testing.T) {
	if _, err := New("", "b", "k", "s"); err == nil {
		t.Fatalf("expected error")
	}
}

type fakePutter struct {
	mu    sync.Mutex
	fails int
	puts  map[string][]byte
	calls int
}

func (f *fakePutter) PutObject(_ context.Context, key string, body []byte, contentType, cacheControl string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fails > 0 {
		f.fails--
		return errors.New("transient")
	}
	if f.puts == nil {
		f.puts = map[string][]byte{}
	}
	f.puts[key] = body
	return nil
}

func TestMirror_UploadsWithRetry(t *testing.T) {
	p := &fakePutter{fails: 2}
	m := NewMirror(p, MirrorConfig{Prefix: "/world1/", Workers: 1}, nil)
	m.backoff = func(int) time.Duration { return 0 }

	m.TileRendered(mapserver.TileRecord{X: 3, Z: -4, Version: 7}, []byte("tile"))
	m.Close()

	if got := string(p.puts["world1/tiles/3/-4.png"]); got != "tile" {
		t.Fatalf("puts=%v", p.puts)
	}
	st := m.Stats()
	if st.UploadSuccessTotal != 1 || st.UploadFailTotal != 0 || p.calls != 3 {
		t.Fatalf("stats=%+v calls=%d", st, p.calls)
	}
}

func TestMirror_GivesUp(t *testing.T) {
	p := &fakePutter{fails: 10}
	m := NewMirror(p, MirrorConfig{Workers: 1}, nil)
	m.backoff = func(int) time.Duration { return 0 }
	m.TileRendered(mapserver.TileRecord{X: 0, Z: 0}, []byte("x"))
	m.Close()
	if st := m.Stats(); st.UploadFailTotal != 1 {
		t.Fatalf("stats=%+v", st)
	}
}

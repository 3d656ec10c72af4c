package playback

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func setupRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "videos"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "videos", "a.mp4"), []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "videos", "concat.txt"), []byte("file 'x'"), 0o644); err != nil {
		t.Fatal(err)
	}
	return root
}

func TestServeFile_Full(t *testing.T) {
	s := NewServer(setupRoot(t), nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/videos/a.mp4", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if rr.Body.String() != "0123456789" {
		t.Errorf("body = %q", rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "video/mp4" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestServeFile_Range(t *testing.T) {
	s := NewServer(setupRoot(t), nil)
	req := httptest.NewRequest(http.MethodGet, "/videos/a.mp4", nil)
	req.Header.Set("Range", "bytes=2-5")
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusPartialContent {
		t.Fatalf("status = %d", rr.Code)
	}
	if rr.Body.String() != "2345" {
		t.Errorf("body = %q", rr.Body.String())
	}
	if cr := rr.Header().Get("Content-Range"); cr != "bytes 2-5/10" {
		t.Errorf("Content-Range = %q", cr)
	}
}

func TestServeFile_Rejected(t *testing.T) {
	root := setupRoot(t)
	outside := filepath.Join(filepath.Dir(root), "secret.mp4")
	_ = os.WriteFile(outside, []byte("secret"), 0o644)
	t.Cleanup(func() { os.Remove(outside) })

	s := NewServer(root, nil)
	for _, p := range []string{"/videos/concat.txt", "/videos/missing.mp4", "/../secret.mp4", "/videos"} {
		rr := httptest.NewRecorder()
		s.ServeFile(rr, httptest.NewRequest(http.MethodGet, "/", nil), p)
		if rr.Code != http.StatusNotFound {
			t.Errorf("%s: status = %d, want 404", p, rr.Code)
		}
	}
}

func TestServeFile_HiddenDirs(t *testing.T) {
	root := setupRoot(t)
	for _, rel := range []string{"tmp/job-1/personalized-segment-0.mp4", "templates/base.mp4", "tmpx/ok.mp4"} {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	s := NewServer(root, nil, "tmp", "templates/")

	cases := map[string]int{
		"/tmp/job-1/personalized-segment-0.mp4":           http.StatusNotFound,
		"/templates/base.mp4":                             http.StatusNotFound,
		"/videos/../tmp/job-1/personalized-segment-0.mp4": http.StatusNotFound,
		"/tmpx/ok.mp4":                                    http.StatusOK,
		"/videos/a.mp4":                                   http.StatusOK,
	}
	for p, want := range cases {
		rr := httptest.NewRecorder()
		s.ServeFile(rr, httptest.NewRequest(http.MethodGet, "/", nil), p)
		if rr.Code != want {
			t.Errorf("%s: status = %d, want %d", p, rr.Code, want)
		}
	}
}

// Package playback serves generated media from the upload root with
// byte-range support so players can seek.
package playback

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/personaliz/personaliz-server/internal/logging"
	"github.com/personaliz/personaliz-server/internal/storage"
)

// ServableExtensions lists the file types exposed under /uploads. Scratch
// intermediates such as concat manifests and raw PCM are never served.
var ServableExtensions = map[string]bool{
	".mp4": true,
	".jpg": true,
	".mp3": true,
	".wav": true,
}

type Server struct {
	root   string
	hidden []string
	logger *slog.Logger
}

// NewServer serves files under root. Paths inside any hidden directory
// (slash-separated, relative to root) answer 404.
func NewServer(root string, logger *slog.Logger, hidden ...string) *Server {
	s := &Server{root: filepath.Clean(root), logger: logging.WithComponent(logging.OrDiscard(logger), "playback")}
	for _, h := range hidden {
		h = path.Clean("/" + filepath.ToSlash(h))
		if h != "/" && !strings.HasPrefix(h, "/..") {
			s.hidden = append(s.hidden, h)
		}
	}
	return s
}

func (s *Server) isHidden(clean string) bool {
	for _, h := range s.hidden {
		if clean == h || strings.HasPrefix(clean, h+"/") {
			return true
		}
	}
	return false
}

// Handler serves files relative to the root. Mount it with the URL prefix
// already stripped.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.ServeFile(w, r, r.URL.Path); err != nil {
			s.logger.Error("playback error", "path", r.URL.Path, "error", err)
		}
	})
}

// ServeFile writes the file at rel (slash-separated, relative to the root).
// Range, If-Modified-Since and HEAD are handled by http.ServeContent.
func (s *Server) ServeFile(w http.ResponseWriter, r *http.Request, rel string) error {
	clean := path.Clean("/" + rel)
	if s.isHidden(clean) || strings.HasPrefix(path.Base(clean), ".") || !ServableExtensions[strings.ToLower(path.Ext(clean))] {
		http.NotFound(w, r)
		return nil
	}
	full := filepath.Join(s.root, filepath.FromSlash(clean))

	file, err := os.Open(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			http.NotFound(w, r)
			return nil
		}
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return err
	}
	if stat.IsDir() {
		http.NotFound(w, r)
		return nil
	}

	w.Header().Set("Content-Type", storage.ContentType(full))
	w.Header().Set("Accept-Ranges", "bytes")
	http.ServeContent(w, r, stat.Name(), stat.ModTime(), file)
	return nil
}

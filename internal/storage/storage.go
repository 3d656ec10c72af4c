// Package storage publishes finished media and returns a URL a recipient
// can fetch.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned when a local file is not under the served root.
var ErrOutsideRoot = errors.New("path is outside the upload root")

// Publisher makes a local file reachable by URL.
type Publisher interface {
	Publish(ctx context.Context, localPath string) (string, error)
	Name() string
}

// LocalPublisher serves files from the upload root under BaseURL/uploads.
type LocalPublisher struct {
	root    string
	baseURL string
}

// NewLocalPublisher creates a publisher for files below root.
func NewLocalPublisher(root, baseURL string) *LocalPublisher {
	return &LocalPublisher{root: filepath.Clean(root), baseURL: strings.TrimRight(baseURL, "/")}
}

func (p *LocalPublisher) Name() string { return "local" }

// Publish returns the public URL for localPath.
func (p *LocalPublisher) Publish(ctx context.Context, localPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := os.Stat(localPath); err != nil {
		return "", fmt.Errorf("publish %s: %w", localPath, err)
	}
	rel, err := filepath.Rel(p.root, filepath.Clean(localPath))
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, localPath)
	}

	segments := strings.Split(filepath.ToSlash(rel), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return p.baseURL + "/uploads/" + strings.Join(segments, "/"), nil
}

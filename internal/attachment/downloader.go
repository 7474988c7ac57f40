// Package attachment downloads inbound chat attachments to local files so the
// agent can read them, and removes them once the turn is done.
package attachment

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"agentrelay/internal/domain"
)

const defaultMaxSizeBytes = 25 * 1024 * 1024

// DownloaderConfig configures the attachment downloader.
type DownloaderConfig struct {
	Dir          string // download directory (default: .tmp)
	MaxSizeBytes int64  // per-file limit (default: 25MB)
	Client       *http.Client
	Logger       *slog.Logger
}

// Downloader fetches attachments into Dir under random names.
type Downloader struct {
	dir          string
	maxSizeBytes int64
	client       *http.Client
	logger       *slog.Logger
}

// NewDownloader creates the download directory and returns a downloader.
func NewDownloader(cfg DownloaderConfig) (*Downloader, error) {
	dir := cfg.Dir
	if dir == "" {
		dir = ".tmp"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create attachment dir: %w", err)
	}
	maxSize := cfg.MaxSizeBytes
	if maxSize <= 0 {
		maxSize = defaultMaxSizeBytes
	}
	client := cfg.Client
	if client == nil {
		client = newHTTPClient(60 * time.Second)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{dir: dir, maxSizeBytes: maxSize, client: client, logger: logger}, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 5,
			IdleConnTimeout:     90 * time.Second,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: timeout,
		},
	}
}

// Download stores every attachment and returns the local paths in order.
// If any download fails, files already written are removed.
func (d *Downloader) Download(ctx context.Context, attachments []domain.Attachment) ([]string, error) {
	paths := make([]string, 0, len(attachments))
	for _, a := range attachments {
		path, err := d.fetch(ctx, a)
		if err != nil {
			d.Cleanup(paths)
			return nil, fmt.Errorf("download %s: %w", a.Name, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func (d *Downloader) fetch(ctx context.Context, a domain.Attachment) (string, error) {
	ext := filepath.Ext(a.Name)
	if ext == "" {
		ext = ".bin"
	}
	path := filepath.Join(d.dir, uuid.NewString()+ext)

	resp, err := getWithRetry(ctx, d.client, a.URL, d.logger)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	written, err := io.Copy(f, io.LimitReader(resp.Body, d.maxSizeBytes+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write file: %w", err)
	}
	if written > d.maxSizeBytes {
		os.Remove(path)
		return "", fmt.Errorf("file too large: more than %d bytes", d.maxSizeBytes)
	}

	d.logger.Debug("attachment downloaded", "name", a.Name, "path", path, "size", written)
	return path, nil
}

// Cleanup removes downloaded files, logging failures.
func (d *Downloader) Cleanup(paths []string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			d.logger.Warn("failed to delete attachment", "path", p, "err", err)
		}
	}
}

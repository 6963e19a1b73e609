// Package resolver turns recorded ledger pointers into readable artifact handles.
package resolver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// Status tells where a resolved artifact was found.
type Status string

const (
	StatusPrimary     Status = "primary"
	StatusFallback    Status = "fallback"
	StatusRemote      Status = "remote"
	StatusUnavailable Status = "unavailable"
)

// MissingReason explains why an artifact could not be resolved.
type MissingReason string

const (
	MissingPrimary            MissingReason = "primary_missing"
	MissingFallback           MissingReason = "fallback_missing"
	MissingRemoteNotAttempted MissingReason = "remote_not_attempted"
	MissingRemoteUnreachable  MissingReason = "remote_unreachable"
	MissingOutsideRoot        MissingReason = "outside_root"
	MissingInvalidPointer     MissingReason = "invalid_pointer"
)

// DefaultMaxDownloadBytes caps a single remote download.
const DefaultMaxDownloadBytes int64 = 64 << 20

var (
	// ErrNotResolved is returned by Open for resolutions without a readable artifact.
	ErrNotResolved = errors.New("artifact not resolved")

	ErrDownloadTooLarge = errors.New("remote artifact exceeds download limit")
)

// Request names the pointer to resolve.
type Request struct {
	Pointer     string
	SourceFile  string
	RevisionID  string
	AllowRemote bool
}

// Resolution is the structured outcome of resolving a pointer. It is never an error:
// missing and unreachable artifacts are described by MissingReason.
type Resolution struct {
	Status          Status        `json:"status"`
	Exists          bool          `json:"exists"`
	Path            string        `json:"path,omitempty"`
	Size            int64         `json:"size,omitempty"`
	MissingReason   MissingReason `json:"missingReason,omitempty"`
	StatusCode      int           `json:"statusCode,omitempty"`
	Error           string        `json:"error,omitempty"`
	RemoteAttempted bool          `json:"remoteAttempted"`
}

// Resolver resolves pointers under a set of managed roots and caches remote downloads.
type Resolver struct {
	logger   *slog.Logger
	roots    []string
	cacheDir string
	client   *http.Client
	maxBytes int64
}

type Option func(*Resolver)

func WithHTTPClient(client *http.Client) Option {
	return func(r *Resolver) {
		r.client = client
	}
}

// WithMaxDownloadBytes caps remote downloads at limit bytes. Non-positive values keep the default.
func WithMaxDownloadBytes(limit int64) Option {
	return func(r *Resolver) {
		if limit > 0 {
			r.maxBytes = limit
		}
	}
}

// New creates a resolver. Local pointers must live under one of roots; the cache
// directory is always treated as a managed root.
func New(logger *slog.Logger, cacheDir string, roots []string, opts ...Option) *Resolver {
	r := &Resolver{
		logger:   logger.With("module", "ledger_resolver"),
		cacheDir: absPath(cacheDir),
		client:   &http.Client{Timeout: 30 * time.Second},
		maxBytes: DefaultMaxDownloadBytes,
	}

	for _, root := range roots {
		if root != "" {
			r.roots = append(r.roots, absPath(root))
		}
	}

	r.roots = append(r.roots, r.cacheDir)

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Resolve applies primary, fallback and remote precedence to the request.
func (r *Resolver) Resolve(ctx context.Context, req Request) *Resolution {
	pointer := strings.TrimSpace(req.Pointer)
	if pointer == "" {
		return unavailable(MissingInvalidPointer, "empty pointer")
	}

	if remote, ok := parseRemote(pointer); ok {
		if !req.AllowRemote {
			return unavailable(MissingRemoteNotAttempted, "")
		}

		return r.download(ctx, remote, req.RevisionID)
	}

	primary, err := r.contain(pointer)
	if err != nil {
		return unavailable(MissingOutsideRoot, err.Error())
	}

	if res, ok := r.existing(primary, StatusPrimary); ok {
		return res
	}

	if strings.TrimSpace(req.SourceFile) == "" {
		return unavailable(MissingPrimary, "")
	}

	fallback, err := r.contain(req.SourceFile)
	if err != nil {
		return unavailable(MissingOutsideRoot, err.Error())
	}

	if res, ok := r.existing(fallback, StatusFallback); ok {
		return res
	}

	return unavailable(MissingFallback, "")
}

// Open returns a reader for a resolution that found an artifact.
func (r *Resolver) Open(res *Resolution) (io.ReadCloser, error) {
	if res == nil || !res.Exists {
		return nil, ErrNotResolved
	}

	if _, err := r.contain(res.Path); err != nil {
		return nil, err
	}

	file, err := os.Open(res.Path)
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}

	return file, nil
}

func (r *Resolver) existing(path string, status Status) (*Resolution, bool) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return nil, false
	}

	resolved, err := filepath.EvalSymlinks(path)
	if err != nil || !r.within(resolved) {
		return nil, false
	}

	return &Resolution{Status: status, Exists: true, Path: path, Size: info.Size()}, true
}

// contain makes the path absolute and checks it stays under a managed root.
func (r *Resolver) contain(raw string) (string, error) {
	path := absPath(raw)
	if !r.within(path) {
		return "", fmt.Errorf("path %q is outside the managed roots", raw)
	}

	return path, nil
}

func (r *Resolver) within(path string) bool {
	for _, root := range r.roots {
		if isWithin(root, path) {
			return true
		}

		if resolved, err := filepath.EvalSymlinks(root); err == nil && isWithin(resolved, path) {
			return true
		}
	}

	return false
}

func isWithin(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}

	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

func (r *Resolver) download(ctx context.Context, remote *url.URL, revisionID string) *Resolution {
	if revisionID == "" || strings.ContainsAny(revisionID, `/\`) || revisionID == "." || revisionID == ".." {
		return unavailable(MissingInvalidPointer, fmt.Sprintf("invalid revision id %q", revisionID))
	}

	dir := filepath.Join(r.cacheDir, revisionID)
	target := filepath.Join(dir, cacheName(remote))

	if res, ok := r.existing(target, StatusRemote); ok {
		res.RemoteAttempted = true

		return res
	}

	logger := r.logger.With("url", remote.Redacted(), "revision_id", revisionID)

	res := &Resolution{Status: StatusUnavailable, MissingReason: MissingRemoteUnreachable, RemoteAttempted: true}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remote.String(), nil)
	if err != nil {
		res.Error = err.Error()

		return res
	}

	resp, err := r.client.Do(req)
	if err != nil {
		logger.WarnContext(ctx, "Remote artifact unreachable", "error", err)
		res.Error = err.Error()

		return res
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.WarnContext(ctx, "Remote artifact returned non-success status", "status", resp.StatusCode)
		res.StatusCode = resp.StatusCode
		res.Error = resp.Status

		return res
	}

	if resp.ContentLength > r.maxBytes {
		logger.WarnContext(ctx, "Remote artifact too large", "content_length", resp.ContentLength, "limit", r.maxBytes)
		res.StatusCode = resp.StatusCode
		res.Error = ErrDownloadTooLarge.Error()

		return res
	}

	size, err := writeAtomically(dir, target, resp.Body, r.maxBytes)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to cache remote artifact", "error", err)
		res.StatusCode = resp.StatusCode
		res.Error = err.Error()

		return res
	}

	logger.InfoContext(ctx, "Cached remote artifact", "path", target, "bytes", size)

	return &Resolution{
		Status:          StatusRemote,
		Exists:          true,
		Path:            target,
		Size:            size,
		StatusCode:      resp.StatusCode,
		RemoteAttempted: true,
	}
}

// writeAtomically copies at most limit bytes of body into target. Larger bodies leave no file behind.
func writeAtomically(dir, target string, body io.Reader, limit int64) (int64, error) {
	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return 0, fmt.Errorf("create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return 0, fmt.Errorf("create cache file: %w", err)
	}

	size, err := io.Copy(tmp, io.LimitReader(body, limit+1))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}

	if err == nil && size > limit {
		err = ErrDownloadTooLarge
	}

	if err != nil {
		_ = os.Remove(tmp.Name())

		return 0, fmt.Errorf("write cache file: %w", err)
	}

	err = os.Rename(tmp.Name(), target)
	if err != nil {
		_ = os.Remove(tmp.Name())

		return 0, fmt.Errorf("rename cache file: %w", err)
	}

	return size, nil
}

// cacheName derives a stable file name for a remote URL.
func cacheName(remote *url.URL) string {
	sum := sha256.Sum256([]byte(remote.String()))
	prefix := hex.EncodeToString(sum[:])[:16]

	base := path.Base(remote.Path)
	if base == "/" || base == "." || base == "" {
		return prefix
	}

	return prefix + "-" + base
}

func parseRemote(pointer string) (*url.URL, bool) {
	u, err := url.Parse(pointer)
	if err != nil {
		return nil, false
	}

	if (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
		return u, true
	}

	return nil, false
}

func unavailable(reason MissingReason, detail string) *Resolution {
	return &Resolution{Status: StatusUnavailable, MissingReason: reason, Error: detail}
}

func absPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}

	return abs
}

package resolver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ProbeResult reports the reachability of a remote pointer.
type ProbeResult struct {
	URL        string        `json:"url"`
	Reachable  bool          `json:"reachable"`
	StatusCode int           `json:"statusCode,omitempty"`
	Method     string        `json:"method,omitempty"`
	Latency    time.Duration `json:"latency"`
	Error      string        `json:"error,omitempty"`
	// MethodRestricted is set when the server answered but accepts neither HEAD nor GET,
	// as POST-only ledger collectors do.
	MethodRestricted bool `json:"methodRestricted,omitempty"`
}

// Probe checks a remote pointer with HEAD, falling back to a one byte ranged GET
// when the server does not support HEAD. The artifact body is never downloaded.
func (r *Resolver) Probe(ctx context.Context, pointer string) *ProbeResult {
	result := &ProbeResult{URL: pointer}

	remote, ok := parseRemote(pointer)
	if !ok {
		result.Error = fmt.Sprintf("%q is not an http(s) url", pointer)

		return result
	}

	start := time.Now()

	status, err := r.probeOnce(ctx, http.MethodHead, remote.String())
	result.Method = http.MethodHead

	if err == nil && (status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented) {
		status, err = r.probeOnce(ctx, http.MethodGet, remote.String())
		result.Method = http.MethodGet
	}

	result.Latency = time.Since(start)

	if err != nil {
		result.Error = err.Error()

		return result
	}

	result.StatusCode = status
	result.Reachable = status >= 200 && status < 300

	if status == http.StatusMethodNotAllowed {
		result.Reachable = true
		result.MethodRestricted = true
	}

	return result
}

func (r *Resolver) probeOnce(ctx context.Context, method, target string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return 0, err
	}

	if method == http.MethodGet {
		req.Header.Set("Range", "bytes=0-0")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, err
	}

	defer func() {
		_, _ = io.CopyN(io.Discard, resp.Body, 1)
		_ = resp.Body.Close()
	}()

	return resp.StatusCode, nil
}

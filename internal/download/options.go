package download

import (
	"log/slog"
	"net/http"
	"time"
)

const (
	// defaultMaxConcurrentRanges bounds in-flight range requests when the
	// provider's host supports concurrent ranges.
	defaultMaxConcurrentRanges = 4

	// defaultMaxDownloadOps is the plan's request-count ceiling. Plans with
	// more download ranges get adjacent ranges merged across small copies.
	defaultMaxDownloadOps = 200

	// copyBufferSize is the chunk size for local copies and response reads.
	// Cancellation is observed between chunks.
	copyBufferSize = 64 * 1024
)

// Options configures the downloaders. The zero value is usable.
type Options struct {
	// HTTPClient defaults to a client with a 10 minute overall timeout.
	HTTPClient *http.Client

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// OnProgress, when set, receives throttled progress events.
	OnProgress ProgressFunc

	// ProgressInterval throttles progress events. Default 500ms.
	ProgressInterval time.Duration

	// MaxConcurrentRanges bounds concurrent range requests. Ignored (forced
	// to 1) when the provider does not support multiple range requests.
	MaxConcurrentRanges int

	// MaxDownloadOps caps the number of range requests in a plan.
	MaxDownloadOps int
}

func (o Options) httpClient() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Minute}
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o Options) maxConcurrentRanges() int {
	if o.MaxConcurrentRanges > 0 {
		return o.MaxConcurrentRanges
	}
	return defaultMaxConcurrentRanges
}

func (o Options) maxDownloadOps() int {
	if o.MaxDownloadOps > 0 {
		return o.MaxDownloadOps
	}
	return defaultMaxDownloadOps
}

package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/krisdages/electron-builder-lib-slim/internal/errcode"
)

// FullDownloader streams an entire file over a single GET. It is the
// fallback when no old file exists or the differential path fails.
type FullDownloader struct {
	opts Options
}

// NewFull creates a full-file downloader.
func NewFull(opts Options) *FullDownloader {
	return &FullDownloader{opts: opts}
}

// Download fetches fileURL into dest, verifying the result against
// expectedSHA512. It writes through a temp file in dest's directory and
// renames into place only after verification; on any failure (including
// cancellation) the temp file is removed.
func (d *FullDownloader) Download(ctx context.Context, fileURL *url.URL, dest, expectedSHA512 string, expectedSize int64) (err error) {
	log := d.opts.logger()
	tmp := dest + ".part"
	defer func() {
		if err != nil {
			os.Remove(tmp)
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL.String(), nil)
	if err != nil {
		return fmt.Errorf("creating download request: %w", err)
	}

	resp, err := d.opts.httpClient().Do(req)
	if err != nil {
		if errcode.IsCancelled(err) {
			return errcode.Wrap(errcode.Cancelled, ctx.Err(), "download cancelled")
		}
		return errcode.Wrap(errcode.Network, err, "downloading %s", fileURL)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errcode.New(errcode.Network, "download of %s returned HTTP %d", fileURL, resp.StatusCode)
	}

	total := expectedSize
	if total <= 0 {
		total = resp.ContentLength
	}
	tracker := newProgressTracker(d.opts.OnProgress, total, d.opts.ProgressInterval)

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating download file: %w", err)
	}
	if _, err := copyChunked(ctx, f, resp.Body, tracker); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing download file: %w", err)
	}

	if err := verifyFile(tmp, expectedSHA512); err != nil {
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		return fmt.Errorf("moving download into place: %w", err)
	}
	log.Debug("full download complete", "url", fileURL.String(), "dest", dest)
	return nil
}

// copyChunked copies src to dst in fixed-size chunks, checking ctx between
// chunks and feeding the progress tracker after every write. It returns the
// number of bytes written.
func copyChunked(ctx context.Context, dst io.Writer, src io.Reader, tracker *progressTracker) (int64, error) {
	buf := make([]byte, copyBufferSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, errcode.Wrap(errcode.Cancelled, err, "download cancelled")
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				return written, fmt.Errorf("writing download: %w", writeErr)
			}
			written += int64(n)
			tracker.add(int64(n))
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			if errcode.IsCancelled(readErr) {
				return written, errcode.Wrap(errcode.Cancelled, readErr, "download cancelled")
			}
			return written, errcode.Wrap(errcode.Network, readErr, "reading download stream")
		}
	}
}

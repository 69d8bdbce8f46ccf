package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"

	"github.com/krisdages/electron-builder-lib-slim/internal/blockmap"
	"github.com/krisdages/electron-builder-lib-slim/internal/errcode"
)

// DifferentialRequest describes one differential download.
type DifferentialRequest struct {
	// OldFile is the locally cached copy of the previous release's file,
	// opened for random reads during copy operations.
	OldFile string

	// OldBlockMapFile is the block-map companion saved next to OldFile.
	// When empty, the old map is read from OldFile's own trailing metadata
	// (self-describing containers).
	OldBlockMapFile string

	// NewFileURL is the remote new file; range requests go here.
	NewFileURL *url.URL

	// NewBlockMapURL overrides the default of NewFileURL + ".blockmap".
	NewBlockMapURL *url.URL

	// Dest is the final path of the reconstructed file.
	Dest string

	// ExpectedSHA512 and ExpectedSize come from the channel manifest.
	ExpectedSHA512 string
	ExpectedSize   int64

	// UseMultipleRanges permits concurrent range requests. Providers whose
	// hosts do not reliably serve concurrent ranges leave this false and the
	// plan executes one request at a time.
	UseMultipleRanges bool
}

// DifferentialDownloader reconstructs the new file from the old file plus
// ranged fetches of only the changed blocks.
type DifferentialDownloader struct {
	opts Options
}

// NewDifferential creates a differential downloader.
func NewDifferential(opts Options) *DifferentialDownloader {
	return &DifferentialDownloader{opts: opts}
}

// BlockMapURL returns the conventional block-map URL for a file URL: the
// same URL with ".blockmap" appended to the path.
func BlockMapURL(fileURL *url.URL) *url.URL {
	u := *fileURL
	u.Path += ".blockmap"
	return &u
}

// Download executes the differential flow: fetch the new block map, load the
// old one, diff into a plan, then interleave local copies and HTTP range
// requests into the destination. The destination is renamed into place only
// after every operation completed and the sha512 matched. Any error removes
// the in-flight temp file.
func (d *DifferentialDownloader) Download(ctx context.Context, req DifferentialRequest) (err error) {
	log := d.opts.logger()

	newMap, err := d.fetchNewBlockMap(ctx, req)
	if err != nil {
		return err
	}
	oldMap, err := d.readOldBlockMap(req)
	if err != nil {
		return err
	}

	plan, err := buildContainerPlan(oldMap, newMap, req.ExpectedSize, d.opts.maxDownloadOps())
	if err != nil {
		return err
	}
	log.Info("differential download plan",
		"url", req.NewFileURL.String(),
		"copyBytes", plan.CopyBytes,
		"downloadBytes", plan.DownloadBytes,
		"rangeRequests", plan.DownloadOpCount())

	tmp := req.Dest + ".part"
	defer func() {
		if err != nil {
			os.Remove(tmp)
		}
	}()
	if err := d.execute(ctx, plan, req, tmp); err != nil {
		return err
	}
	if err := verifyFile(tmp, req.ExpectedSHA512); err != nil {
		return err
	}
	if err := os.Rename(tmp, req.Dest); err != nil {
		return fmt.Errorf("moving reconstructed file into place: %w", err)
	}
	return nil
}

func (d *DifferentialDownloader) fetchNewBlockMap(ctx context.Context, req DifferentialRequest) (*blockmap.BlockMap, error) {
	mapURL := req.NewBlockMapURL
	if mapURL == nil {
		mapURL = BlockMapURL(req.NewFileURL)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, mapURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating block map request: %w", err)
	}
	resp, err := d.opts.httpClient().Do(httpReq)
	if err != nil {
		if errcode.IsCancelled(err) {
			return nil, errcode.Wrap(errcode.Cancelled, err, "block map fetch cancelled")
		}
		return nil, errcode.Wrap(errcode.Network, err, "fetching block map %s", mapURL)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errcode.New(errcode.Network, "block map %s returned HTTP %d", mapURL, resp.StatusCode)
	}
	return blockmap.Parse(resp.Body)
}

func (d *DifferentialDownloader) readOldBlockMap(req DifferentialRequest) (*blockmap.BlockMap, error) {
	if req.OldBlockMapFile != "" {
		f, err := os.Open(req.OldBlockMapFile)
		if err != nil {
			return nil, errcode.Wrap(errcode.InvalidBlockMap, err, "opening old block map companion")
		}
		defer f.Close()
		return blockmap.Parse(f)
	}

	// Self-describing container: the old map trails the old file itself.
	f, err := os.Open(req.OldFile)
	if err != nil {
		return nil, errcode.Wrap(errcode.InvalidBlockMap, err, "opening old file for embedded block map")
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, errcode.Wrap(errcode.InvalidBlockMap, err, "stat old file")
	}
	return blockmap.ReadEmbedded(f, st.Size())
}

// buildContainerPlan diffs every file in the new map against its counterpart
// in the old map and concatenates the per-file plans. The new map's files
// must tile [0, expectedSize) contiguously; otherwise the maps do not
// describe the advertised file and the differential path is refused.
func buildContainerPlan(oldMap, newMap *blockmap.BlockMap, expectedSize int64, maxDownloadOps int) (*blockmap.Plan, error) {
	if len(newMap.Files) == 0 {
		return nil, errcode.New(errcode.InvalidBlockMap, "new block map lists no files")
	}

	oldByName := make(map[string]*blockmap.File, len(oldMap.Files))
	for i := range oldMap.Files {
		oldByName[oldMap.Files[i].Name] = &oldMap.Files[i]
	}

	combined := &blockmap.Plan{}
	var pos int64
	for i := range newMap.Files {
		nf := &newMap.Files[i]
		if nf.Offset != pos {
			return nil, errcode.New(errcode.InvalidBlockMap, "new block map file %q starts at %d, expected %d", nf.Name, nf.Offset, pos)
		}
		of := oldByName[nf.Name]
		if of == nil && len(oldMap.Files) == 1 && len(newMap.Files) == 1 {
			// Single-file containers may rename the inner entry across
			// versions; the layout is still comparable.
			of = &oldMap.Files[0]
		}
		filePlan, err := blockmap.BuildPlan(of, nf, blockmap.PlanOptions{MaxDownloadOps: maxDownloadOps})
		if err != nil {
			return nil, errcode.Wrap(errcode.InvalidBlockMap, err, "planning file %q", nf.Name)
		}
		combined.Operations = append(combined.Operations, filePlan.Operations...)
		combined.CopyBytes += filePlan.CopyBytes
		combined.DownloadBytes += filePlan.DownloadBytes
		combined.NewSize += filePlan.NewSize
		pos += filePlan.NewSize
	}
	if expectedSize > 0 && combined.NewSize != expectedSize {
		return nil, errcode.New(errcode.InvalidBlockMap, "new block map covers %d bytes but manifest advertises %d", combined.NewSize, expectedSize)
	}
	return combined, nil
}

// execute runs the plan against the temp destination file.
func (d *DifferentialDownloader) execute(ctx context.Context, plan *blockmap.Plan, req DifferentialRequest, tmp string) error {
	oldFile, err := os.Open(req.OldFile)
	if err != nil {
		return fmt.Errorf("opening old file: %w", err)
	}
	defer oldFile.Close()

	dest, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating destination file: %w", err)
	}
	defer dest.Close()
	if err := dest.Truncate(plan.NewSize); err != nil {
		return fmt.Errorf("sizing destination file: %w", err)
	}

	tracker := newProgressTracker(d.opts.OnProgress, plan.NewSize, d.opts.ProgressInterval)

	// Destination offset of each operation is the running sum of lengths.
	destOffsets := make([]int64, len(plan.Operations))
	var pos int64
	for i, op := range plan.Operations {
		destOffsets[i] = pos
		pos += op.Len()
	}

	// Copy operations first: they read the local disk and are cheap. Range
	// requests follow, concurrently when the provider allows it.
	for i, op := range plan.Operations {
		if op.Kind != blockmap.OpCopy {
			continue
		}
		if err := d.copyRange(ctx, dest, oldFile, op, destOffsets[i], tracker); err != nil {
			return err
		}
	}

	workers := 1
	if req.UseMultipleRanges {
		workers = d.opts.maxConcurrentRanges()
	}
	if err := d.downloadRanges(ctx, plan, req, dest, destOffsets, tracker, workers); err != nil {
		return err
	}

	if err := dest.Sync(); err != nil {
		return fmt.Errorf("syncing destination file: %w", err)
	}
	return nil
}

func (d *DifferentialDownloader) copyRange(ctx context.Context, dest *os.File, oldFile *os.File, op blockmap.Operation, destOff int64, tracker *progressTracker) error {
	src := io.NewSectionReader(oldFile, op.Start, op.Len())
	w := io.NewOffsetWriter(dest, destOff)
	n, err := copyChunked(ctx, w, src, tracker)
	if err != nil {
		if errcode.IsCancelled(err) {
			return err
		}
		return fmt.Errorf("copying old file range [%d,%d): %w", op.Start, op.End, err)
	}
	if n != op.Len() {
		return fmt.Errorf("old file range [%d,%d) yielded %d bytes; old file is shorter than its block map claims", op.Start, op.End, n)
	}
	return nil
}

// downloadRanges issues one HTTP range request per download operation, with
// at most workers in flight. Writes land at disjoint offsets so concurrent
// WriteAt calls never race.
func (d *DifferentialDownloader) downloadRanges(ctx context.Context, plan *blockmap.Plan, req DifferentialRequest, dest *os.File, destOffsets []int64, tracker *progressTracker, workers int) error {
	type job struct {
		op      blockmap.Operation
		destOff int64
	}
	var jobs []job
	for i, op := range plan.Operations {
		if op.Kind == blockmap.OpDownload {
			jobs = append(jobs, job{op: op, destOff: destOffsets[i]})
		}
	}
	if len(jobs) == 0 {
		return nil
	}
	if workers < 1 {
		workers = 1
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobCh := make(chan job)
	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobCh {
				if err := d.downloadRange(ctx, req, dest, j.op, j.destOff, tracker); err != nil {
					fail(err)
					return
				}
			}
		}()
	}

feed:
	for _, j := range jobs {
		select {
		case jobCh <- j:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobCh)
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	if err := ctx.Err(); err != nil {
		return errcode.Wrap(errcode.Cancelled, err, "download cancelled")
	}
	return nil
}

func (d *DifferentialDownloader) downloadRange(ctx context.Context, req DifferentialRequest, dest *os.File, op blockmap.Operation, destOff int64, tracker *progressTracker) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.NewFileURL.String(), nil)
	if err != nil {
		return fmt.Errorf("creating range request: %w", err)
	}
	// Range header end is inclusive.
	httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", op.Start, op.End-1))

	resp, err := d.opts.httpClient().Do(httpReq)
	if err != nil {
		if errcode.IsCancelled(err) {
			return errcode.Wrap(errcode.Cancelled, err, "range request cancelled")
		}
		return errcode.Wrap(errcode.Network, err, "range request [%d,%d) to %s", op.Start, op.End, req.NewFileURL)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent {
		return errcode.New(errcode.Network, "range request to %s returned HTTP %d, expected 206", req.NewFileURL, resp.StatusCode)
	}

	w := io.NewOffsetWriter(dest, destOff)
	limited := io.LimitReader(resp.Body, op.Len())
	n, err := copyChunked(ctx, w, limited, tracker)
	if err != nil {
		return err
	}
	if n != op.Len() {
		return errcode.New(errcode.Network, "range [%d,%d) of %s returned %d bytes, expected %d", op.Start, op.End, req.NewFileURL, n, op.Len())
	}
	return nil
}

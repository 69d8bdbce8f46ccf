package updater

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/krisdages/electron-builder-lib-slim/internal/cache"
	"github.com/krisdages/electron-builder-lib-slim/internal/download"
	"github.com/krisdages/electron-builder-lib-slim/internal/errcode"
	"github.com/krisdages/electron-builder-lib-slim/internal/events"
	"github.com/krisdages/electron-builder-lib-slim/internal/provider"
	"github.com/krisdages/electron-builder-lib-slim/internal/staging"
)

// ErrorEvent is delivered on the Errors feed for every fatal failure,
// exactly once per failure. Cancellations never appear here.
type ErrorEvent struct {
	Err     error
	Message string
}

// DownloadedEvent is delivered when an update finished downloading and
// verified cleanly.
type DownloadedEvent struct {
	Path string
	Info *provider.UpdateInfo
}

// CheckResult is the outcome of an availability check.
type CheckResult struct {
	// Available is true when the remote release should be downloaded.
	Available bool
	// Info is the fetched manifest, present even when no update is due.
	Info *provider.UpdateInfo
	// Files are Info's file descriptors resolved to absolute URLs.
	Files []provider.ResolvedFileInfo
	// StagedOut is true when only the staging gate held the update back.
	StagedOut bool
}

// Option configures an Updater.
type Option func(*Updater)

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(u *Updater) { u.log = log }
}

// WithHTTPClient sets the client used for downloads and block-map fetches.
func WithHTTPClient(c *http.Client) Option {
	return func(u *Updater) { u.httpClient = c }
}

// WithLauncher injects the platform's installer hand-off capability.
func WithLauncher(l InstallerLauncher) Option {
	return func(u *Updater) { u.launcher = l }
}

// WithAllowDowngrade permits installing a remote version older than the
// current one.
func WithAllowDowngrade() Option {
	return func(u *Updater) { u.allowDowngrade = true }
}

// WithChannelOverride records that the host explicitly switched channels.
// Crossing channels implies the remote version may order below the current
// one, so downgrades are enabled as well.
func WithChannelOverride() Option {
	return func(u *Updater) {
		u.channelOverridden = true
		u.allowDowngrade = true
	}
}

// WithDisabledVersionComparison switches to raw string mode: any remote
// version different from the current one counts as an update.
func WithDisabledVersionComparison() Option {
	return func(u *Updater) { u.disableVersionComparison = true }
}

// WithOldInstaller points at the locally cached installer of the current
// version, enabling the differential download path.
func WithOldInstaller(filePath string) Option {
	return func(u *Updater) { u.oldInstaller = filePath }
}

// WithRequireDifferential makes a differential failure fatal instead of
// falling back to a full download. Some installer formats only accept the
// differential layout, and a silent full download would produce an
// installer the format cannot apply.
func WithRequireDifferential() Option {
	return func(u *Updater) { u.requireDifferential = true }
}

// WithMaxRangeRequests caps the number of HTTP range requests per plan.
func WithMaxRangeRequests(n int) Option {
	return func(u *Updater) { u.maxDownloadOps = n }
}

// WithProgressInterval adjusts progress event throttling.
func WithProgressInterval(d time.Duration) Option {
	return func(u *Updater) { u.progressInterval = d }
}

// Updater drives the update flow for one application. Construct it with New
// and keep exactly one instance per cache directory.
type Updater struct {
	adapter  AppAdapter
	provider provider.Provider
	launcher InstallerLauncher
	log      *slog.Logger

	httpClient               *http.Client
	disableVersionComparison bool
	allowDowngrade           bool
	channelOverridden        bool
	requireDifferential      bool
	oldInstaller             string
	maxDownloadOps           int
	progressInterval         time.Duration

	// Event feeds. Subscribe before calling CheckForUpdates/DownloadUpdate.
	Errors          events.Feed[ErrorEvent]
	StateChanges    events.Feed[State]
	UpdateAvailable events.Feed[*provider.UpdateInfo]
	UpdateCancelled events.Feed[struct{}]
	Downloaded      events.Feed[DownloadedEvent]
	Progress        events.Feed[download.ProgressEvent]

	mu         sync.Mutex
	state      State
	inflight   *checkFlight
	lastResult *CheckResult
	downloaded *DownloadedEvent
}

type checkFlight struct {
	done chan struct{}
	res  *CheckResult
	err  error
}

// New constructs an Updater for the given host application and provider.
func New(adapter AppAdapter, p provider.Provider, opts ...Option) *Updater {
	u := &Updater{
		adapter:  adapter,
		provider: p,
		log:      slog.Default(),
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// State returns the current lifecycle state.
func (u *Updater) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

func (u *Updater) setState(s State) {
	u.mu.Lock()
	changed := u.state != s
	u.state = s
	u.mu.Unlock()
	if changed {
		u.StateChanges.Emit(s)
	}
}

// fail routes a fatal error to the Errors feed exactly once and moves the
// updater to Failed. Cancellations bypass the error feed entirely: they set
// Cancelled and fire UpdateCancelled.
func (u *Updater) fail(err error) error {
	if errcode.IsCancelled(err) {
		u.setState(StateCancelled)
		u.UpdateCancelled.Emit(struct{}{})
		return err
	}
	u.setState(StateFailed)
	u.Errors.Emit(ErrorEvent{Err: err, Message: err.Error()})
	return err
}

// CheckForUpdates asks the provider for the latest release and decides
// eligibility. Calls made while a check is outstanding attach to the same
// in-flight result instead of issuing another provider round trip.
func (u *Updater) CheckForUpdates(ctx context.Context) (*CheckResult, error) {
	u.mu.Lock()
	if f := u.inflight; f != nil {
		u.mu.Unlock()
		select {
		case <-f.done:
			return f.res, f.err
		case <-ctx.Done():
			return nil, errcode.Wrap(errcode.Cancelled, ctx.Err(), "update check cancelled")
		}
	}
	f := &checkFlight{done: make(chan struct{})}
	u.inflight = f
	u.mu.Unlock()

	u.setState(StateChecking)
	res, err := u.doCheck(ctx)

	u.mu.Lock()
	u.inflight = nil
	if err == nil {
		u.lastResult = res
	}
	u.mu.Unlock()

	f.res, f.err = res, err
	close(f.done)

	if err != nil {
		return nil, u.fail(err)
	}
	if res.Available {
		u.setState(StateUpdateAvailable)
		u.UpdateAvailable.Emit(res.Info)
	} else {
		u.setState(StateUpToDate)
	}
	return res, nil
}

func (u *Updater) doCheck(ctx context.Context) (*CheckResult, error) {
	if !u.adapter.IsPackaged() {
		u.log.Info("application is not packaged, skipping update check")
		return &CheckResult{}, nil
	}

	info, err := u.provider.Latest(ctx)
	if err != nil {
		return nil, err
	}
	files, err := u.provider.ResolveFiles(info)
	if err != nil {
		return nil, err
	}
	res := &CheckResult{Info: info, Files: files}

	dec, err := compareVersions(u.adapter.CurrentVersion(), info.Version, u.disableVersionComparison)
	if err != nil {
		return nil, err
	}
	if !dec.differs {
		u.log.Info("already on the latest version", "version", info.Version)
		return res, nil
	}
	if dec.isDowngrade && !u.allowDowngrade {
		u.log.Info("remote version is older and downgrade is not allowed",
			"current", u.adapter.CurrentVersion(), "remote", info.Version)
		return res, nil
	}

	if !u.stagingAllowed(info) {
		u.log.Info("update held back by staged rollout",
			"version", info.Version, "stagingPercentage", *info.Percentage())
		res.StagedOut = true
		return res, nil
	}

	res.Available = true
	return res, nil
}

// stagingAllowed applies the staged-rollout gate. Failures to load the
// install's staging identity fail open.
func (u *Updater) stagingAllowed(info *provider.UpdateInfo) bool {
	p := info.Percentage()
	if p == nil {
		return true
	}
	id, err := staging.UserID(u.newCache(info).StagingUserIDFile())
	if err != nil {
		u.log.Warn("loading staging user id failed, ignoring rollout gate", "err", err)
		id = uuid.Nil
	}
	return staging.Allowed(p, id)
}

func (u *Updater) newCache(info *provider.UpdateInfo) *cache.Cache {
	dirName := info.CacheDirName
	if dirName == "" {
		dirName = u.adapter.AppName() + "-updater"
	}
	return cache.New(u.adapter.CacheBaseDir(), dirName, u.log)
}

// DownloadUpdate downloads the available update into the cache, reusing a
// valid previously cached file when possible and preferring the
// differential path when an old installer is on disk. It returns the path
// of the verified installer.
func (u *Updater) DownloadUpdate(ctx context.Context) (string, error) {
	u.mu.Lock()
	res := u.lastResult
	u.mu.Unlock()
	if res == nil {
		var err error
		if res, err = u.CheckForUpdates(ctx); err != nil {
			return "", err
		}
	}
	if !res.Available {
		return "", u.fail(errcode.New(errcode.InvalidConfiguration, "no update available to download"))
	}
	if len(res.Files) == 0 {
		return "", u.fail(errcode.New(errcode.InvalidConfiguration, "update has no downloadable files"))
	}

	info := res.Info
	file := res.Files[0]
	c := u.newCache(info)

	if cached, ok := c.ValidateDownloadedPath(info, file); ok {
		u.log.Info("reusing previously downloaded update", "path", cached)
		u.finishDownload(c, info, cached, false)
		return cached, nil
	}
	if err := c.EnsurePendingDir(); err != nil {
		return "", u.fail(err)
	}

	fileName := path.Base(file.URL.Path)
	dest := c.FilePath(fileName)
	u.setState(StateDownloading)

	if err := u.runDownload(ctx, c, file, dest); err != nil {
		if !errcode.IsCancelled(err) {
			c.Clear()
		}
		return "", u.fail(err)
	}

	u.saveBlockMapCompanion(ctx, c, file, dest)
	if err := c.SetDownloadedFile(fileName, info, file, "", true); err != nil {
		return "", u.fail(err)
	}
	u.finishDownload(c, info, dest, true)
	return dest, nil
}

func (u *Updater) finishDownload(c *cache.Cache, info *provider.UpdateInfo, filePath string, fresh bool) {
	u.mu.Lock()
	u.downloaded = &DownloadedEvent{Path: filePath, Info: info}
	u.mu.Unlock()
	u.setState(StateDownloaded)
	u.Downloaded.Emit(DownloadedEvent{Path: filePath, Info: info})
	if fresh {
		u.log.Info("update downloaded", "version", info.Version, "path", filePath)
	}
}

func (u *Updater) downloadOptions() download.Options {
	return download.Options{
		HTTPClient:       u.httpClient,
		Logger:           u.log,
		ProgressInterval: u.progressInterval,
		MaxDownloadOps:   u.maxDownloadOps,
		OnProgress:       func(ev download.ProgressEvent) { u.Progress.Emit(ev) },
	}
}

// runDownload tries the differential path and falls back to a full
// download on any non-cancellation failure, unless differential delivery is
// required by the installer format.
func (u *Updater) runDownload(ctx context.Context, c *cache.Cache, file provider.ResolvedFileInfo, dest string) error {
	opts := u.downloadOptions()

	if old := u.oldInstaller; old != "" {
		if _, err := os.Stat(old); err != nil {
			u.log.Warn("old installer missing, skipping differential download", "path", old, "err", err)
		} else {
			req := download.DifferentialRequest{
				OldFile:           old,
				NewFileURL:        file.URL,
				Dest:              dest,
				ExpectedSHA512:    file.SHA512,
				ExpectedSize:      file.Size,
				UseMultipleRanges: u.provider.UseMultipleRangeRequests(),
			}
			if companion := c.BlockMapCompanion(old); fileExists(companion) {
				req.OldBlockMapFile = companion
			}
			err := download.NewDifferential(opts).Download(ctx, req)
			if err == nil {
				return nil
			}
			if errcode.IsCancelled(err) {
				return err
			}
			if u.requireDifferential {
				return fmt.Errorf("differential download failed and this installer format requires it: %w", err)
			}
			u.log.Warn("differential download failed, falling back to full download", "err", err)
		}
	}

	return download.NewFull(opts).Download(ctx, file.URL, dest, file.SHA512, file.Size)
}

// saveBlockMapCompanion stores the new file's block map next to the
// downloaded file so the next update can diff against it. Best effort: a
// miss only costs the next update its differential path.
func (u *Updater) saveBlockMapCompanion(ctx context.Context, c *cache.Cache, file provider.ResolvedFileInfo, dest string) {
	mapURL := download.BlockMapURL(file.URL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mapURL.String(), nil)
	if err != nil {
		return
	}
	client := u.httpClient
	if client == nil {
		client = &http.Client{Timeout: time.Minute}
	}
	resp, err := client.Do(req)
	if err != nil {
		u.log.Warn("fetching block map companion failed", "url", mapURL.String(), "err", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		u.log.Warn("block map companion not available", "url", mapURL.String(), "status", resp.StatusCode)
		return
	}
	f, err := os.Create(c.BlockMapCompanion(dest))
	if err != nil {
		u.log.Warn("writing block map companion failed", "err", err)
		return
	}
	defer f.Close()
	if _, err := f.ReadFrom(resp.Body); err != nil {
		u.log.Warn("writing block map companion failed", "err", err)
		os.Remove(f.Name())
	}
}

// QuitAndInstall hands the downloaded installer to the platform launcher.
func (u *Updater) QuitAndInstall(ctx context.Context) error {
	u.mu.Lock()
	d := u.downloaded
	u.mu.Unlock()
	if d == nil {
		return u.fail(errcode.New(errcode.InvalidConfiguration, "no downloaded update to install"))
	}
	if u.launcher == nil {
		return u.fail(errcode.New(errcode.InvalidConfiguration, "no installer launcher configured for this platform"))
	}
	if err := u.launcher.Launch(ctx, d.Path, d.Info.IsAdminRightsRequired); err != nil {
		return u.fail(fmt.Errorf("launching installer: %w", err))
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

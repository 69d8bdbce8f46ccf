package updater

import (
	"context"
	"crypto/sha512"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/krisdages/electron-builder-lib-slim/internal/errcode"
	"github.com/krisdages/electron-builder-lib-slim/internal/provider"
)

type testApp struct {
	version  string
	packaged bool
	cacheDir string
}

func (a testApp) CurrentVersion() string   { return a.version }
func (a testApp) AppName() string          { return "demo" }
func (a testApp) IsPackaged() bool         { return a.packaged }
func (a testApp) UpdateConfigPath() string { return "" }
func (a testApp) CacheBaseDir() string     { return a.cacheDir }

// fakeProvider serves a fixed manifest, counting Latest calls and optionally
// blocking until released so tests can hold a check in flight.
type fakeProvider struct {
	info    *provider.UpdateInfo
	err     error
	baseURL *url.URL
	release chan struct{}
	calls   atomic.Int64
}

func (p *fakeProvider) Latest(ctx context.Context) (*provider.UpdateInfo, error) {
	p.calls.Add(1)
	if p.release != nil {
		select {
		case <-p.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	return p.info, nil
}

func (p *fakeProvider) ResolveFiles(info *provider.UpdateInfo) ([]provider.ResolvedFileInfo, error) {
	out := make([]provider.ResolvedFileInfo, 0, len(info.Files))
	for _, f := range info.Files {
		ref, err := url.Parse(f.URL)
		if err != nil {
			return nil, err
		}
		u := ref
		if p.baseURL != nil {
			u = p.baseURL.ResolveReference(ref)
		}
		out = append(out, provider.ResolvedFileInfo{URL: u, SHA512: f.SHA512, Size: f.Size})
	}
	return out, nil
}

func (p *fakeProvider) UseMultipleRangeRequests() bool { return true }

type fakeLauncher struct {
	mu       sync.Mutex
	launched string
	admin    bool
}

func (l *fakeLauncher) Launch(ctx context.Context, installerPath string, adminRequired bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launched = installerPath
	l.admin = adminRequired
	return nil
}

func manifestFor(version string) *provider.UpdateInfo {
	return &provider.UpdateInfo{
		Version: version,
		Files:   []provider.FileInfo{{URL: "https://example.com/app.bin", SHA512: "abc", Size: 10}},
	}
}

func sha512Of(content []byte) string {
	sum := sha512.Sum512(content)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// recorder accumulates feed events; its add method is a valid subscriber.
type recorder[T any] struct {
	mu sync.Mutex
	vs []T
}

func (r *recorder[T]) add(v T) {
	r.mu.Lock()
	r.vs = append(r.vs, v)
	r.mu.Unlock()
}

func (r *recorder[T]) values() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.vs...)
}

func newTestUpdater(t *testing.T, app testApp, p provider.Provider, opts ...Option) *Updater {
	t.Helper()
	if app.cacheDir == "" {
		app.cacheDir = t.TempDir()
	}
	return New(app, p, opts...)
}

func TestCheckForUpdatesAvailable(t *testing.T) {
	p := &fakeProvider{info: manifestFor("2.0.0")}
	u := newTestUpdater(t, testApp{version: "1.0.0", packaged: true}, p)

	var available recorder[*provider.UpdateInfo]
	sub := u.UpdateAvailable.Subscribe(available.add)
	defer sub.Close()

	res, err := u.CheckForUpdates(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Available {
		t.Fatal("newer remote version should be available")
	}
	if u.State() != StateUpdateAvailable {
		t.Errorf("state = %v, want %v", u.State(), StateUpdateAvailable)
	}
	if got := available.values(); len(got) != 1 || got[0].Version != "2.0.0" {
		t.Errorf("UpdateAvailable events = %v, want exactly one for 2.0.0", got)
	}
}

func TestCheckForUpdatesUpToDate(t *testing.T) {
	p := &fakeProvider{info: manifestFor("1.0.0")}
	u := newTestUpdater(t, testApp{version: "1.0.0", packaged: true}, p)

	res, err := u.CheckForUpdates(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Available {
		t.Error("equal versions should not be available")
	}
	if u.State() != StateUpToDate {
		t.Errorf("state = %v, want %v", u.State(), StateUpToDate)
	}
}

func TestCheckForUpdatesDowngrade(t *testing.T) {
	p := &fakeProvider{info: manifestFor("1.0.0")}

	u := newTestUpdater(t, testApp{version: "2.0.0", packaged: true}, p)
	res, err := u.CheckForUpdates(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Available {
		t.Error("downgrade should be blocked by default")
	}

	u = newTestUpdater(t, testApp{version: "2.0.0", packaged: true}, p, WithAllowDowngrade())
	if res, err = u.CheckForUpdates(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !res.Available {
		t.Error("downgrade should be allowed when opted in")
	}

	u = newTestUpdater(t, testApp{version: "2.0.0", packaged: true}, p, WithChannelOverride())
	if res, err = u.CheckForUpdates(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !res.Available {
		t.Error("an explicit channel switch should permit downgrades")
	}
}

func TestCheckForUpdatesRawVersionMode(t *testing.T) {
	p := &fakeProvider{info: manifestFor("nightly-414")}
	u := newTestUpdater(t, testApp{version: "nightly-413", packaged: true}, p, WithDisabledVersionComparison())
	res, err := u.CheckForUpdates(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Available {
		t.Error("raw mode should treat any different string as an update")
	}
}

func TestCheckForUpdatesUnpackagedSkips(t *testing.T) {
	p := &fakeProvider{info: manifestFor("2.0.0")}
	u := newTestUpdater(t, testApp{version: "1.0.0", packaged: false}, p)
	res, err := u.CheckForUpdates(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Available {
		t.Error("unpackaged apps must never see updates")
	}
	if p.calls.Load() != 0 {
		t.Error("unpackaged apps must not hit the provider")
	}
}

func TestCheckForUpdatesStagedOut(t *testing.T) {
	info := manifestFor("2.0.0")
	info.StagingPercentage = &provider.StagingPercentage{Value: 0, Valid: true}
	p := &fakeProvider{info: info}
	u := newTestUpdater(t, testApp{version: "1.0.0", packaged: true}, p)

	res, err := u.CheckForUpdates(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Available {
		t.Error("0% rollout should hold every install back")
	}
	if !res.StagedOut {
		t.Error("StagedOut should record that only the rollout gate blocked the update")
	}
}

func TestCheckForUpdatesSingleFlight(t *testing.T) {
	p := &fakeProvider{info: manifestFor("2.0.0"), release: make(chan struct{})}
	u := newTestUpdater(t, testApp{version: "1.0.0", packaged: true}, p)

	const callers = 5
	var wg sync.WaitGroup
	results := make([]*CheckResult, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = u.CheckForUpdates(context.Background())
		}(i)
	}

	// Wait for the owning caller to reach the provider, give the others a
	// moment to attach to the in-flight check, then release it.
	for p.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	close(p.release)
	wg.Wait()

	if got := p.calls.Load(); got != 1 {
		t.Errorf("provider was called %d times, want 1", got)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i] != results[0] {
			t.Error("concurrent callers should share the in-flight result")
		}
	}
}

func TestCheckForUpdatesErrorEmittedOnce(t *testing.T) {
	p := &fakeProvider{err: errcode.New(errcode.Network, "feed unreachable")}
	u := newTestUpdater(t, testApp{version: "1.0.0", packaged: true}, p)

	var errorsSeen recorder[ErrorEvent]
	sub := u.Errors.Subscribe(errorsSeen.add)
	defer sub.Close()

	if _, err := u.CheckForUpdates(context.Background()); err == nil {
		t.Fatal("expected the provider error to surface")
	}
	if u.State() != StateFailed {
		t.Errorf("state = %v, want %v", u.State(), StateFailed)
	}
	if got := errorsSeen.values(); len(got) != 1 {
		t.Errorf("error feed received %d events, want exactly 1", len(got))
	}
}

// releaseFixture stands up an HTTP server with a release file and returns a
// provider pointing at it.
func releaseFixture(t *testing.T, content []byte) (*fakeProvider, *httptest.Server, *atomic.Int64) {
	t.Helper()
	var downloads atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/app.bin", func(w http.ResponseWriter, r *http.Request) {
		downloads.Add(1)
		w.Write(content)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	base, err := url.Parse(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	info := &provider.UpdateInfo{
		Version: "2.0.0",
		Files:   []provider.FileInfo{{URL: "app.bin", SHA512: sha512Of(content), Size: int64(len(content))}},
	}
	return &fakeProvider{info: info, baseURL: base}, srv, &downloads
}

func TestDownloadUpdateAndReuse(t *testing.T) {
	content := []byte("new installer payload")
	p, srv, downloads := releaseFixture(t, content)
	u := newTestUpdater(t, testApp{version: "1.0.0", packaged: true}, p, WithHTTPClient(srv.Client()))

	var done recorder[DownloadedEvent]
	sub := u.Downloaded.Subscribe(done.add)
	defer sub.Close()

	if _, err := u.CheckForUpdates(context.Background()); err != nil {
		t.Fatal(err)
	}
	path, err := u.DownloadUpdate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(content) {
		t.Fatal("downloaded file differs from served content")
	}
	if u.State() != StateDownloaded {
		t.Errorf("state = %v, want %v", u.State(), StateDownloaded)
	}
	if events := done.values(); len(events) != 1 || events[0].Path != path {
		t.Errorf("Downloaded events = %+v, want one for %s", events, path)
	}

	// A second download must come straight from the cache.
	before := downloads.Load()
	again, err := u.DownloadUpdate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if again != path {
		t.Errorf("cached reuse returned %q, want %q", again, path)
	}
	if downloads.Load() != before {
		t.Error("valid cached download must not refetch the file")
	}
}

func TestDownloadUpdateNothingAvailable(t *testing.T) {
	p := &fakeProvider{info: manifestFor("1.0.0")}
	u := newTestUpdater(t, testApp{version: "1.0.0", packaged: true}, p)
	if _, err := u.CheckForUpdates(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := u.DownloadUpdate(context.Background()); errcode.CodeOf(err) != errcode.InvalidConfiguration {
		t.Errorf("downloading without an available update should fail with InvalidConfiguration, got %v", err)
	}
}

func TestDownloadUpdateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mux := http.NewServeMux()
	mux.HandleFunc("/app.bin", func(w http.ResponseWriter, r *http.Request) {
		cancel()
		<-r.Context().Done()
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	base, err := url.Parse(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	info := &provider.UpdateInfo{
		Version: "2.0.0",
		Files:   []provider.FileInfo{{URL: "app.bin", SHA512: "abc", Size: 100}},
	}
	p := &fakeProvider{info: info, baseURL: base}
	u := newTestUpdater(t, testApp{version: "1.0.0", packaged: true}, p, WithHTTPClient(srv.Client()))

	var errorsSeen recorder[ErrorEvent]
	var cancels recorder[struct{}]
	errSub := u.Errors.Subscribe(errorsSeen.add)
	defer errSub.Close()
	cancelSub := u.UpdateCancelled.Subscribe(cancels.add)
	defer cancelSub.Close()

	if _, err := u.CheckForUpdates(context.Background()); err != nil {
		t.Fatal(err)
	}
	_, err = u.DownloadUpdate(ctx)
	if !errcode.IsCancelled(err) {
		t.Fatalf("want a cancellation error, got %v", err)
	}
	if u.State() != StateCancelled {
		t.Errorf("state = %v, want %v", u.State(), StateCancelled)
	}
	if len(errorsSeen.values()) != 0 {
		t.Error("cancellation must never reach the error feed")
	}
	if len(cancels.values()) != 1 {
		t.Errorf("UpdateCancelled fired %d times, want 1", len(cancels.values()))
	}
}

func TestQuitAndInstall(t *testing.T) {
	content := []byte("installer")
	p, srv, _ := releaseFixture(t, content)
	launcher := &fakeLauncher{}
	info := p.info
	info.IsAdminRightsRequired = true
	u := newTestUpdater(t, testApp{version: "1.0.0", packaged: true}, p,
		WithHTTPClient(srv.Client()), WithLauncher(launcher))

	// Without a download there is nothing to install.
	if err := u.QuitAndInstall(context.Background()); errcode.CodeOf(err) != errcode.InvalidConfiguration {
		t.Errorf("install without download should fail with InvalidConfiguration, got %v", err)
	}

	if _, err := u.CheckForUpdates(context.Background()); err != nil {
		t.Fatal(err)
	}
	path, err := u.DownloadUpdate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := u.QuitAndInstall(context.Background()); err != nil {
		t.Fatal(err)
	}
	launcher.mu.Lock()
	defer launcher.mu.Unlock()
	if launcher.launched != path {
		t.Errorf("launcher received %q, want %q", launcher.launched, path)
	}
	if !launcher.admin {
		t.Error("launcher should be told the manifest requires elevation")
	}
}

func TestDownloadUpdateFallsBackToFull(t *testing.T) {
	// Old installer exists but no block map is reachable anywhere, so the
	// differential path fails and the full download takes over.
	content := []byte("full fallback payload")
	p, srv, downloads := releaseFixture(t, content)

	dir := t.TempDir()
	oldInstaller := filepath.Join(dir, "old.bin")
	if err := os.WriteFile(oldInstaller, []byte("old payload without embedded map"), 0644); err != nil {
		t.Fatal(err)
	}

	u := newTestUpdater(t, testApp{version: "1.0.0", packaged: true}, p,
		WithHTTPClient(srv.Client()), WithOldInstaller(oldInstaller))
	if _, err := u.CheckForUpdates(context.Background()); err != nil {
		t.Fatal(err)
	}
	path, err := u.DownloadUpdate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(content) {
		t.Fatal("fallback download produced wrong content")
	}
	if downloads.Load() == 0 {
		t.Error("expected the full download endpoint to be hit")
	}
}

func TestDownloadUpdateRequireDifferential(t *testing.T) {
	content := []byte("payload")
	p, srv, _ := releaseFixture(t, content)

	dir := t.TempDir()
	oldInstaller := filepath.Join(dir, "old.bin")
	if err := os.WriteFile(oldInstaller, []byte("old payload without embedded map"), 0644); err != nil {
		t.Fatal(err)
	}

	u := newTestUpdater(t, testApp{version: "1.0.0", packaged: true}, p,
		WithHTTPClient(srv.Client()), WithOldInstaller(oldInstaller), WithRequireDifferential())
	if _, err := u.CheckForUpdates(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := u.DownloadUpdate(context.Background()); err == nil {
		t.Fatal("required differential delivery must not fall back to a full download")
	}
}

package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"runtime"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/krisdages/electron-builder-lib-slim/internal/errcode"
)

// maxManifestSize caps channel manifest reads.
const maxManifestSize = 4 << 20

// GenericOption configures a GenericProvider.
type GenericOption func(*GenericProvider)

// WithHTTPClient sets a custom HTTP client (useful for testing).
func WithHTTPClient(c *http.Client) GenericOption {
	return func(p *GenericProvider) { p.httpClient = c }
}

// WithChannel overrides the channel file ("beta" reads beta.yml).
func WithChannel(channel string) GenericOption {
	return func(p *GenericProvider) { p.channel = channel }
}

// WithoutMultipleRangeRequests marks the backing host as unable to serve
// concurrent range requests; the downloader then issues ranges one at a time.
func WithoutMultipleRangeRequests() GenericOption {
	return func(p *GenericProvider) { p.singleRange = true }
}

// GenericProvider serves update metadata from a static HTTP(S) base URL
// holding the channel manifest and the release files next to each other.
type GenericProvider struct {
	baseURL     *url.URL
	channel     string
	singleRange bool
	httpClient  *http.Client
}

// NewGeneric creates a provider for the given base URL.
func NewGeneric(baseURL string, opts ...GenericOption) (*GenericProvider, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errcode.Wrap(errcode.InvalidConfiguration, err, "parsing feed base URL %q", baseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errcode.New(errcode.InvalidConfiguration, "feed base URL %q must be http or https", baseURL)
	}
	p := &GenericProvider{
		baseURL:    u,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// ChannelFile returns the manifest filename for a channel on the given OS.
// The default channel uses latest.yml with a per-OS suffix; a named channel
// uses <channel>.yml (suffixed the same way).
func ChannelFile(channel, goos string) string {
	name := "latest"
	if channel != "" {
		name = channel
	}
	switch goos {
	case "darwin":
		return name + "-mac.yml"
	case "linux":
		return name + "-linux.yml"
	default:
		return name + ".yml"
	}
}

// Channel returns the configured channel ("" for the default channel).
func (p *GenericProvider) Channel() string { return p.channel }

// Latest implements Provider.
func (p *GenericProvider) Latest(ctx context.Context) (*UpdateInfo, error) {
	ref := &url.URL{Path: ChannelFile(p.channel, runtime.GOOS)}
	manifestURL := p.baseURL.ResolveReference(ref)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating manifest request: %w", err)
	}
	req.Header.Set("Accept", "text/yaml, application/x-yaml, */*")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, errcode.Wrap(errcode.Network, err, "fetching channel manifest %s", manifestURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errcode.New(errcode.InvalidConfiguration, "channel manifest %s not found (HTTP 404)", manifestURL)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errcode.New(errcode.Network, "channel manifest %s returned HTTP %d", manifestURL, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestSize))
	if err != nil {
		return nil, errcode.Wrap(errcode.Network, err, "reading channel manifest %s", manifestURL)
	}
	return ParseManifest(data)
}

// ParseManifest validates raw manifest YAML against the embedded schema and
// decodes it.
func ParseManifest(data []byte) (*UpdateInfo, error) {
	result, err := validateManifest(data)
	if err != nil {
		return nil, errcode.Wrap(errcode.InvalidConfiguration, err, "validating channel manifest")
	}
	if !result.Valid {
		return nil, errcode.New(errcode.InvalidConfiguration, "channel manifest failed schema validation: %s", result.Summary())
	}

	var info UpdateInfo
	if err := yaml.Unmarshal(data, &info); err != nil {
		return nil, errcode.Wrap(errcode.InvalidConfiguration, err, "decoding channel manifest")
	}
	if info.Version == "" {
		return nil, errcode.New(errcode.InvalidConfiguration, "channel manifest has no version")
	}
	if len(info.Files) == 0 {
		return nil, errcode.New(errcode.InvalidConfiguration, "channel manifest lists no files")
	}
	return &info, nil
}

// ResolveFiles implements Provider. Relative file URLs resolve against the
// feed base URL.
func (p *GenericProvider) ResolveFiles(info *UpdateInfo) ([]ResolvedFileInfo, error) {
	out := make([]ResolvedFileInfo, 0, len(info.Files))
	for _, f := range info.Files {
		ref, err := url.Parse(f.URL)
		if err != nil {
			return nil, errcode.Wrap(errcode.InvalidConfiguration, err, "parsing file URL %q", f.URL)
		}
		resolved := p.baseURL.ResolveReference(ref)
		if strings.TrimSpace(f.SHA512) == "" {
			return nil, errcode.New(errcode.InvalidConfiguration, "file %q has no sha512", f.URL)
		}
		out = append(out, ResolvedFileInfo{URL: resolved, SHA512: f.SHA512, Size: f.Size})
	}
	return out, nil
}

// UseMultipleRangeRequests implements Provider.
func (p *GenericProvider) UseMultipleRangeRequests() bool { return !p.singleRange }

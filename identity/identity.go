// Package identity builds the client metadata sent when identifying with the
// gateway: desktop client version, build number and host OS version.
package identity

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app/client"
	"github.com/cloudwego/hertz/pkg/network/standard"
	"github.com/cloudwego/hertz/pkg/protocol"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

// DefaultBaseURL is where client metadata is published.
const DefaultBaseURL = "https://discord.com"

const (
	manifestPath = "/api/updates/distributions/app/manifests/latest?channel=stable&platform=win&arch=x86"
	appPath      = "/app"

	userAgentTemplate = "Mozilla/5.0 (Windows NT 10.0; WOW64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) discord/%s Chrome/91.0.4472.164 " +
		"Electron/13.4.0 Safari/537.36"
)

// ErrUnexpectedContent is returned when a fetched document does not have the
// expected shape.
var ErrUnexpectedContent = errors.New("identity: unexpected content")

// Metadata identifies the client to the gateway.
type Metadata struct {
	ClientVersion string
	BuildNumber   int64
	OSVersion     string
}

// IsZero reports whether m carries no client information.
func (m Metadata) IsZero() bool {
	return m.ClientVersion == "" && m.BuildNumber == 0
}

// UserAgent renders the desktop client user agent for m.
func (m Metadata) UserAgent() string {
	return fmt.Sprintf(userAgentTemplate, m.ClientVersion)
}

// Option configures Fetch.
type Option func(*fetchOptions)

type fetchOptions struct {
	baseURL    string
	httpClient *client.Client
	timeout    time.Duration
	osVersion  func() string
}

// WithBaseURL overrides DefaultBaseURL.
func WithBaseURL(u string) Option {
	return func(o *fetchOptions) {
		o.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHertzClient sets a custom Hertz client.
func WithHertzClient(c *client.Client) Option {
	return func(o *fetchOptions) {
		o.httpClient = c
	}
}

// WithTimeout bounds each request. Default: 10s.
func WithTimeout(d time.Duration) Option {
	return func(o *fetchOptions) {
		o.timeout = d
	}
}

// WithOSVersion replaces host OS detection.
func WithOSVersion(fn func() string) Option {
	return func(o *fetchOptions) {
		o.osVersion = fn
	}
}

// Fetch looks up the latest stable client version and build number and
// combines them with the host OS version.
func Fetch(ctx context.Context, opts ...Option) (Metadata, error) {
	o := fetchOptions{
		baseURL:   DefaultBaseURL,
		timeout:   10 * time.Second,
		osVersion: OSVersion,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if o.httpClient == nil {
		c, err := client.NewClient(
			client.WithDialer(standard.NewDialer()),
			client.WithDialTimeout(o.timeout),
			client.WithClientReadTimeout(o.timeout),
			client.WithWriteTimeout(o.timeout),
			client.WithTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}),
		)
		if err != nil {
			return Metadata{}, fmt.Errorf("failed to create http client: %w", err)
		}
		o.httpClient = c
	}

	f := fetcher{c: o.httpClient, base: o.baseURL}

	manifest, err := f.get(ctx, manifestPath)
	if err != nil {
		return Metadata{}, err
	}
	version, err := parseHostVersion(manifest)
	if err != nil {
		return Metadata{}, err
	}

	app, err := f.get(ctx, appPath)
	if err != nil {
		return Metadata{}, err
	}
	script, err := parseScriptSrc(app)
	if err != nil {
		return Metadata{}, err
	}

	body, err := f.get(ctx, script)
	if err != nil {
		return Metadata{}, err
	}
	build, err := parseBuildNumber(body)
	if err != nil {
		return Metadata{}, err
	}

	return Metadata{
		ClientVersion: version,
		BuildNumber:   build,
		OSVersion:     o.osVersion(),
	}, nil
}

type fetcher struct {
	c    *client.Client
	base string
}

// get fetches path relative to the base URL, or an absolute URL as is.
func (f fetcher) get(ctx context.Context, path string) ([]byte, error) {
	uri := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		uri = f.base + path
	}

	req := &protocol.Request{}
	resp := &protocol.Response{}
	req.SetMethod(consts.MethodGet)
	req.SetRequestURI(uri)

	if err := f.c.Do(ctx, req, resp); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	if code := resp.StatusCode(); code != consts.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", uri, code)
	}
	return bytes.Clone(resp.Body()), nil
}

// parseHostVersion turns `"host_version": [1, 0, 9003]` into "1.0.9003".
func parseHostVersion(body []byte) (string, error) {
	_, rest, ok := bytes.Cut(body, []byte(`host_version": [`))
	if !ok {
		return "", fmt.Errorf("%w: manifest has no host_version", ErrUnexpectedContent)
	}
	list, _, ok := bytes.Cut(rest, []byte("]"))
	if !ok {
		return "", fmt.Errorf("%w: unterminated host_version", ErrUnexpectedContent)
	}
	parts := strings.Split(string(list), ",")
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if _, err := strconv.Atoi(p); err != nil {
			return "", fmt.Errorf("%w: host_version component %q", ErrUnexpectedContent, p)
		}
		parts[i] = p
	}
	return strings.Join(parts, "."), nil
}

// parseScriptSrc returns the second-to-last script source on the app page,
// which is the bundle carrying the build number.
func parseScriptSrc(body []byte) (string, error) {
	chunks := bytes.Split(body, []byte(`<script src="`))
	if len(chunks) < 3 {
		return "", fmt.Errorf("%w: app page has fewer than two scripts", ErrUnexpectedContent)
	}
	src, _, ok := bytes.Cut(chunks[len(chunks)-2], []byte(`"`))
	if !ok || len(src) == 0 {
		return "", fmt.Errorf("%w: malformed script tag", ErrUnexpectedContent)
	}
	return string(src), nil
}

func parseBuildNumber(body []byte) (int64, error) {
	_, rest, ok := bytes.Cut(body, []byte(`"buildNumber","`))
	if !ok {
		return 0, fmt.Errorf("%w: script has no buildNumber", ErrUnexpectedContent)
	}
	num, _, ok := bytes.Cut(rest, []byte(`"`))
	if !ok {
		return 0, fmt.Errorf("%w: unterminated buildNumber", ErrUnexpectedContent)
	}
	n, err := strconv.ParseInt(string(num), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: buildNumber %q", ErrUnexpectedContent, num)
	}
	return n, nil
}

// Package collector gathers a live SiteSnapshot from the host registry and
// one self-fetch of the site's home page.
package collector

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/SatoriAU/site-audit/satori"
)

const (
	FetchTimeout = 8 * time.Second
	MaxRedirects = 2
)

// NewHTTPClient returns the client used for the self-fetch.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Timeout: FetchTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > MaxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}

// Collector reads facts about one site.
type Collector struct {
	registry HostRegistry
	client   *http.Client
	siteURL  string
	clock    satori.Clock
}

// New returns a Collector. A nil client disables the self-fetch; a nil
// clock uses the system clock.
func New(registry HostRegistry, client *http.Client, siteURL string, clock satori.Clock) *Collector {
	if clock == nil {
		clock = satori.SystemClock{}
	}
	return &Collector{registry: registry, client: client, siteURL: siteURL, clock: clock}
}

// Collect builds a snapshot. It never fails: each registry call that
// errors leaves its fields at their zero value and logs a warning.
func (c *Collector) Collect(ctx context.Context) satori.SiteSnapshot {
	s := satori.SiteSnapshot{
		CollectedAt: c.clock.Now(),
		CDN:         satori.CDNNone,
	}

	if info, err := c.registry.ServerInfo(ctx); err != nil {
		degraded("server info", err)
	} else {
		s.ServerSoftware = info.Software
		s.RuntimeVersion = info.RuntimeVersion
		s.PlatformVersion = info.PlatformVersion
		s.HTTPS = info.HTTPS
	}

	if exts, err := c.registry.ActiveExtensions(ctx); err != nil {
		degraded("active extensions", err)
	} else {
		s.Extensions = exts
	}

	if child, parent, err := c.registry.ThemeStack(ctx); err != nil {
		degraded("theme stack", err)
	} else {
		s.Theme = child
		s.ParentTheme = parent
	}

	if cache, err := c.registry.CacheLayer(ctx); err != nil {
		degraded("cache layer", err)
	} else {
		s.Cache = cache
	}
	if strings.Contains(strings.ToLower(s.ServerSoftware), "litespeed") {
		s.Cache.IsLiteSpeed = true
	}

	if n, err := c.registry.AdminCount(ctx); err != nil {
		degraded("admin count", err)
	} else {
		s.AdminCount = n
	}

	if flags, err := c.registry.SecurityFlags(ctx); err != nil {
		degraded("security flags", err)
	} else {
		s.FileEditDisallowed = flags.FileEditDisallowed
		s.RemoteEndpointEnabled = flags.RemoteEndpointEnabled
		s.VulnScanSummary = flags.VulnScanSummary
		s.VulnScanLastRun = flags.VulnScanLastRun
	}
	if s.VulnScanSummary == "" {
		s.VulnScanSummary = "Not integrated"
	}

	if u, err := c.registry.PendingUpdates(ctx); err != nil {
		degraded("pending updates", err)
	} else {
		s.Updates = u
	}

	if p, err := c.registry.Permalink(ctx); err != nil {
		degraded("permalink", err)
	} else {
		s.Permalink = p
	}

	if headers := c.fetchHeaders(ctx); headers != nil {
		ApplyHeaders(&s, headers)
	}
	return s
}

func degraded(source string, err error) {
	slog.Warn("Host registry read failed, using default", "source", source, "error", err)
}

// fetchHeaders GETs the site root and returns its lowercased headers, or
// nil on any failure.
func (c *Collector) fetchHeaders(ctx context.Context) map[string]string {
	if c.client == nil || c.siteURL == "" {
		return nil
	}
	target := strings.TrimRight(c.siteURL, "/") + "/"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		slog.Debug("Self-fetch request invalid", "url", target, "error", err)
		return nil
	}
	resp, err := c.client.Do(req)
	if err != nil {
		slog.Debug("Self-fetch failed", "url", target, "error", err)
		return nil
	}
	defer resp.Body.Close()
	return LowerHeaders(resp.Header)
}

// LowerHeaders flattens h into lowercase names with comma-joined values.
func LowerHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		out[strings.ToLower(name)] = strings.Join(values, ", ")
	}
	return out
}

// ApplyHeaders derives the CDN hint, cache status and HTTP/3 hint from the
// self-fetch headers and stores the headers on s.
func ApplyHeaders(s *satori.SiteSnapshot, headers map[string]string) {
	s.Headers = headers

	if _, ok := headers["cf-cache-status"]; ok {
		s.CDN = satori.CDNCloudflare
	}
	_, qcPop := headers["x-qc-pop"]
	_, qcCache := headers["x-qc-cache"]
	if qcPop || qcCache {
		s.CDN = satori.CDNOther
	}

	if v, ok := headers["x-litespeed-cache"]; ok {
		s.CacheStatus = strings.ToLower(strings.TrimSpace(v))
	} else if v, ok := headers["cache-status"]; ok {
		s.CacheStatus = cacheStatusFromRFC9211(v)
	}

	if strings.Contains(strings.ToLower(headers["alt-svc"]), "h3") {
		s.HTTP3Hint = true
	}
}

// cacheStatusFromRFC9211 reduces a Cache-Status header such as
// `ExampleCache; hit, CDN; fwd=uri-miss` to "hit" when the first cache
// reports a hit, else to the raw value lowercased.
func cacheStatusFromRFC9211(v string) string {
	first := strings.TrimSpace(strings.SplitN(v, ",", 2)[0])
	for _, param := range strings.Split(first, ";")[1:] {
		if strings.TrimSpace(strings.ToLower(param)) == "hit" {
			return "hit"
		}
	}
	return strings.ToLower(strings.TrimSpace(v))
}

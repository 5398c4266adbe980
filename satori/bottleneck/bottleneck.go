// Package bottleneck evaluates a site snapshot against a fixed catalog of
// configuration-conflict rules.
package bottleneck

import (
	"strings"

	"github.com/SatoriAU/site-audit/satori"
)

const (
	TypeDupSEO         = "dup_seo"
	TypeDupCache       = "dup_cache"
	TypeDupImageOpt    = "dup_image_opt"
	TypeFileManager    = "file_manager"
	TypeCDNDouble      = "cdn_double"
	TypePermalinkPlain = "permalinks_plain"
	TypePermalinkToken = "permalinks_nonpostname"
)

// category is a functional group of extensions that should not be doubled up.
type category struct {
	typ      string
	severity satori.Severity
	keywords []string
	message  string
	// countsCacheImages adds the cache layer's own image optimizer as a member.
	countsCacheImages bool
	// threshold is the member count at which the rule fires.
	threshold int
}

var categories = []category{
	{
		typ:       TypeDupSEO,
		severity:  satori.SeverityMedium,
		keywords:  []string{"yoast", "wordpress-seo", "aioseo", "rank-math", "seopress"},
		message:   "Multiple SEO plugins. Keep exactly one.",
		threshold: 2,
	},
	{
		typ:       TypeDupCache,
		severity:  satori.SeverityHigh,
		keywords:  []string{"litespeed", "wp-rocket", "w3-total-cache", "wp-super-cache", "wp-optimize", "hummingbird"},
		message:   "Multiple cache/optimizer plugins. Use LiteSpeed alone.",
		threshold: 2,
	},
	{
		typ:               TypeDupImageOpt,
		severity:          satori.SeverityMedium,
		keywords:          []string{"imagify", "shortpixel", "ewww", "smush"},
		message:           "More than one image optimizer active. Choose one.",
		countsCacheImages: true,
		threshold:         2,
	},
	{
		typ:       TypeFileManager,
		severity:  satori.SeverityHigh,
		keywords:  []string{"file-manager", "file manager"},
		message:   "File Manager active on production. Remove or strictly limit.",
		threshold: 1,
	},
}

// matches reports whether any keyword is a substring of the extension's
// slug or display name, ignoring case.
func matches(ext satori.Extension, keywords []string) bool {
	slug := strings.ToLower(ext.Slug)
	name := strings.ToLower(ext.Name)
	for _, k := range keywords {
		if strings.Contains(slug, k) || strings.Contains(name, k) {
			return true
		}
	}
	return false
}

// members counts extensions in the category; each extension counts once.
func (c category) members(s satori.SiteSnapshot) int {
	n := 0
	for _, ext := range s.Extensions {
		if matches(ext, c.keywords) {
			n++
		}
	}
	if c.countsCacheImages && s.Cache.Active && s.Cache.ImageOptimize {
		n++
	}
	return n
}

// Evaluate runs the catalog in declaration order.
func Evaluate(s satori.SiteSnapshot) []satori.BottleneckIssue {
	var issues []satori.BottleneckIssue

	for _, c := range categories {
		if c.members(s) >= c.threshold {
			issues = append(issues, satori.BottleneckIssue{Type: c.typ, Severity: c.severity, Message: c.message})
		}
	}

	if s.CDN != "" && s.CDN != satori.CDNNone && s.Cache.Active {
		label := "CDN"
		if s.CDN == satori.CDNCloudflare {
			label = "Cloudflare"
		}
		issues = append(issues, satori.BottleneckIssue{
			Type:     TypeCDNDouble,
			Severity: satori.SeverityLow,
			Message:  label + " + LSCWP: ensure rules don’t double-optimize HTML.",
		})
	}

	switch {
	case strings.TrimSpace(s.Permalink) == "":
		issues = append(issues, satori.BottleneckIssue{
			Type:     TypePermalinkPlain,
			Severity: satori.SeverityHigh,
			Message:  "Permalinks are “Plain”. Use /%postname%/.",
		})
	case !strings.Contains(s.Permalink, "%postname%"):
		issues = append(issues, satori.BottleneckIssue{
			Type:     TypePermalinkToken,
			Severity: satori.SeverityLow,
			Message:  "Consider /%postname%/ for SEO-friendly URLs.",
		})
	}

	return issues
}

// Suggestions turns cache-layer gaps and detected issues into a
// de-duplicated action list, in a stable order.
func Suggestions(s satori.SiteSnapshot, issues []satori.BottleneckIssue) []string {
	var out []string
	c := s.Cache
	if c.Active {
		if !c.CSSMinify {
			out = append(out, "Enable CSS Minify (LSCWP).")
		}
		if c.CSSCombine {
			out = append(out, "Disable CSS Combine (HTTP/2+).")
		}
		if !c.JSMinify {
			out = append(out, "Enable JS Minify; also Defer + Delay where safe.")
		}
		if !c.CriticalCSS {
			out = append(out, "Enable UCSS (Critical CSS via QUIC.cloud).")
		}
		if !c.ObjectCache {
			out = append(out, "Enable Object Cache (Redis) if available.")
		}
		if !c.ImageOptimize {
			out = append(out, "Enable Image Optimization in LSCWP (or remove overlap).")
		}
		if !c.WebP {
			out = append(out, "Serve WebP/AVIF via LSCWP rewrites.")
		}
		if c.Crawler {
			out = append(out, "Disable the Crawler unless on a strong server.")
		}
	} else {
		out = append(out, "Install/activate LiteSpeed Cache and enable page caching.")
	}

	for _, i := range issues {
		switch i.Type {
		case TypeDupSEO:
			out = append(out, "Deactivate extra SEO plugin(s).")
		case TypeDupCache:
			out = append(out, "Deactivate non-LiteSpeed cache/optimizer plugins.")
		case TypeDupImageOpt:
			out = append(out, "Use ONE image optimizer only.")
		case TypeFileManager:
			out = append(out, "Remove File Manager; use SFTP/host panel.")
		case TypeCDNDouble:
			out = append(out, "Check CDN page rules vs LSCWP headers.")
		}
	}
	if s.CDN == satori.CDNOther {
		out = append(out, "Ensure HTTP/3 is enabled; avoid duplicate optimizations across layers.")
	}

	seen := make(map[string]bool, len(out))
	uniq := out[:0]
	for _, line := range out {
		if !seen[line] {
			seen[line] = true
			uniq = append(uniq, line)
		}
	}
	return uniq
}

package collector

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/SatoriAU/site-audit/satori"
	"gopkg.in/yaml.v3"
)

// ServerInfo identifies the host stack.
type ServerInfo struct {
	Software        string `json:"server" yaml:"server"`
	RuntimeVersion  string `json:"runtime" yaml:"runtime"`
	PlatformVersion string `json:"platform" yaml:"platform"`
	HTTPS           bool   `json:"https" yaml:"https"`
}

// SecurityFlags are the hardening switches read from the host.
type SecurityFlags struct {
	FileEditDisallowed    bool   `json:"disallow_file_edit" yaml:"disallow_file_edit"`
	RemoteEndpointEnabled bool   `json:"xmlrpc_enabled" yaml:"xmlrpc_enabled"`
	VulnScanSummary       string `json:"vuln_scan_summary" yaml:"vuln_scan_summary"`
	VulnScanLastRun       string `json:"vuln_scan_last_run" yaml:"vuln_scan_last_run"`
}

// HostRegistry is the host platform's view of the site.
type HostRegistry interface {
	ServerInfo(ctx context.Context) (ServerInfo, error)
	ActiveExtensions(ctx context.Context) ([]satori.Extension, error)
	ThemeStack(ctx context.Context) (satori.ThemeInfo, *satori.ThemeInfo, error)
	CacheLayer(ctx context.Context) (satori.CacheLayer, error)
	AdminCount(ctx context.Context) (int, error)
	SecurityFlags(ctx context.Context) (SecurityFlags, error)
	PendingUpdates(ctx context.Context) (satori.PendingUpdates, error)
	Permalink(ctx context.Context) (string, error)
}

// Facts is a complete host export. It satisfies HostRegistry directly.
type Facts struct {
	Server      ServerInfo            `yaml:",inline"`
	Security    SecurityFlags         `yaml:",inline"`
	Permalinks  string                `yaml:"permalink"`
	Theme       satori.ThemeInfo      `yaml:"theme"`
	ParentTheme *satori.ThemeInfo     `yaml:"parent_theme"`
	Cache       satori.CacheLayer     `yaml:"cache"`
	Admins      int                   `yaml:"admins"`
	Updates     satori.PendingUpdates `yaml:"updates"`
	Plugins     []satori.Extension    `yaml:"plugins"`
}

func (f Facts) ServerInfo(context.Context) (ServerInfo, error) { return f.Server, nil }

func (f Facts) ActiveExtensions(context.Context) ([]satori.Extension, error) {
	return f.Plugins, nil
}

func (f Facts) ThemeStack(context.Context) (satori.ThemeInfo, *satori.ThemeInfo, error) {
	return f.Theme, f.ParentTheme, nil
}

func (f Facts) CacheLayer(context.Context) (satori.CacheLayer, error) { return f.Cache, nil }

func (f Facts) AdminCount(context.Context) (int, error) { return f.Admins, nil }

func (f Facts) SecurityFlags(context.Context) (SecurityFlags, error) { return f.Security, nil }

func (f Facts) PendingUpdates(context.Context) (satori.PendingUpdates, error) {
	return f.Updates, nil
}

func (f Facts) Permalink(context.Context) (string, error) { return f.Permalinks, nil }

var lscacheBlock = regexp.MustCompile(`(?s)#\s*BEGIN\s*LSCACHE(.+?)#\s*END\s*LSCACHE`)

// HasLSCacheBlock reports whether an .htaccess body carries the cache
// plugin's rewrite block.
func HasLSCacheBlock(htaccess []byte) bool {
	return lscacheBlock.Match(htaccess)
}

// FileRegistry reads Facts from a YAML (or JSON) document written by the
// host, reloading it whenever its modification time changes. When
// HtaccessPath is set the cache layer's HtaccessBlock flag comes from
// scanning that file.
type FileRegistry struct {
	Path         string
	HtaccessPath string

	mu      sync.Mutex
	modTime time.Time
	facts   Facts
}

// NewFileRegistry returns a registry for the facts file at path.
func NewFileRegistry(path, htaccessPath string) *FileRegistry {
	return &FileRegistry{Path: path, HtaccessPath: htaccessPath}
}

func (r *FileRegistry) load() (Facts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, err := os.Stat(r.Path)
	if err != nil {
		return Facts{}, fmt.Errorf("facts file: %w", err)
	}
	if !info.ModTime().Equal(r.modTime) || r.modTime.IsZero() {
		data, err := os.ReadFile(r.Path)
		if err != nil {
			return Facts{}, fmt.Errorf("reading facts file: %w", err)
		}
		var f Facts
		if err := yaml.Unmarshal(data, &f); err != nil {
			return Facts{}, fmt.Errorf("parsing facts file: %w", err)
		}
		r.facts = f
		r.modTime = info.ModTime()
	}
	return r.facts, nil
}

func (r *FileRegistry) ServerInfo(ctx context.Context) (ServerInfo, error) {
	f, err := r.load()
	if err != nil {
		return ServerInfo{}, err
	}
	return f.ServerInfo(ctx)
}

func (r *FileRegistry) ActiveExtensions(ctx context.Context) ([]satori.Extension, error) {
	f, err := r.load()
	if err != nil {
		return nil, err
	}
	return f.ActiveExtensions(ctx)
}

func (r *FileRegistry) ThemeStack(ctx context.Context) (satori.ThemeInfo, *satori.ThemeInfo, error) {
	f, err := r.load()
	if err != nil {
		return satori.ThemeInfo{}, nil, err
	}
	return f.ThemeStack(ctx)
}

func (r *FileRegistry) CacheLayer(ctx context.Context) (satori.CacheLayer, error) {
	f, err := r.load()
	if err != nil {
		return satori.CacheLayer{}, err
	}
	c := f.Cache
	if r.HtaccessPath != "" {
		raw, err := os.ReadFile(r.HtaccessPath)
		c.HtaccessBlock = err == nil && HasLSCacheBlock(raw)
	}
	return c, nil
}

func (r *FileRegistry) AdminCount(ctx context.Context) (int, error) {
	f, err := r.load()
	if err != nil {
		return 0, err
	}
	return f.AdminCount(ctx)
}

func (r *FileRegistry) SecurityFlags(ctx context.Context) (SecurityFlags, error) {
	f, err := r.load()
	if err != nil {
		return SecurityFlags{}, err
	}
	return f.SecurityFlags(ctx)
}

func (r *FileRegistry) PendingUpdates(ctx context.Context) (satori.PendingUpdates, error) {
	f, err := r.load()
	if err != nil {
		return satori.PendingUpdates{}, err
	}
	return f.PendingUpdates(ctx)
}

func (r *FileRegistry) Permalink(ctx context.Context) (string, error) {
	f, err := r.load()
	if err != nil {
		return "", err
	}
	return f.Permalink(ctx)
}

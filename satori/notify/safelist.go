package notify

import (
	"regexp"
	"strings"

	"github.com/SatoriAU/site-audit/satori/config"
)

var entrySeparator = regexp.MustCompile(`[,\s]+`)

// Safelist holds the allow-rules for outbound recipients: whole domains
// ("@example.com") and exact addresses.
type Safelist struct {
	Domains map[string]bool
	Emails  map[string]bool
}

// ParseSafelist splits entries on commas and whitespace. Entries are
// lowercased; "@domain" entries allow a domain, entries containing "@"
// allow one address and anything else is ignored.
func ParseSafelist(entries string) Safelist {
	s := Safelist{Domains: map[string]bool{}, Emails: map[string]bool{}}
	for _, item := range entrySeparator.Split(entries, -1) {
		item = strings.ToLower(strings.TrimSpace(item))
		switch {
		case item == "":
		case item[0] == '@' && len(item) > 1:
			s.Domains[item[1:]] = true
		case strings.Contains(item, "@"):
			s.Emails[item] = true
		}
	}
	return s
}

// Empty reports whether the safelist allows nothing.
func (s Safelist) Empty() bool { return len(s.Domains) == 0 && len(s.Emails) == 0 }

// Allows reports whether addr matches an exact entry or a domain entry.
// The domain is everything after the last "@".
func (s Safelist) Allows(addr string) bool {
	a := strings.ToLower(strings.TrimSpace(addr))
	if s.Emails[a] {
		return true
	}
	if at := strings.LastIndex(a, "@"); at >= 0 {
		return s.Domains[a[at+1:]]
	}
	return false
}

// FilterRecipients applies the safelist when enforce is set. With
// enforcement on and no usable entries, nothing passes.
func FilterRecipients(candidates []string, enforce bool, entries string) []string {
	if !enforce {
		return candidates
	}
	list := ParseSafelist(entries)
	if list.Empty() {
		return nil
	}
	var out []string
	for _, c := range candidates {
		if list.Allows(c) {
			out = append(out, c)
		}
	}
	return out
}

// SplitRecipients splits a comma-separated address list, dropping blanks.
func SplitRecipients(csv string) []string {
	var out []string
	for _, part := range strings.Split(csv, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// PreviewRecipients is the list a report would go to right now.
func PreviewRecipients(cfg *config.Config) []string {
	return FilterRecipients(SplitRecipients(cfg.Notify.Emails), cfg.Notify.EnforceSafelist, cfg.Notify.SafelistEntries)
}

// HardenRecipients clears notify emails when they are just the site's own
// admin address. It reports whether cfg changed.
func HardenRecipients(cfg *config.Config) bool {
	emails := strings.TrimSpace(cfg.Notify.Emails)
	if emails == "" || emails != strings.TrimSpace(cfg.Notify.AdminEmail) {
		return false
	}
	cfg.Notify.Emails = ""
	return true
}

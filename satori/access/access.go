// Package access decides who may see the settings and dashboard surfaces.
package access

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/SatoriAU/site-audit/satori/config"
)

// ErrAccessDenied is returned when a user fails the policy.
var ErrAccessDenied = errors.New("access denied")

// User is an authenticated site administrator.
type User struct {
	ID    int
	Login string
	Email string
	Admin bool
}

// UserFromOwner builds a User from an API key owner: a numeric id, an
// email address or a login. API key holders are administrators.
func UserFromOwner(owner string) User {
	owner = strings.TrimSpace(owner)
	u := User{Admin: true}
	if id, err := strconv.Atoi(owner); err == nil {
		u.ID = id
		return u
	}
	if strings.Contains(owner, "@") {
		u.Email = owner
		return u
	}
	u.Login = owner
	return u
}

// Name is the label used in the run log.
func (u User) Name() string {
	switch {
	case u.Login != "":
		return u.Login
	case u.Email != "":
		return u.Email
	case u.ID != 0:
		return strconv.Itoa(u.ID)
	default:
		return "System"
	}
}

var allowSeparator = regexp.MustCompile(`[,\s]+`)

// Policy is the parsed access section of the config.
type Policy struct {
	restrictSettings  bool
	restrictDashboard bool
	primary           string
	emails            map[string]bool
	logins            map[string]bool
	ids               map[int]bool
}

// NewPolicy parses the allowed-admins list: numeric entries are user ids,
// entries with "@" are emails, anything else is a login.
func NewPolicy(cfg config.AccessConfig) *Policy {
	p := &Policy{
		restrictSettings:  cfg.RestrictSettings,
		restrictDashboard: cfg.RestrictDashboard,
		primary:           strings.ToLower(strings.TrimSpace(cfg.PrimaryAdminEmail)),
		emails:            map[string]bool{},
		logins:            map[string]bool{},
		ids:               map[int]bool{},
	}
	for _, item := range allowSeparator.Split(cfg.AllowedAdmins, -1) {
		if item == "" {
			continue
		}
		if id, err := strconv.Atoi(item); err == nil {
			p.ids[id] = true
			continue
		}
		if strings.Contains(item, "@") {
			p.emails[strings.ToLower(item)] = true
			continue
		}
		p.logins[strings.ToLower(item)] = true
	}
	return p
}

func (p *Policy) allowed(u User) bool {
	email := strings.ToLower(u.Email)
	if p.primary != "" && email == p.primary {
		return true
	}
	return (email != "" && p.emails[email]) ||
		(u.Login != "" && p.logins[strings.ToLower(u.Login)]) ||
		(u.ID != 0 && p.ids[u.ID])
}

// CanViewSettings reports whether u may see or change settings.
func (p *Policy) CanViewSettings(u User) bool {
	if !u.Admin {
		return false
	}
	if !p.restrictSettings {
		return true
	}
	return p.allowed(u)
}

// CanViewDashboard reports whether u may run audits and download reports.
func (p *Policy) CanViewDashboard(u User) bool {
	if !u.Admin {
		return false
	}
	if !p.restrictDashboard {
		return true
	}
	return p.CanViewSettings(u)
}

// RequireSettings returns ErrAccessDenied unless CanViewSettings.
func (p *Policy) RequireSettings(u User) error {
	if !p.CanViewSettings(u) {
		return ErrAccessDenied
	}
	return nil
}

// RequireDashboard returns ErrAccessDenied unless CanViewDashboard.
func (p *Policy) RequireDashboard(u User) error {
	if !p.CanViewDashboard(u) {
		return ErrAccessDenied
	}
	return nil
}

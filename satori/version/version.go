// Package version handles display and best-effort parsing of free-form
// version strings.
package version

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var numericRun = regexp.MustCompile(`\d+`)

// Triple is a parsed major.minor.patch.
type Triple struct {
	Major int
	Minor int
	Patch int
}

// Normalize trims v and prefixes "v" unless it already starts with v or V.
// The empty string stays empty.
func Normalize(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return v
	}
	if v[0] == 'v' || v[0] == 'V' {
		return v
	}
	return "v" + v
}

// Parse reads up to three numeric runs from v. Missing components are zero.
// It returns nil when v carries no digits at all.
func Parse(v string) *Triple {
	runs := numericRun.FindAllString(strings.TrimSpace(v), 3)
	if len(runs) == 0 {
		return nil
	}
	nums := [3]int{}
	for i, r := range runs {
		n, err := strconv.Atoi(r)
		if err != nil {
			return nil
		}
		nums[i] = n
	}
	return &Triple{Major: nums[0], Minor: nums[1], Patch: nums[2]}
}

// DeltaLabel returns " (+N)" when prev and curr share major.minor and the
// patch grew by N. Anything else, including unparseable input, yields "".
func DeltaLabel(prev, curr string) string {
	if prev == "" || curr == "" {
		return ""
	}
	p, c := Parse(prev), Parse(curr)
	if p == nil || c == nil {
		return ""
	}
	if p.Major != c.Major || p.Minor != c.Minor {
		return ""
	}
	if d := c.Patch - p.Patch; d > 0 {
		return fmt.Sprintf(" (+%d)", d)
	}
	return ""
}

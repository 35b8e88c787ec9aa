package sshca

import (
	"regexp"
	"strconv"
	"time"

	"github.com/infisical/cacore/errs"
)

// ttlPattern accepts duration strings like "30s", "5m", "12h" or "30d".
var ttlPattern = regexp.MustCompile(`^(\d+)([smhd])$`)

// ParseTTL resolves a certificate TTL string to a duration. The "d" suffix
// is accepted on top of the usual s/m/h units.
func ParseTTL(s string) (time.Duration, error) {
	m := ttlPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, errs.BadRequest("invalid TTL %q: expected a value like \"30d\", \"12h\", \"5m\" or \"30s\"", s)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, errs.BadRequest("invalid TTL %q", s)
	}
	var unit time.Duration
	switch m[2] {
	case "s":
		unit = time.Second
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	}
	d := time.Duration(n) * unit
	if d <= 0 {
		return 0, errs.BadRequest("TTL %q must be positive", s)
	}
	return d, nil
}

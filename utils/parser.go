package utils

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// ParseID parses a non-negative decimal identifier such as a tram or stop id.
func ParseID(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, errors.Wrap(err, "invalid id value")
	}
	if n < 0 {
		return 0, errors.Newf("invalid id value: %d is negative", n)
	}
	return n, nil
}

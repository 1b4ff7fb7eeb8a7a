package jws

import (
	"strings"

	"github.com/sunet/vcengine/internal/errs"
)

// splitCompact splits a dot-separated compact serialization into exactly n parts.
func splitCompact(s string, n int) ([]string, error) {
	parts := strings.Split(s, ".")
	if len(parts) != n {
		return nil, errs.Newf(errs.ParseError, "compact serialization: expected %d segments, got %d", n, len(parts))
	}
	return parts, nil
}

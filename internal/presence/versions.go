package presence

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	apperrors "metapub.io/metapub/internal/pkg/errors"
)

// maxVersionSpan guards against typos such as "20-3000".
const maxVersionSpan = 1000

var rangeToken = regexp.MustCompile(`^(\d+)\s*(?:-|\.\.)\s*(\d+)$`)

// ParseVersions parses a version list such as "20-30,15..18,12" into sorted
// unique positive versions. Tokens are separated by commas or whitespace; a range
// may be written start-end or start..end in either order.
func ParseVersions(list string) ([]int, error) {
	set := make(map[int]struct{})
	fields := strings.FieldsFunc(list, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' || r == '\n' })
	for _, tok := range fields {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if v, err := strconv.Atoi(tok); err == nil {
			if v <= 0 {
				return nil, apperrors.ErrInvalidArgumentf("version %q must be positive", tok)
			}
			set[v] = struct{}{}
			continue
		}
		m := rangeToken.FindStringSubmatch(tok)
		if m == nil {
			return nil, apperrors.ErrInvalidArgumentf("invalid version token %q (want N, A-B or A..B)", tok)
		}
		from, _ := strconv.Atoi(m[1])
		to, _ := strconv.Atoi(m[2])
		vs, err := VersionRange(from, to)
		if err != nil {
			return nil, err
		}
		for _, v := range vs {
			set[v] = struct{}{}
		}
	}

	out := make([]int, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Ints(out)
	return out, nil
}

// VersionRange returns the inclusive range between from and to, in either order.
func VersionRange(from, to int) ([]int, error) {
	if from > to {
		from, to = to, from
	}
	if from <= 0 {
		return nil, apperrors.ErrInvalidArgumentf("version range %d-%d must be positive", from, to)
	}
	if to-from >= maxVersionSpan {
		return nil, apperrors.ErrInvalidArgumentf("version range %d-%d spans more than %d versions", from, to, maxVersionSpan)
	}
	out := make([]int, 0, to-from+1)
	for v := from; v <= to; v++ {
		out = append(out, v)
	}
	return out, nil
}

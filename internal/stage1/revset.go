package stage1

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// RevSet is an ascending, non-overlapping set of SVN revision ranges, the
// in-memory shape of one path's entry in an svn:mergeinfo property value
// ("1-5,8,12-14").
type RevSet struct {
	ranges [][2]int // inclusive [lo, hi]
}

// ParseRevSet parses one comma-separated mergeinfo range list. SVN's
// mergeinfo format also allows a trailing "*" marking a range as
// non-inheritable; that marker changes nothing for this converter (Git has
// no concept of non-inheritable merge history) so it is accepted and
// dropped.
func ParseRevSet(s string) (RevSet, error) {
	var rs RevSet
	if s == "" {
		return rs, nil
	}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSuffix(strings.TrimSpace(part), "*")
		if part == "" {
			continue
		}
		if i := strings.IndexByte(part, '-'); i >= 0 {
			lo, err := strconv.Atoi(part[:i])
			if err != nil {
				return rs, fmt.Errorf("invalid mergeinfo range %q: %w", part, err)
			}
			hi, err := strconv.Atoi(part[i+1:])
			if err != nil {
				return rs, fmt.Errorf("invalid mergeinfo range %q: %w", part, err)
			}
			rs.ranges = append(rs.ranges, [2]int{lo, hi})
		} else {
			r, err := strconv.Atoi(part)
			if err != nil {
				return rs, fmt.Errorf("invalid mergeinfo revision %q: %w", part, err)
			}
			rs.ranges = append(rs.ranges, [2]int{r, r})
		}
	}
	rs.normalize()
	return rs, nil
}

func (rs *RevSet) normalize() {
	if len(rs.ranges) == 0 {
		return
	}
	sort.Slice(rs.ranges, func(i, j int) bool { return rs.ranges[i][0] < rs.ranges[j][0] })
	out := rs.ranges[:1]
	for _, r := range rs.ranges[1:] {
		last := &out[len(out)-1]
		if r[0] <= last[1]+1 {
			if r[1] > last[1] {
				last[1] = r[1]
			}
		} else {
			out = append(out, r)
		}
	}
	rs.ranges = out
}

// Contains reports whether rev is a member of rs.
func (rs RevSet) Contains(rev int) bool {
	for _, r := range rs.ranges {
		if rev >= r[0] && rev <= r[1] {
			return true
		}
	}
	return false
}

// Max returns the largest revision in rs and whether rs is non-empty.
func (rs RevSet) Max() (int, bool) {
	if len(rs.ranges) == 0 {
		return 0, false
	}
	return rs.ranges[len(rs.ranges)-1][1], true
}

// IsEmpty reports whether rs has no members.
func (rs RevSet) IsEmpty() bool { return len(rs.ranges) == 0 }

// Clip returns rs intersected with [lo, hi].
func (rs RevSet) Clip(lo, hi int) RevSet {
	var out RevSet
	for _, r := range rs.ranges {
		a, b := r[0], r[1]
		if a < lo {
			a = lo
		}
		if b > hi {
			b = hi
		}
		if a <= b {
			out.ranges = append(out.ranges, [2]int{a, b})
		}
	}
	return out
}

// Sub returns rs with other's members removed.
func (rs RevSet) Sub(other RevSet) RevSet {
	var out RevSet
	for _, r := range rs.ranges {
		lo, hi := r[0], r[1]
		for cur := lo; cur <= hi; cur++ {
			if !other.Contains(cur) {
				out.ranges = append(out.ranges, [2]int{cur, cur})
			}
		}
	}
	out.normalize()
	return out
}

// Union returns the union of rs and other.
func (rs RevSet) Union(other RevSet) RevSet {
	out := RevSet{ranges: append(append([][2]int{}, rs.ranges...), other.ranges...)}
	out.normalize()
	return out
}

// Equal reports whether rs and other contain exactly the same revisions.
func (rs RevSet) Equal(other RevSet) bool {
	if len(rs.ranges) != len(other.ranges) {
		return false
	}
	for i := range rs.ranges {
		if rs.ranges[i] != other.ranges[i] {
			return false
		}
	}
	return true
}

// FromInts builds a RevSet out of individual (possibly unsorted,
// possibly duplicated) revisions.
func FromInts(revs []int) RevSet {
	var rs RevSet
	for _, r := range revs {
		rs.ranges = append(rs.ranges, [2]int{r, r})
	}
	rs.normalize()
	return rs
}

// Each calls fn for every member revision, ascending.
func (rs RevSet) Each(fn func(rev int)) {
	for _, r := range rs.ranges {
		for rev := r[0]; rev <= r[1]; rev++ {
			fn(rev)
		}
	}
}

// ParseMergeinfo parses a full svn:mergeinfo property value: one
// "path:rangelist" entry per line.
func ParseMergeinfo(value []byte) (map[string]RevSet, error) {
	out := make(map[string]RevSet)
	for _, line := range strings.Split(string(value), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		i := strings.LastIndexByte(line, ':')
		if i < 0 {
			return nil, fmt.Errorf("invalid mergeinfo line %q", line)
		}
		path := strings.TrimPrefix(line[:i], "/")
		rs, err := ParseRevSet(line[i+1:])
		if err != nil {
			return nil, fmt.Errorf("mergeinfo path %q: %w", path, err)
		}
		if existing, ok := out[path]; ok {
			out[path] = existing.Union(rs)
		} else {
			out[path] = rs
		}
	}
	return out, nil
}

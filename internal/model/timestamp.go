package model

import (
	"strconv"
	"strings"
	"time"
)

// Timestamp is a server message timestamp such as "1700000000.000100". It
// is the unique id of a message within a channel and its sort key.
type Timestamp string

// IsZero reports whether the timestamp is empty.
func (t Timestamp) IsZero() bool {
	return t == ""
}

func (t Timestamp) String() string {
	return string(t)
}

// parts splits the timestamp into whole seconds and a fraction normalised to
// six digits. Malformed input sorts as zero.
func (t Timestamp) parts() (int64, int64) {
	whole, frac, _ := strings.Cut(string(t), ".")
	sec, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, 0
	}
	if len(frac) > 6 {
		frac = frac[:6]
	}
	for len(frac) < 6 {
		frac += "0"
	}
	micro, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return sec, 0
	}
	return sec, micro
}

// Time converts the timestamp to wall-clock time with microsecond
// precision.
func (t Timestamp) Time() time.Time {
	sec, micro := t.parts()
	return time.Unix(sec, micro*int64(time.Microsecond))
}

// Compare returns -1, 0 or +1 comparing t and other numerically.
func (t Timestamp) Compare(other Timestamp) int {
	if t == other {
		return 0
	}
	as, af := t.parts()
	bs, bf := other.parts()
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	case af < bf:
		return -1
	case af > bf:
		return 1
	default:
		return strings.Compare(string(t), string(other))
	}
}

// Before reports whether t sorts before other.
func (t Timestamp) Before(other Timestamp) bool {
	return t.Compare(other) < 0
}

// Max returns the later of the two timestamps.
func Max(a, b Timestamp) Timestamp {
	if a.Compare(b) >= 0 {
		return a
	}
	return b
}

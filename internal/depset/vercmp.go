package depset

import "strings"

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
func isAlpha(c byte) bool { c |= 0x20; return c >= 'a' && c <= 'z' }
func isAlnum(c byte) bool { return isDigit(c) || isAlpha(c) }

// Compare orders two version strings segment by segment. Separators are
// any non-alphanumeric run; numeric segments compare numerically and beat
// alphabetic ones. It returns -1, 0 or 1.
func Compare(a, b string) int {
	if a == b {
		return 0
	}
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		for i < len(a) && !isAlnum(a[i]) {
			i++
		}
		for j < len(b) && !isAlnum(b[j]) {
			j++
		}
		si, sj := i, j
		isnum := si < len(a) && isDigit(a[si])
		if isnum {
			for i < len(a) && isDigit(a[i]) {
				i++
			}
			for j < len(b) && isDigit(b[j]) {
				j++
			}
		} else {
			for i < len(a) && isAlpha(a[i]) {
				i++
			}
			for j < len(b) && isAlpha(b[j]) {
				j++
			}
		}

		// segments of different type, or a trailing separator
		if si == i {
			return -1
		}
		if sj == j {
			if isnum {
				return 1
			}
			return -1
		}

		one, two := a[si:i], b[sj:j]
		if isnum {
			one = strings.TrimLeft(one, "0")
			two = strings.TrimLeft(two, "0")
			if len(one) > len(two) {
				return 1
			}
			if len(two) > len(one) {
				return -1
			}
		}
		if c := strings.Compare(one, two); c != 0 {
			return c
		}
	}
	switch {
	case i >= len(a) && j >= len(b):
		return 0
	case i >= len(a):
		return -1
	default:
		return 1
	}
}

// EVR is a parsed [epoch:]version[-release].
type EVR struct {
	Epoch   string
	Version string
	Release string
}

// ParseEVR splits s. The epoch is taken only when the part before ':' is
// all digits; the release is what follows the last '-'.
func ParseEVR(s string) EVR {
	var e EVR
	if k := strings.IndexByte(s, ':'); k >= 0 {
		digits := k > 0
		for n := 0; n < k; n++ {
			if !isDigit(s[n]) {
				digits = false
				break
			}
		}
		if digits {
			e.Epoch = s[:k]
			s = s[k+1:]
		}
	}
	if k := strings.LastIndexByte(s, '-'); k >= 0 {
		e.Version, e.Release = s[:k], s[k+1:]
	} else {
		e.Version = s
	}
	return e
}

func (e EVR) String() string {
	s := e.Version
	if e.Release != "" {
		s += "-" + e.Release
	}
	if e.Epoch != "" {
		s = e.Epoch + ":" + s
	}
	return s
}

func epochPositive(s string) bool {
	return strings.TrimLeft(s, "0") != ""
}

// CompareEVR compares epochs first (a missing epoch only loses to a
// positive one), then versions, then releases when both have one.
func CompareEVR(a, b EVR) int {
	sense := 0
	switch {
	case a.Epoch != "" && b.Epoch != "":
		sense = Compare(a.Epoch, b.Epoch)
	case a.Epoch != "" && epochPositive(a.Epoch):
		sense = 1
	case b.Epoch != "" && epochPositive(b.Epoch):
		sense = -1
	}
	if sense == 0 {
		sense = Compare(a.Version, b.Version)
		if sense == 0 && a.Release != "" && b.Release != "" {
			sense = Compare(a.Release, b.Release)
		}
	}
	return sense
}

func senseAccepts(flags Sense, cmp int) bool {
	switch {
	case flags&SenseLess != 0 && cmp < 0:
		return true
	case flags&SenseEqual != 0 && cmp == 0:
		return true
	case flags&SenseGreater != 0 && cmp > 0:
		return true
	}
	return false
}

// SatisfiedBy reports whether a package with the given EVR meets r.
// Unversioned records match anything. With the serial bit set the
// comparison is against the epoch alone and a package without one never
// matches. The release only takes part when r names one.
func (r Record) SatisfiedBy(have EVR) bool {
	if !r.Versioned() {
		return true
	}
	if r.Flags&SenseSerial != 0 {
		if have.Epoch == "" {
			return false
		}
		return senseAccepts(r.Flags, Compare(have.Epoch, r.Version))
	}
	want := ParseEVR(r.Version)
	if want.Epoch == "" {
		have.Epoch = ""
	}
	if want.Release == "" {
		have.Release = ""
	}
	return senseAccepts(r.Flags, CompareEVR(have, want))
}

// RangesOverlap reports whether two named EVR ranges intersect. An
// unversioned side always overlaps a same-named one.
func RangesOverlap(aName, aEVR string, aFlags Sense, bName, bEVR string, bFlags Sense) bool {
	if aName != bName {
		return false
	}
	if aFlags&SenseMask == 0 || bFlags&SenseMask == 0 {
		return true
	}
	if aEVR == "" || bEVR == "" {
		return true
	}
	sense := CompareEVR(ParseEVR(aEVR), ParseEVR(bEVR))
	switch {
	case sense < 0:
		return aFlags&SenseGreater != 0 || bFlags&SenseLess != 0
	case sense > 0:
		return aFlags&SenseLess != 0 || bFlags&SenseGreater != 0
	}
	return aFlags&bFlags&(SenseEqual|SenseLess|SenseGreater) != 0
}

package regulog

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Timestamp extraction works on named capture groups of the timestamp
// pattern. Groups named _Y, _M, _D, _h, _m, _s carry the timestamp parts; an
// optional single digit suffix (_Y2, _h2, ...) lets one pattern hold several
// alternated formats, only the matching alternation contributes values.
//
//	_Y  year, 4 or 2 digits (2-digit years are 2000-based); falls back to
//	    the source file's modification year when absent
//	_M  month, 2 digits or an English month name (3-letter prefix honored)
//	_D  day  _h hour  _m minute  _s second (second defaults to 0)

var monthNames = map[string]time.Month{
	"JAN": time.January, "FEB": time.February, "MAR": time.March,
	"APR": time.April, "MAY": time.May, "JUN": time.June,
	"JUL": time.July, "AUG": time.August, "SEP": time.September,
	"OCT": time.October, "NOV": time.November, "DEC": time.December,
}

var errNoTimestamp = errors.New("timestamp pattern did not match")

// timestampMatch is the outcome of a successful timestamp extraction.
type timestampMatch struct {
	ts   time.Time
	span [2]int            // byte range of the match within the text
	user map[string]string // non-underscore named groups, extra user fields
}

// extractTimestamp applies the timestamp pattern to text and assembles a
// time.Time from the part groups. sourceTime supplies the year when the
// pattern captures none (common for syslog formats). A pattern that does not
// match, or matches without enough part groups, yields errNoTimestamp: the
// caller treats that as "no timestamp", never as a failure.
func extractTimestamp(re *regexp.Regexp, text string, sourceTime time.Time) (*timestampMatch, error) {
	loc := re.FindStringSubmatchIndex(text)
	if loc == nil {
		return nil, errNoTimestamp
	}

	names := re.SubexpNames()
	parts := make(map[byte]string) // timestamp letter -> captured digits
	user := make(map[string]string)

	for i := 1; i < len(names); i++ {
		name := names[i]
		if name == "" || loc[2*i] < 0 {
			continue
		}
		value := text[loc[2*i]:loc[2*i+1]]
		if value == "" {
			continue
		}
		if letter, ok := timestampPartName(name); ok {
			if _, dup := parts[letter]; !dup {
				parts[letter] = value
			}
			continue
		}
		if !strings.HasPrefix(name, "_") {
			user[name] = value
		}
	}

	// Month, day, hour and minute are the minimum useful resolution.
	if len(parts) < 4 {
		return nil, errNoTimestamp
	}

	month, err := parseMonth(parts['M'])
	if err != nil {
		return nil, errNoTimestamp
	}
	day, err1 := strconv.Atoi(strings.TrimSpace(parts['D']))
	hour, err2 := strconv.Atoi(parts['h'])
	minute, err3 := strconv.Atoi(parts['m'])
	if err1 != nil || err2 != nil || err3 != nil {
		return nil, errNoTimestamp
	}

	year := sourceTime.Year()
	if y, ok := parts['Y']; ok {
		year, err = strconv.Atoi(y)
		if err != nil {
			return nil, errNoTimestamp
		}
		if year < 100 {
			year += 2000
		}
	}
	if year == 0 {
		year = time.Now().Year()
	}

	second := 0
	if s, ok := parts['s']; ok {
		second, err = strconv.Atoi(s)
		if err != nil {
			return nil, errNoTimestamp
		}
	}

	return &timestampMatch{
		ts:   time.Date(year, month, day, hour, minute, second, 0, time.Local),
		span: [2]int{loc[0], loc[1]},
		user: user,
	}, nil
}

// timestampPartName recognizes group names of the form _X or _X<digit> where
// X is one of the timestamp part letters.
func timestampPartName(name string) (byte, bool) {
	if len(name) < 2 || len(name) > 3 || name[0] != '_' {
		return 0, false
	}
	switch name[1] {
	case 'Y', 'M', 'D', 'h', 'm', 's':
	default:
		return 0, false
	}
	if len(name) == 3 && (name[2] < '0' || name[2] > '9') {
		return 0, false
	}
	return name[1], true
}

// parseMonth accepts a numeric month or an English month name (at least the
// three-letter prefix).
func parseMonth(s string) (time.Month, error) {
	if s == "" {
		return 0, errNoTimestamp
	}
	if len(s) <= 2 {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 12 {
			return 0, errNoTimestamp
		}
		return time.Month(n), nil
	}
	if m, ok := monthNames[strings.ToUpper(s[:3])]; ok {
		return m, nil
	}
	return 0, errNoTimestamp
}

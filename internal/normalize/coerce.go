package normalize

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// toFloat coerces a raw cell to float64. Anything unparseable is nil.
func toFloat(v any) any {
	var f float64
	switch x := v.(type) {
	case nil:
		return nil
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case int32:
		f = float64(x)
	case string:
		parsed, ok := parseFloat(x)
		if !ok {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

// parseFloat parses provider numerics: thousands separators and a trailing
// percent sign are tolerated, dashes and blanks mean missing.
func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "%")
	s = strings.ReplaceAll(s, ",", "")
	switch s {
	case "", "-", "--", "—", "null", "None", "nan", "NaN":
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"20060102",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006/1/2",
}

// toDate renders a raw cell as YYYY-MM-DD, or nil when it is not a date.
// Numbers above 1e11 are treated as epoch milliseconds.
func toDate(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case time.Time:
		return x.Format("2006-01-02")
	case float64:
		if x > 1e11 {
			return time.UnixMilli(int64(x)).In(shanghai).Format("2006-01-02")
		}
		return toDate(strconv.FormatFloat(x, 'f', -1, 64))
	case int64:
		return toDate(float64(x))
	case int:
		return toDate(float64(x))
	case string:
		s := strings.TrimSpace(x)
		if s == "" || s == "-" {
			return nil
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.Format("2006-01-02")
			}
		}
		return nil
	default:
		return nil
	}
}

// toText renders a raw cell as a trimmed string, or nil when blank.
func toText(v any) any {
	var s string
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		s = x
	case float64:
		s = strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		s = strconv.Itoa(x)
	case int64:
		s = strconv.FormatInt(x, 10)
	default:
		return nil
	}
	s = strings.ToValidUTF8(strings.TrimSpace(s), "")
	if s == "" || s == "-" {
		return nil
	}
	return s
}

var shanghai = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		return time.FixedZone("CST", 8*3600)
	}
	return loc
}()

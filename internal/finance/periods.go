package finance

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/finsight-ai/finsight/internal/shared"
)

var (
	yearRe    = regexp.MustCompile(`^(\d{4})$`)
	quarterRe = regexp.MustCompile(`^(\d{4})-[Qq]([1-4])$`)
	monthRe   = regexp.MustCompile(`^(\d{4})-(\d{2})$`)
	dayRe     = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)
)

// ResolvePeriod parses a period spec into an inclusive date range.
// Accepted forms: "2024", "2024-Q2", "2024-02", "2024-02-15".
func ResolvePeriod(spec string) (start, end time.Time, err error) {
	switch {
	case yearRe.MatchString(spec):
		year, _ := strconv.Atoi(spec)
		start = time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
		end = time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC)
		return start, end, nil
	case quarterRe.MatchString(spec):
		m := quarterRe.FindStringSubmatch(spec)
		year, _ := strconv.Atoi(m[1])
		quarter, _ := strconv.Atoi(m[2])
		firstMonth := time.Month((quarter-1)*3 + 1)
		start = time.Date(year, firstMonth, 1, 0, 0, 0, 0, time.UTC)
		end = start.AddDate(0, 3, -1)
		return start, end, nil
	case monthRe.MatchString(spec):
		m := monthRe.FindStringSubmatch(spec)
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		if month < 1 || month > 12 {
			return start, end, fmt.Errorf("%w: month out of range in %q", shared.ErrValidation, spec)
		}
		start = time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
		end = start.AddDate(0, 1, -1)
		return start, end, nil
	case dayRe.MatchString(spec):
		day, perr := time.Parse("2006-01-02", spec)
		if perr != nil {
			return start, end, fmt.Errorf("%w: invalid date %q", shared.ErrValidation, spec)
		}
		return day, day, nil
	default:
		return start, end, fmt.Errorf("%w: unrecognised period %q (want YYYY, YYYY-Qn, YYYY-MM or YYYY-MM-DD)", shared.ErrValidation, spec)
	}
}

// MonthKey formats a date as the YYYY-MM bucket used by monthly series.
func MonthKey(t time.Time) string {
	return t.Format("2006-01")
}

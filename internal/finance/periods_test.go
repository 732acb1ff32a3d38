package finance

import (
	"errors"
	"testing"
	"time"

	"github.com/finsight-ai/finsight/internal/shared"
)

func TestResolvePeriod(t *testing.T) {
	cases := []struct {
		spec  string
		start string
		end   string
	}{
		{"2024", "2024-01-01", "2024-12-31"},
		{"2024-Q1", "2024-01-01", "2024-03-31"},
		{"2024-q4", "2024-10-01", "2024-12-31"},
		{"2024-02", "2024-02-01", "2024-02-29"},
		{"2023-02", "2023-02-01", "2023-02-28"},
		{"2024-12", "2024-12-01", "2024-12-31"},
		{"2024-06-15", "2024-06-15", "2024-06-15"},
	}
	for _, c := range cases {
		start, end, err := ResolvePeriod(c.spec)
		if err != nil {
			t.Fatalf("%s: %v", c.spec, err)
		}
		if got := start.Format("2006-01-02"); got != c.start {
			t.Errorf("%s: start %s, want %s", c.spec, got, c.start)
		}
		if got := end.Format("2006-01-02"); got != c.end {
			t.Errorf("%s: end %s, want %s", c.spec, got, c.end)
		}
	}
}

func TestResolvePeriodRejectsMalformed(t *testing.T) {
	for _, spec := range []string{"", "24", "2024-Q5", "2024-13", "2024-00", "march 2024", "2024/03"} {
		if _, _, err := ResolvePeriod(spec); !errors.Is(err, shared.ErrValidation) {
			t.Errorf("%q: expected validation error, got %v", spec, err)
		}
	}
}

func TestMonthKey(t *testing.T) {
	if got := MonthKey(time.Date(2024, time.March, 9, 0, 0, 0, 0, time.UTC)); got != "2024-03" {
		t.Fatalf("month key: %s", got)
	}
}

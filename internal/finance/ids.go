package finance

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// RecordID derives a stable identifier from the record's natural key so
// re-ingesting the same period yields the same row.
func RecordID(source SourceType, start, end time.Time, currency string) string {
	key := fmt.Sprintf("%s|%s|%s|%s", source, start.Format("2006-01-02"), end.Format("2006-01-02"), currency)
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:16])
}

// Slug lowercases a name and collapses non-alphanumeric runs to single
// underscores, for use in derived account ids.
func Slug(name string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastUnderscore = false
		} else if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}

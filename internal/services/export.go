package services

import (
	"strings"
	"time"
)

// ExportHeader is the literal first line of a submissions export.
const ExportHeader = "id,createdAt,data"

// isoMillis matches the millisecond ISO-8601 form respondents' tooling expects.
const isoMillis = "2006-01-02T15:04:05.000Z"

// ExportSubmissionsCSV renders submissions, in the given order, as delimited
// text. Every value is double-quoted with inner quotes doubled; lines are
// joined by "\n" with no trailing newline.
func ExportSubmissionsCSV(subs []*Submission) []byte {
	var b strings.Builder
	b.WriteString(ExportHeader)
	for _, s := range subs {
		b.WriteByte('\n')
		writeQuotedRow(&b, s.ID, FormatTimestamp(s.CreatedAt), ExportValue(s))
	}
	return []byte(b.String())
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(isoMillis)
}

func writeQuotedRow(b *strings.Builder, cols ...string) {
	for i, c := range cols {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(c, `"`, `""`))
		b.WriteByte('"')
	}
}

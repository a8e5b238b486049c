package userstore

import (
	"net/url"
	"strconv"
	"strings"
)

// formatUserLine serializes a record back to the single-line wire format.
// The display name is percent-encoded so it cannot smuggle a field separator.
func formatUserLine(r *UserRecord) string {
	var b strings.Builder
	b.WriteString(r.Username)
	b.WriteByte(':')
	b.WriteString(r.PasswordHash)
	b.WriteByte(':')
	b.WriteString(url.QueryEscape(r.DisplayName))
	b.WriteByte(':')
	b.WriteString(r.Mail)
	b.WriteByte(':')
	b.WriteString(strings.Join(r.Groups, ","))
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(r.Security.BadPasswordCount))
	b.WriteByte(',')
	b.WriteString(strconv.FormatInt(r.Security.PasswordExpiresAt, 10))
	b.WriteByte(',')
	b.WriteString(strconv.FormatInt(r.Security.SessionExpiresAt, 10))
	b.WriteByte(',')
	b.WriteString(r.Security.SessionClientAddress)
	return b.String()
}

func formatLines(lines []fileLine) []byte {
	var b strings.Builder
	for _, l := range lines {
		if l.rec != nil {
			b.WriteString(formatUserLine(l.rec))
		} else {
			b.WriteString(l.raw)
		}
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

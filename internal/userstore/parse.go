package userstore

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
)

// fileLine preserves the on-disk shape of the directory: entry lines carry a
// parsed record, everything else (comments, blanks) is kept verbatim so a
// rewrite does not destroy it.
type fileLine struct {
	raw string
	rec *UserRecord
}

const userLineFields = 6
const securityFields = 4

func readLines(r io.Reader) ([]string, error) {
	s := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	s.Buffer(buf, 1024*1024)
	var lines []string
	for s.Scan() {
		lines = append(lines, s.Text())
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// parseUserLine parses one directory line with the comment suffix already
// stripped. The layout is
//
//	username:passwordHash:displayName:email:groupsCSV:securityCSV
//
// where displayName is percent-encoded and securityCSV holds the four
// security fields in fixed order.
func parseUserLine(line string) (*UserRecord, error) {
	parts := strings.SplitN(line, ":", userLineFields)
	if len(parts) != userLineFields {
		return nil, fmt.Errorf("expected %d colon-separated fields, got %d", userLineFields, len(parts))
	}
	if parts[0] == "" {
		return nil, fmt.Errorf("empty username")
	}

	name := parts[2]
	if decoded, err := url.QueryUnescape(name); err == nil {
		name = decoded
	}

	var groups []string
	for _, g := range strings.Split(parts[4], ",") {
		if g = strings.TrimSpace(g); g != "" {
			groups = append(groups, g)
		}
	}

	sec, err := parseSecurity(parts[5])
	if err != nil {
		return nil, err
	}

	return &UserRecord{
		Username:     parts[0],
		PasswordHash: parts[1],
		DisplayName:  name,
		Mail:         parts[3],
		Groups:       groups,
		Security:     sec,
	}, nil
}

func parseSecurity(csv string) (Security, error) {
	parts := strings.SplitN(csv, ",", securityFields)
	if len(parts) != securityFields {
		return Security{}, fmt.Errorf("expected %d security fields, got %d", securityFields, len(parts))
	}
	bad, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return Security{}, fmt.Errorf("bad password count %q: %w", parts[0], err)
	}
	if bad < 0 {
		bad = 0
	}
	passExpire, err := parseEpoch(parts[1])
	if err != nil {
		return Security{}, fmt.Errorf("password expiry %q: %w", parts[1], err)
	}
	sessExpire, err := parseEpoch(parts[2])
	if err != nil {
		return Security{}, fmt.Errorf("session expiry %q: %w", parts[2], err)
	}
	return Security{
		BadPasswordCount:     bad,
		PasswordExpiresAt:    passExpire,
		SessionExpiresAt:     sessExpire,
		SessionClientAddress: strings.TrimSpace(parts[3]),
	}, nil
}

func parseEpoch(field string) (int64, error) {
	field = strings.TrimSpace(field)
	if field == "" {
		return 0, nil
	}
	return strconv.ParseInt(field, 10, 64)
}

package userstore

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
)

// MaxPatternLength bounds filter expressions to keep pathological regular
// expressions out of the match loop.
const MaxPatternLength = 128

// Filterable field names accepted by CompileFilter.
const (
	FieldUser          = "user"
	FieldName          = "name"
	FieldMail          = "mail"
	FieldGroups        = "grps"
	FieldBadPassCount  = "badpass"
	FieldPassExpiresAt = "passexpire"
	FieldSessExpiresAt = "sessexpire"
	FieldClientAddress = "clientaddr"
)

type fieldMatcher struct {
	field string
	re    *regexp.Regexp
}

// Filter is a conjunction of per-field matchers. Patterns are compiled as
// case-insensitive regular expressions, not literal substrings.
type Filter []fieldMatcher

// CompileFilter builds a Filter from field-name to pattern pairs. Unknown
// fields, invalid expressions, and patterns over MaxPatternLength are errors.
func CompileFilter(filter map[string]string) (Filter, error) {
	if len(filter) == 0 {
		return nil, nil
	}
	fields := make([]string, 0, len(filter))
	for f := range filter {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	out := make(Filter, 0, len(fields))
	for _, field := range fields {
		switch field {
		case FieldUser, FieldName, FieldMail, FieldGroups,
			FieldBadPassCount, FieldPassExpiresAt, FieldSessExpiresAt, FieldClientAddress:
		default:
			return nil, fmt.Errorf("unknown filter field %q", field)
		}
		pattern := filter[field]
		if len(pattern) > MaxPatternLength {
			return nil, fmt.Errorf("filter pattern for %q exceeds %d characters", field, MaxPatternLength)
		}
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, fmt.Errorf("filter pattern for %q: %w", field, err)
		}
		out = append(out, fieldMatcher{field: field, re: re})
	}
	return out, nil
}

// Match reports whether every matcher accepts the record. For the groups
// field the predicate is "at least one group entry matches".
func (f Filter) Match(r *UserRecord) bool {
	for _, m := range f {
		switch m.field {
		case FieldUser:
			if !m.re.MatchString(r.Username) {
				return false
			}
		case FieldName:
			if !m.re.MatchString(r.DisplayName) {
				return false
			}
		case FieldMail:
			if !m.re.MatchString(r.Mail) {
				return false
			}
		case FieldGroups:
			matched := false
			for _, g := range r.Groups {
				if m.re.MatchString(g) {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
		case FieldBadPassCount:
			if !m.re.MatchString(strconv.Itoa(r.Security.BadPasswordCount)) {
				return false
			}
		case FieldPassExpiresAt:
			if !m.re.MatchString(strconv.FormatInt(r.Security.PasswordExpiresAt, 10)) {
				return false
			}
		case FieldSessExpiresAt:
			if !m.re.MatchString(strconv.FormatInt(r.Security.SessionExpiresAt, 10)) {
				return false
			}
		case FieldClientAddress:
			if !m.re.MatchString(r.Security.SessionClientAddress) {
				return false
			}
		}
	}
	return true
}

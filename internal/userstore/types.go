package userstore

// Security holds the per-user policy counters and timestamps, stored as the
// sixth field of a user line in fixed comma-separated order.
type Security struct {
	// BadPasswordCount is the number of consecutive failed authentications.
	BadPasswordCount int
	// PasswordExpiresAt is an epoch-seconds timestamp. Zero is a sentinel
	// meaning the record predates the expiry policy and must be migrated on
	// the next successful login; it is distinct from an expired timestamp.
	PasswordExpiresAt int64
	// SessionExpiresAt is the epoch-seconds end of the current session.
	SessionExpiresAt int64
	// SessionClientAddress is the address of the last authenticated caller,
	// empty when logged out.
	SessionClientAddress string
}

type UserRecord struct {
	Username     string
	PasswordHash string
	DisplayName  string
	Mail         string
	Groups       []string
	Security     Security
}

// Clone returns a deep copy so callers can mutate freely before persisting.
func (r *UserRecord) Clone() *UserRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.Groups != nil {
		c.Groups = make([]string, len(r.Groups))
		copy(c.Groups, r.Groups)
	}
	return &c
}

// InGroup reports whether the record lists the exact group name.
func (r *UserRecord) InGroup(group string) bool {
	for _, g := range r.Groups {
		if g == group {
			return true
		}
	}
	return false
}

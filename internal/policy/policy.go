// Package policy implements the account security state machine: lockout after
// repeated bad passwords, password and session expiry, and the password reuse
// rules. The engine only decides and mutates in-memory records; persisting the
// result is the caller's job.
package policy

import (
	"errors"
	"time"
)

// ErrPasswordReuse rejects a password change whose hash was already used
// inside the reuse window.
var ErrPasswordReuse = errors.New("password reuse too soon")

// Policy carries the tunable limits, already converted to durations.
type Policy struct {
	// BadPassLimit is the number of consecutive failed authentications
	// tolerated before EvaluateSession forces a logout.
	BadPassLimit int
	// SessionTimeout is the inactivity window; every allowed access slides
	// the session end forward by this much.
	SessionTimeout time.Duration
	// PasswordExpire is the lifetime of a password from its last change.
	PasswordExpire time.Duration
	// PasswordReuse is the window during which an old password hash may not
	// be set again.
	PasswordReuse time.Duration
}

// Hasher is the external password primitive. Verify must tolerate hashes it
// did not produce itself.
type Hasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, hash string) bool
}

// Clock supplies the current time so the expiry arithmetic is testable.
type Clock interface {
	Now() time.Time
}

// SystemClock is the Clock used outside of tests.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Notifier receives user-facing policy messages (lockout, expiry warnings).
type Notifier interface {
	Warn(message string)
}

// ReuseStore is the slice of the password history store the engine needs.
type ReuseStore interface {
	CheckReuse(username, candidateHash string, now time.Time, window time.Duration) (bool, error)
	RecordPassword(username, hash string, now time.Time) error
}

// SessionAction is the outcome of a session evaluation.
type SessionAction int

const (
	// ActionAllow renews the session and lets the access proceed.
	ActionAllow SessionAction = iota
	// ActionForceLogout denies access because the bad-password limit was
	// exceeded.
	ActionForceLogout
	// ActionRequirePasswordChange denies further action until the expired
	// password is replaced.
	ActionRequirePasswordChange
	// ActionSessionExpired requires a fresh login.
	ActionSessionExpired
)

func (a SessionAction) String() string {
	switch a {
	case ActionAllow:
		return "allow"
	case ActionForceLogout:
		return "force-logout"
	case ActionRequirePasswordChange:
		return "require-password-change"
	case ActionSessionExpired:
		return "session-expired"
	default:
		return "unknown"
	}
}

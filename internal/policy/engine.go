package policy

import (
	"fmt"

	"github.com/akehrer/dokuwiki-plainauthplus/internal/userstore"
)

// Engine evaluates authentication attempts and session state against a
// Policy. Record mutations happen on the caller's copy; nothing is persisted
// here.
type Engine struct {
	policy  Policy
	hasher  Hasher
	history ReuseStore
	clock   Clock
	notify  Notifier
}

func NewEngine(p Policy, hasher Hasher, history ReuseStore, clock Clock, notify Notifier) *Engine {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Engine{policy: p, hasher: hasher, history: history, clock: clock, notify: notify}
}

func (e *Engine) warn(msg string) {
	if e.notify != nil {
		e.notify.Warn(msg)
	}
}

// Authenticate verifies the supplied password and applies the resulting state
// transition to rec. On success the bad-password count resets, the session is
// renewed and the caller address recorded; a record still carrying the legacy
// zero password expiry is migrated by re-issuing the just-verified password
// under the expiry policy. On failure only the bad-password count changes.
//
// The returned error means the transition could not be completed (hashing or
// history I/O); the caller must not persist rec in that case.
func (e *Engine) Authenticate(rec *userstore.UserRecord, supplied, clientAddr string) (bool, error) {
	if !e.hasher.Verify(supplied, rec.PasswordHash) {
		rec.Security.BadPasswordCount++
		return false, nil
	}

	now := e.clock.Now()
	rec.Security.BadPasswordCount = 0
	rec.Security.SessionExpiresAt = now.Add(e.policy.SessionTimeout).Unix()
	rec.Security.SessionClientAddress = clientAddr

	if rec.Security.PasswordExpiresAt == 0 {
		// One-time migration for accounts that predate the expiry policy:
		// re-hash the password the user just proved knowledge of, start its
		// expiry clock, and seed the history log. The reuse check is skipped
		// since this is by definition the password already in use.
		hash, err := e.hasher.Hash(supplied)
		if err != nil {
			return false, fmt.Errorf("migrate legacy password for %s: %w", rec.Username, err)
		}
		if err := e.history.RecordPassword(rec.Username, hash, now); err != nil {
			return false, err
		}
		rec.PasswordHash = hash
		rec.Security.PasswordExpiresAt = now.Add(e.policy.PasswordExpire).Unix()
	}
	return true, nil
}

// EvaluateSession is run on every authenticated access, not only at login.
// Deny outcomes leave rec untouched; an allow renews the session window and
// clears the bad-password count (the sliding renewal doubles as forgiveness
// for stale failed attempts).
func (e *Engine) EvaluateSession(rec *userstore.UserRecord) SessionAction {
	now := e.clock.Now()
	switch {
	case rec.Security.BadPasswordCount > e.policy.BadPassLimit:
		e.warn("Bad password limit exceeded")
		return ActionForceLogout
	case rec.Security.PasswordExpiresAt < now.Unix():
		e.warn(fmt.Sprintf("The password for %s has expired. Please create a new one.", rec.Username))
		return ActionRequirePasswordChange
	case now.Unix() >= rec.Security.SessionExpiresAt:
		e.warn("Your session has expired. Please log in.")
		return ActionSessionExpired
	default:
		rec.Security.SessionExpiresAt = now.Add(e.policy.SessionTimeout).Unix()
		rec.Security.BadPasswordCount = 0
		return ActionAllow
	}
}

// ChangePassword hashes newPlaintext and applies it to rec, enforcing the
// reuse window. The history append happens before the record mutates: if the
// log cannot be written the change fails with no state applied, otherwise a
// crash could leave a password unguarded by the reuse check.
func (e *Engine) ChangePassword(rec *userstore.UserRecord, newPlaintext string, forceImmediateExpiry bool) error {
	now := e.clock.Now()
	hash, err := e.hasher.Hash(newPlaintext)
	if err != nil {
		return fmt.Errorf("hash new password for %s: %w", rec.Username, err)
	}

	allowed, err := e.history.CheckReuse(rec.Username, hash, now, e.policy.PasswordReuse)
	if err != nil {
		return err
	}
	if !allowed {
		e.warn("Password reuse too soon!")
		return fmt.Errorf("%w: %s", ErrPasswordReuse, rec.Username)
	}

	if err := e.history.RecordPassword(rec.Username, hash, now); err != nil {
		return err
	}

	rec.PasswordHash = hash
	rec.Security.BadPasswordCount = 0
	if forceImmediateExpiry {
		rec.Security.PasswordExpiresAt = now.Unix()
	} else {
		rec.Security.PasswordExpiresAt = now.Add(e.policy.PasswordExpire).Unix()
	}
	return nil
}

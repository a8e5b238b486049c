package policy

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/akehrer/dokuwiki-plainauthplus/internal/userstore"
)

var testNow = time.Unix(1700000000, 0)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

// fakeHasher produces stable hashes so reuse checks are deterministic.
type fakeHasher struct{ hashErr error }

func (h *fakeHasher) Hash(plaintext string) (string, error) {
	if h.hashErr != nil {
		return "", h.hashErr
	}
	return "hashed:" + plaintext, nil
}

func (h *fakeHasher) Verify(plaintext, hash string) bool {
	return hash == "hashed:"+plaintext
}

type fakeHistory struct {
	allowed   bool
	checkErr  error
	recordErr error
	recorded  []string
}

func (f *fakeHistory) CheckReuse(username, candidateHash string, now time.Time, window time.Duration) (bool, error) {
	return f.allowed, f.checkErr
}

func (f *fakeHistory) RecordPassword(username, hash string, now time.Time) error {
	if f.recordErr != nil {
		return f.recordErr
	}
	f.recorded = append(f.recorded, hash)
	return nil
}

type capturingNotifier struct{ messages []string }

func (n *capturingNotifier) Warn(message string) { n.messages = append(n.messages, message) }

func testPolicy() Policy {
	return Policy{
		BadPassLimit:   3,
		SessionTimeout: 30 * time.Minute,
		PasswordExpire: 90 * 24 * time.Hour,
		PasswordReuse:  365 * 24 * time.Hour,
	}
}

func testEngine(hist *fakeHistory) (*Engine, *capturingNotifier) {
	n := &capturingNotifier{}
	return NewEngine(testPolicy(), &fakeHasher{}, hist, &fakeClock{now: testNow}, n), n
}

func testRecord() *userstore.UserRecord {
	return &userstore.UserRecord{
		Username:     "alice",
		PasswordHash: "hashed:secret",
		Groups:       []string{"user"},
		Security: userstore.Security{
			PasswordExpiresAt: testNow.Add(time.Hour).Unix(),
			SessionExpiresAt:  testNow.Add(time.Minute).Unix(),
		},
	}
}

func TestAuthenticateSuccess(t *testing.T) {
	e, _ := testEngine(&fakeHistory{allowed: true})
	rec := testRecord()
	rec.Security.BadPasswordCount = 2

	ok, err := e.Authenticate(rec, "secret", "192.0.2.1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 0, rec.Security.BadPasswordCount)
	require.Equal(t, testNow.Add(30*time.Minute).Unix(), rec.Security.SessionExpiresAt)
	require.Equal(t, "192.0.2.1", rec.Security.SessionClientAddress)
	require.Equal(t, "hashed:secret", rec.PasswordHash)
}

func TestAuthenticateFailureIncrementsCounter(t *testing.T) {
	e, _ := testEngine(&fakeHistory{allowed: true})
	rec := testRecord()

	ok, err := e.Authenticate(rec, "wrong", "")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 1, rec.Security.BadPasswordCount)

	ok, err = e.Authenticate(rec, "wrong", "")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 2, rec.Security.BadPasswordCount)
}

func TestAuthenticateLegacyMigration(t *testing.T) {
	hist := &fakeHistory{allowed: true}
	e, _ := testEngine(hist)
	rec := testRecord()
	rec.Security.PasswordExpiresAt = 0

	ok, err := e.Authenticate(rec, "secret", "")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, testNow.Add(90*24*time.Hour).Unix(), rec.Security.PasswordExpiresAt)
	require.Equal(t, []string{"hashed:secret"}, hist.recorded)
}

func TestAuthenticateLegacyMigrationHistoryFailure(t *testing.T) {
	boom := errors.New("disk full")
	e, _ := testEngine(&fakeHistory{allowed: true, recordErr: boom})
	rec := testRecord()
	rec.Security.PasswordExpiresAt = 0

	_, err := e.Authenticate(rec, "secret", "")
	require.ErrorIs(t, err, boom)
}

func TestEvaluateSessionAllowRenewsAndForgives(t *testing.T) {
	e, n := testEngine(&fakeHistory{allowed: true})
	rec := testRecord()
	rec.Security.BadPasswordCount = 3 // at the limit, not over

	action := e.EvaluateSession(rec)
	require.Equal(t, ActionAllow, action)
	require.Equal(t, 0, rec.Security.BadPasswordCount)
	require.Equal(t, testNow.Add(30*time.Minute).Unix(), rec.Security.SessionExpiresAt)
	require.Empty(t, n.messages)
}

func TestEvaluateSessionBadPassLimit(t *testing.T) {
	e, n := testEngine(&fakeHistory{allowed: true})
	rec := testRecord()
	rec.Security.BadPasswordCount = 4

	action := e.EvaluateSession(rec)
	require.Equal(t, ActionForceLogout, action)
	require.Equal(t, 4, rec.Security.BadPasswordCount)
	require.Contains(t, n.messages, "Bad password limit exceeded")
}

func TestEvaluateSessionPasswordExpired(t *testing.T) {
	e, n := testEngine(&fakeHistory{allowed: true})
	rec := testRecord()
	rec.Security.PasswordExpiresAt = testNow.Add(-time.Second).Unix()

	action := e.EvaluateSession(rec)
	require.Equal(t, ActionRequirePasswordChange, action)
	require.Len(t, n.messages, 1)
	require.Contains(t, n.messages[0], "alice")
}

func TestEvaluateSessionExpired(t *testing.T) {
	e, _ := testEngine(&fakeHistory{allowed: true})
	rec := testRecord()
	rec.Security.SessionExpiresAt = testNow.Unix()

	require.Equal(t, ActionSessionExpired, e.EvaluateSession(rec))
}

func TestEvaluateSessionLimitBeatsExpiry(t *testing.T) {
	e, _ := testEngine(&fakeHistory{allowed: true})
	rec := testRecord()
	rec.Security.BadPasswordCount = 10
	rec.Security.PasswordExpiresAt = testNow.Add(-time.Hour).Unix()
	rec.Security.SessionExpiresAt = testNow.Add(-time.Hour).Unix()

	require.Equal(t, ActionForceLogout, e.EvaluateSession(rec))
}

func TestChangePassword(t *testing.T) {
	hist := &fakeHistory{allowed: true}
	e, _ := testEngine(hist)
	rec := testRecord()
	rec.Security.BadPasswordCount = 2

	require.NoError(t, e.ChangePassword(rec, "fresh", false))
	require.Equal(t, "hashed:fresh", rec.PasswordHash)
	require.Equal(t, 0, rec.Security.BadPasswordCount)
	require.Equal(t, testNow.Add(90*24*time.Hour).Unix(), rec.Security.PasswordExpiresAt)
	require.Equal(t, []string{"hashed:fresh"}, hist.recorded)
}

func TestChangePasswordForceImmediateExpiry(t *testing.T) {
	e, _ := testEngine(&fakeHistory{allowed: true})
	rec := testRecord()

	require.NoError(t, e.ChangePassword(rec, "fresh", true))
	require.Equal(t, testNow.Unix(), rec.Security.PasswordExpiresAt)
}

func TestChangePasswordReuseRejected(t *testing.T) {
	hist := &fakeHistory{allowed: false}
	e, n := testEngine(hist)
	rec := testRecord()
	oldHash := rec.PasswordHash

	err := e.ChangePassword(rec, "recycled", false)
	require.ErrorIs(t, err, ErrPasswordReuse)
	require.Equal(t, oldHash, rec.PasswordHash)
	require.Empty(t, hist.recorded)
	require.Contains(t, n.messages, "Password reuse too soon!")
}

func TestChangePasswordHistoryFailureLeavesRecord(t *testing.T) {
	boom := errors.New("disk full")
	e, _ := testEngine(&fakeHistory{allowed: true, recordErr: boom})
	rec := testRecord()
	oldHash := rec.PasswordHash

	err := e.ChangePassword(rec, "fresh", false)
	require.ErrorIs(t, err, boom)
	require.Equal(t, oldHash, rec.PasswordHash)
}

func TestSessionActionString(t *testing.T) {
	require.Equal(t, "allow", ActionAllow.String())
	require.Equal(t, "force-logout", ActionForceLogout.String())
	require.Equal(t, "require-password-change", ActionRequirePasswordChange.String())
	require.Equal(t, "session-expired", ActionSessionExpired.String())
}

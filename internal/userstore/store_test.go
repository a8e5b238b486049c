package userstore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeUserFile(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "users.auth.php")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0600))
	return path
}

func readUserFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, s.Load())
	n, err := s.GetUserCount(nil)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestLoadParsesRecords(t *testing.T) {
	path := writeUserFile(t,
		"# user directory",
		"",
		"alice:$6$salt$hash:Alice%20Liddell:alice@example.com:admin,user:0,1700000000,1700001800,192.0.2.1",
		"bob:$6$salt$hash2:Bob:bob@example.com:user:2,1700000000,0,",
	)
	s := New(path)

	alice, err := s.GetUser("alice")
	require.NoError(t, err)
	require.Equal(t, "Alice Liddell", alice.DisplayName)
	require.Equal(t, "alice@example.com", alice.Mail)
	require.Equal(t, []string{"admin", "user"}, alice.Groups)
	require.Equal(t, 0, alice.Security.BadPasswordCount)
	require.Equal(t, int64(1700000000), alice.Security.PasswordExpiresAt)
	require.Equal(t, int64(1700001800), alice.Security.SessionExpiresAt)
	require.Equal(t, "192.0.2.1", alice.Security.SessionClientAddress)
	require.True(t, alice.InGroup("admin"))
	require.False(t, alice.InGroup("root"))

	bob, err := s.GetUser("bob")
	require.NoError(t, err)
	require.Equal(t, 2, bob.Security.BadPasswordCount)
	require.Empty(t, bob.Security.SessionClientAddress)

	_, err = s.GetUser("carol")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLoadSkipsMalformedLinesButKeepsThem(t *testing.T) {
	path := writeUserFile(t,
		"not a valid line",
		"alice:h:Alice:a@example.com:user:0,1,2,",
	)
	s := New(path)
	require.NoError(t, s.Load())

	n, err := s.GetUserCount(nil)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// The malformed line must survive a rewrite.
	rec, err := s.GetUser("alice")
	require.NoError(t, err)
	rec.Mail = "new@example.com"
	require.NoError(t, s.Replace("alice", rec))
	require.Contains(t, readUserFile(t, path), "not a valid line")
}

func TestLoadDuplicateUsernameLastWins(t *testing.T) {
	path := writeUserFile(t,
		"alice:old:Old:old@example.com:user:0,1,2,",
		"alice:new:New:new@example.com:user:0,1,2,",
	)
	s := New(path)

	rec, err := s.GetUser("alice")
	require.NoError(t, err)
	require.Equal(t, "new", rec.PasswordHash)

	n, err := s.GetUserCount(nil)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestCreateUserAppendsAndRejectsDuplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.auth.php")
	s := New(path)

	rec := &UserRecord{
		Username:     "alice",
		PasswordHash: "$6$x$y",
		DisplayName:  "Alice Liddell",
		Mail:         "alice@example.com",
		Groups:       []string{"user"},
		Security:     Security{PasswordExpiresAt: 100, SessionExpiresAt: 200},
	}
	require.NoError(t, s.CreateUser(rec))
	require.ErrorIs(t, s.CreateUser(rec), ErrExists)

	content := readUserFile(t, path)
	require.Contains(t, content, "alice:$6$x$y:Alice+Liddell:alice@example.com:user:0,100,200,")

	// A fresh store sees the same record.
	fresh := New(path)
	got, err := fresh.GetUser("alice")
	require.NoError(t, err)
	require.Equal(t, "Alice Liddell", got.DisplayName)
}

func TestGetUserReturnsCopy(t *testing.T) {
	path := writeUserFile(t, "alice:h:Alice:a@example.com:user:0,1,2,")
	s := New(path)

	rec, err := s.GetUser("alice")
	require.NoError(t, err)
	rec.Mail = "tampered@example.com"
	rec.Groups[0] = "tampered"

	again, err := s.GetUser("alice")
	require.NoError(t, err)
	require.Equal(t, "a@example.com", again.Mail)
	require.Equal(t, []string{"user"}, again.Groups)
}

func TestReplaceRewritesInPlace(t *testing.T) {
	path := writeUserFile(t,
		"# header comment",
		"alice:h:Alice:a@example.com:user:0,1,2,",
		"bob:h2:Bob:b@example.com:user:0,1,2,",
	)
	s := New(path)

	rec, err := s.GetUser("alice")
	require.NoError(t, err)
	rec.Security.BadPasswordCount = 3
	require.NoError(t, s.Replace("alice", rec))

	content := readUserFile(t, path)
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	require.Len(t, lines, 3)
	require.Equal(t, "# header comment", lines[0])
	require.True(t, strings.HasPrefix(lines[1], "alice:"))
	require.Contains(t, lines[1], ":3,1,2,")
	require.True(t, strings.HasPrefix(lines[2], "bob:"))
}

func TestReplaceRename(t *testing.T) {
	path := writeUserFile(t,
		"alice:h:Alice:a@example.com:user:0,1,2,",
		"bob:h2:Bob:b@example.com:user:0,1,2,",
	)
	s := New(path)

	rec, err := s.GetUser("alice")
	require.NoError(t, err)
	rec.Username = "bob"
	require.ErrorIs(t, s.Replace("alice", rec), ErrExists)

	rec.Username = "carol"
	require.NoError(t, s.Replace("alice", rec))

	_, err = s.GetUser("alice")
	require.ErrorIs(t, err, ErrNotFound)
	got, err := s.GetUser("carol")
	require.NoError(t, err)
	require.Equal(t, "Alice", got.DisplayName)

	require.ErrorIs(t, s.Replace("alice", rec), ErrNotFound)
}

func TestDeleteUsers(t *testing.T) {
	path := writeUserFile(t,
		"# keep me",
		"alice:h:Alice:a@example.com:user:0,1,2,",
		"bob:h2:Bob:b@example.com:user:0,1,2,",
		"carol:h3:Carol:c@example.com:user:0,1,2,",
	)
	s := New(path)

	n, err := s.DeleteUsers([]string{"alice", "carol", "nosuch"})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	_, err = s.GetUser("alice")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetUser("carol")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetUser("bob")
	require.NoError(t, err)

	content := readUserFile(t, path)
	require.Contains(t, content, "# keep me")
	require.NotContains(t, content, "alice:")
	require.NotContains(t, content, "carol:")
}

func TestDeleteUsersNoneMatching(t *testing.T) {
	path := writeUserFile(t, "alice:h:Alice:a@example.com:user:0,1,2,")
	s := New(path)
	before := readUserFile(t, path)

	n, err := s.DeleteUsers([]string{"nosuch", "other"})
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.Equal(t, before, readUserFile(t, path))
}

func TestDeleteUsersRegexMetaInUsername(t *testing.T) {
	path := writeUserFile(t,
		"a.c:h:Dot:d@example.com:user:0,1,2,",
		"abc:h2:Abc:a@example.com:user:0,1,2,",
	)
	s := New(path)

	// "a.c" must not delete "abc".
	n, err := s.DeleteUsers([]string{"a.c"})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	_, err = s.GetUser("abc")
	require.NoError(t, err)
}

func TestRetrieveUsersSortedAndPaginated(t *testing.T) {
	path := writeUserFile(t,
		"carol:h:Carol:c@example.com:user:0,1,2,",
		"alice:h:Alice:a@example.com:admin:0,1,2,",
		"bob:h:Bob:b@example.com:user:0,1,2,",
		"dave:h:Dave:d@example.com:user:0,1,2,",
	)
	s := New(path)

	all, err := s.RetrieveUsers(0, 0, nil)
	require.NoError(t, err)
	names := make([]string, len(all))
	for i, r := range all {
		names[i] = r.Username
	}
	require.Equal(t, []string{"alice", "bob", "carol", "dave"}, names)

	page, err := s.RetrieveUsers(1, 2, nil)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, "bob", page[0].Username)
	require.Equal(t, "carol", page[1].Username)

	past, err := s.RetrieveUsers(10, 0, nil)
	require.NoError(t, err)
	require.Empty(t, past)
}

func TestRetrieveUsersFiltered(t *testing.T) {
	path := writeUserFile(t,
		"alice:h:Alice:a@example.com:admin,user:0,1,2,",
		"bob:h:Bob:b@example.com:user:0,1,2,",
		"carol:h:Carol:c@other.org:admin:0,1,2,",
	)
	s := New(path)

	admins, err := s.RetrieveUsers(0, 0, map[string]string{"grps": "^admin$"})
	require.NoError(t, err)
	require.Len(t, admins, 2)
	require.Equal(t, "alice", admins[0].Username)
	require.Equal(t, "carol", admins[1].Username)

	n, err := s.GetUserCount(map[string]string{"mail": "@example\\.com$"})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	_, err = s.RetrieveUsers(0, 0, map[string]string{"nosuchfield": "x"})
	require.Error(t, err)
}

func TestWritable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "users.auth.php")

	// Missing file in a writable directory is fine.
	require.True(t, New(path).Writable())

	require.NoError(t, os.WriteFile(path, nil, 0600))
	require.True(t, New(path).Writable())

	require.NoError(t, os.Chmod(path, 0400))
	if os.Getuid() == 0 {
		t.Skip("file modes are not enforced for root")
	}
	require.False(t, New(path).Writable())
}

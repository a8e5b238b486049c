// Package history keeps one append-only log of prior password hashes per
// user, used to block reuse of a password inside the configured window.
// Entries outside the window stay in the log for audit; they are simply
// ignored by the reuse check.
package history

import (
	"bytes"
	"crypto/subtle"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/akehrer/dokuwiki-plainauthplus/internal/logger"
	"github.com/akehrer/dokuwiki-plainauthplus/internal/storefs"
)

const fileMode = os.FileMode(0600)

// Entry is one recorded password change: when it happened and the hash that
// was set. Entries are never mutated or deleted.
type Entry struct {
	Timestamp int64
	Hash      string
}

// Store reads and appends the per-user history logs under dir, named
// <username>.auth with one "timestampEpoch:hash" line per change.
type Store struct {
	dir string
}

func New(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) logPath(username string) string {
	return filepath.Join(s.dir, username+".auth")
}

// Entries returns the full log for username in append order. A missing log
// is an empty history, not an error.
func (s *Store) Entries(username string) ([]Entry, error) {
	b, err := storefs.ReadFile(s.logPath(username))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read password history for %s: %w", username, err)
	}

	var out []Entry
	for _, line := range strings.Split(string(bytes.TrimRight(b, "\n")), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		ts, hash, ok := strings.Cut(line, ":")
		if !ok {
			logger.Warn("skipping malformed history line for %s", username)
			continue
		}
		when, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			logger.Warn("skipping history line with bad timestamp for %s: %v", username, err)
			continue
		}
		out = append(out, Entry{Timestamp: when, Hash: hash})
	}
	return out, nil
}

// CheckReuse reports whether candidateHash may be used as a new password at
// time now: true means allowed. Any entry inside the reuse window whose hash
// matches the candidate makes it a reuse. Comparison is constant-time.
func (s *Store) CheckReuse(username, candidateHash string, now time.Time, window time.Duration) (bool, error) {
	entries, err := s.Entries(username)
	if err != nil {
		return false, err
	}
	cutoff := now.Unix() - int64(window/time.Second)
	for _, e := range entries {
		if e.Timestamp < cutoff {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(e.Hash), []byte(candidateHash)) == 1 {
			return false, nil
		}
	}
	return true, nil
}

// RecordPassword appends a timestamp:hash line to the user's log. A failed
// append must be treated by the caller as a failed password change: the
// corresponding user record update must not be committed, or the reuse
// guarantee can be silently bypassed.
func (s *Store) RecordPassword(username, hash string, now time.Time) error {
	if err := storefs.EnsureDir(s.dir, 0700); err != nil {
		return fmt.Errorf("create history dir %s: %w", s.dir, err)
	}
	line := strconv.FormatInt(now.Unix(), 10) + ":" + hash + "\n"
	if err := storefs.AppendLine(s.logPath(username), []byte(line), fileMode); err != nil {
		return fmt.Errorf("append password history for %s: %w", username, err)
	}
	return nil
}

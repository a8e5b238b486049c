// Package userstore implements the single-file user directory: one line per
// user, parsed into memory on first access and kept authoritative for the
// lifetime of the process. Rewrites go through an atomic temp-file rename so
// a record is never observably half-deleted.
package userstore

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/akehrer/dokuwiki-plainauthplus/internal/logger"
	"github.com/akehrer/dokuwiki-plainauthplus/internal/storefs"
)

var (
	ErrNotFound = errors.New("user not found")
	ErrExists   = errors.New("user already exists")
)

const fileMode = os.FileMode(0600)

// Store is the in-memory view of the user directory file. The file is loaded
// lazily on first access and never re-read automatically; use Reload to pick
// up external changes.
type Store struct {
	mu     sync.Mutex
	path   string
	loaded bool
	lines  []fileLine
	users  map[string]*UserRecord
}

func New(path string) *Store {
	return &Store{path: path}
}

// Load parses the directory file. A missing file yields an empty store.
// Malformed lines are skipped with a warning instead of aborting the load;
// they are preserved verbatim so a later rewrite does not drop them.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

// Reload discards the in-memory state and re-reads the file.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = false
	return s.loadLocked()
}

func (s *Store) loadLocked() error {
	if s.loaded {
		return nil
	}
	s.lines = nil
	s.users = make(map[string]*UserRecord)

	b, err := storefs.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.loaded = true
			return nil
		}
		return fmt.Errorf("read user file %s: %w", s.path, err)
	}

	lines, err := readLines(bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("read user file %s: %w", s.path, err)
	}
	for _, line := range lines {
		content := line
		if i := strings.IndexByte(content, '#'); i >= 0 {
			content = content[:i]
		}
		if strings.TrimSpace(content) == "" {
			s.lines = append(s.lines, fileLine{raw: line})
			continue
		}
		rec, err := parseUserLine(strings.TrimSpace(content))
		if err != nil {
			logger.Warn("skipping malformed line in %s: %v", s.path, err)
			s.lines = append(s.lines, fileLine{raw: line})
			continue
		}
		if _, dup := s.users[rec.Username]; dup {
			// Last occurrence wins, matching a sequential append log.
			logger.Warn("duplicate user %q in %s, keeping the later entry", rec.Username, s.path)
			s.dropLineLocked(rec.Username)
		}
		s.users[rec.Username] = rec
		s.lines = append(s.lines, fileLine{rec: rec})
	}
	s.loaded = true
	return nil
}

func (s *Store) dropLineLocked(username string) {
	for i := range s.lines {
		if s.lines[i].rec != nil && s.lines[i].rec.Username == username {
			s.lines = append(s.lines[:i], s.lines[i+1:]...)
			return
		}
	}
}

// GetUser returns a copy of the record or ErrNotFound.
func (s *Store) GetUser(username string) (*UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	rec, ok := s.users[username]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// CreateUser appends one serialized line to the file and inserts the record
// into memory. The caller is responsible for initializing the security
// fields; the store only rejects duplicates and persists.
func (s *Store) CreateUser(rec *UserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return err
	}
	if _, ok := s.users[rec.Username]; ok {
		return fmt.Errorf("%w: %s", ErrExists, rec.Username)
	}
	stored := rec.Clone()
	line := formatUserLine(stored) + "\n"
	if err := storefs.AppendLine(s.path, []byte(line), fileMode); err != nil {
		return fmt.Errorf("append to user file %s: %w", s.path, err)
	}
	s.users[stored.Username] = stored
	s.lines = append(s.lines, fileLine{rec: stored})
	return nil
}

// Replace swaps the record stored under username for newRec, which may carry
// a different username (rename). The whole file is rewritten atomically; on
// failure neither memory nor disk changes.
func (s *Store) Replace(username string, newRec *UserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return err
	}
	old, ok := s.users[username]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, username)
	}
	if newRec.Username != username {
		if _, taken := s.users[newRec.Username]; taken {
			return fmt.Errorf("%w: %s", ErrExists, newRec.Username)
		}
	}

	stored := newRec.Clone()
	newLines := make([]fileLine, len(s.lines))
	copy(newLines, s.lines)
	for i := range newLines {
		if newLines[i].rec == old {
			newLines[i] = fileLine{rec: stored}
		}
	}
	if err := storefs.WriteFileAtomic(s.path, formatLines(newLines), fileMode); err != nil {
		return fmt.Errorf("rewrite user file %s: %w", s.path, err)
	}
	delete(s.users, username)
	s.users[stored.Username] = stored
	s.lines = newLines
	return nil
}

// DeleteUsers removes the named users in one pass using a single compiled
// alternation pattern and returns the number actually removed. If the rewrite
// fails, the store reconciles by reloading from disk and diffing the user
// count, so the return value is a best-effort figure rather than an error.
func (s *Store) DeleteUsers(usernames []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return 0, err
	}

	var present []string
	for _, u := range usernames {
		if _, ok := s.users[u]; ok {
			present = append(present, regexp.QuoteMeta(u))
		}
	}
	if len(present) == 0 {
		return 0, nil
	}
	pattern, err := regexp.Compile("^(?:" + strings.Join(present, "|") + "):")
	if err != nil {
		return 0, fmt.Errorf("compile delete pattern: %w", err)
	}

	var kept []fileLine
	removed := 0
	for _, l := range s.lines {
		if l.rec != nil && pattern.MatchString(l.rec.Username+":") {
			removed++
			continue
		}
		kept = append(kept, l)
	}

	if err := storefs.WriteFileAtomic(s.path, formatLines(kept), fileMode); err != nil {
		logger.Error("delete rewrite failed for %s, reconciling: %v", s.path, err)
		before := len(s.users)
		s.loaded = false
		if lerr := s.loadLocked(); lerr != nil {
			return 0, fmt.Errorf("rewrite user file %s: %w", s.path, err)
		}
		diff := before - len(s.users)
		if diff < 0 {
			diff = 0
		}
		return diff, nil
	}

	s.lines = kept
	next := make(map[string]*UserRecord, len(s.users)-removed)
	for _, l := range kept {
		if l.rec != nil {
			next[l.rec.Username] = l.rec
		}
	}
	s.users = next
	return removed, nil
}

// RetrieveUsers returns records sorted by username ascending, filtered, then
// paginated with skip-then-take. A limit of zero or less means no limit.
func (s *Store) RetrieveUsers(start, limit int, filter map[string]string) ([]*UserRecord, error) {
	f, err := CompileFilter(filter)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(s.users))
	for name := range s.users {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []*UserRecord
	i := 0
	for _, name := range names {
		rec := s.users[name]
		if f != nil && !f.Match(rec) {
			continue
		}
		if i >= start {
			out = append(out, rec.Clone())
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		i++
	}
	return out, nil
}

// GetUserCount counts the records matching filter; an empty filter counts all.
func (s *Store) GetUserCount(filter map[string]string) (int, error) {
	f, err := CompileFilter(filter)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return 0, err
	}
	if f == nil {
		return len(s.users), nil
	}
	count := 0
	for _, rec := range s.users {
		if f.Match(rec) {
			count++
		}
	}
	return count, nil
}

// Writable reports whether mutating operations have a chance of succeeding.
// Callers can probe this once at startup instead of failing on first write.
func (s *Store) Writable() bool {
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_APPEND, 0)
	if err == nil {
		_ = f.Close()
		return true
	}
	if !errors.Is(err, os.ErrNotExist) {
		return false
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".probe-*")
	if err != nil {
		return false
	}
	name := tmp.Name()
	_ = tmp.Close()
	_ = os.Remove(name)
	return true
}

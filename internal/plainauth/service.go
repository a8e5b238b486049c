// Package plainauth is the operational facade over the user store, the
// password history log, and the policy engine. It is the only package callers
// are expected to import.
package plainauth

import (
	"errors"
	"fmt"

	"github.com/akehrer/dokuwiki-plainauthplus/internal/auth"
	"github.com/akehrer/dokuwiki-plainauthplus/internal/config"
	"github.com/akehrer/dokuwiki-plainauthplus/internal/history"
	"github.com/akehrer/dokuwiki-plainauthplus/internal/logger"
	"github.com/akehrer/dokuwiki-plainauthplus/internal/policy"
	"github.com/akehrer/dokuwiki-plainauthplus/internal/userstore"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidUsername    = errors.New("invalid username")
	ErrPasswordExpired    = errors.New("password has expired")
	ErrLoginDenied        = errors.New("login denied by policy")
)

// Sanitizer normalizes raw usernames and group names before they reach the
// store.
type Sanitizer interface {
	CleanIdentifier(raw string) string
}

type identSanitizer struct{}

func (identSanitizer) CleanIdentifier(raw string) string {
	return userstore.CleanIdentifier(raw)
}

// LogNotifier is the default policy message sink; it writes warnings to the
// module logger.
type LogNotifier struct{}

func (LogNotifier) Warn(message string) { logger.Warn("%s", message) }

var _ policy.Notifier = LogNotifier{}

// Options overrides the default collaborators, mainly for tests.
type Options struct {
	Hasher    policy.Hasher
	Clock     policy.Clock
	Notifier  policy.Notifier
	Sanitizer Sanitizer
}

// Service composes the store, the history log, and the policy engine.
type Service struct {
	cfg     *config.Config
	store   *userstore.Store
	history *history.Store
	engine  *policy.Engine
	hasher  policy.Hasher
	clock   policy.Clock
	clean   Sanitizer
	secret  []byte
}

func New(cfg *config.Config, opts *Options) (*Service, error) {
	if opts == nil {
		opts = &Options{}
	}
	hasher := opts.Hasher
	if hasher == nil {
		hasher = auth.NewCryptHasher()
	}
	clock := opts.Clock
	if clock == nil {
		clock = policy.SystemClock{}
	}
	notify := opts.Notifier
	if notify == nil {
		notify = LogNotifier{}
	}
	clean := opts.Sanitizer
	if clean == nil {
		clean = identSanitizer{}
	}

	secret := cfg.TokenSecret
	if secret == "" {
		s, err := auth.NewRandomSecretB64(32)
		if err != nil {
			return nil, fmt.Errorf("generate token secret: %w", err)
		}
		secret = s
	}

	hist := history.New(cfg.HistoryDir)
	pol := policy.Policy{
		BadPassLimit:   cfg.BadPassLimit,
		SessionTimeout: cfg.SessionTimeout(),
		PasswordExpire: cfg.PasswordExpire(),
		PasswordReuse:  cfg.PasswordReuse(),
	}
	return &Service{
		cfg:     cfg,
		store:   userstore.New(cfg.UserFile),
		history: hist,
		engine:  policy.NewEngine(pol, hasher, hist, clock, notify),
		hasher:  hasher,
		clock:   clock,
		clean:   clean,
		secret:  []byte(secret),
	}, nil
}

// Store exposes the underlying user store for read-mostly tooling.
func (s *Service) Store() *userstore.Store { return s.store }

// GetUserData returns a copy of the record, or userstore.ErrNotFound.
func (s *Service) GetUserData(username string) (*userstore.UserRecord, error) {
	return s.store.GetUser(s.clean.CleanIdentifier(username))
}

// CreateUser registers a new account. When groups is empty the configured
// default group applies. The plaintext is returned for one-time display.
func (s *Service) CreateUser(username, password, name, mail string, groups []string) (string, error) {
	username = s.clean.CleanIdentifier(username)
	if username == "" {
		return "", ErrInvalidUsername
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return "", fmt.Errorf("hash password for %s: %w", username, err)
	}

	cleaned := s.cleanGroups(groups)
	if len(cleaned) == 0 {
		cleaned = []string{s.cfg.DefaultGroup}
	}

	now := s.clock.Now()
	rec := &userstore.UserRecord{
		Username:     username,
		PasswordHash: hash,
		DisplayName:  name,
		Mail:         mail,
		Groups:       cleaned,
		Security: userstore.Security{
			BadPasswordCount:  0,
			PasswordExpiresAt: now.Add(s.cfg.PasswordExpire()).Unix(),
			SessionExpiresAt:  now.Add(s.cfg.SessionTimeout()).Unix(),
		},
	}
	if err := s.store.CreateUser(rec); err != nil {
		return "", err
	}
	return password, nil
}

// CheckPass authenticates the pair and persists the resulting state change
// (counter reset or increment, session renewal, legacy migration). An unknown
// user is simply a false.
func (s *Service) CheckPass(username, password string) bool {
	return s.CheckPassFrom(username, password, "")
}

// CheckPassFrom is CheckPass with the caller's network address recorded on
// success.
func (s *Service) CheckPassFrom(username, password, clientAddr string) bool {
	username = s.clean.CleanIdentifier(username)
	rec, err := s.store.GetUser(username)
	if err != nil {
		return false
	}
	ok, err := s.engine.Authenticate(rec, password, clientAddr)
	if err != nil {
		logger.Error("authentication transition for %s failed: %v", username, err)
		return false
	}
	if err := s.store.Replace(username, rec); err != nil {
		logger.Error("persisting auth result for %s failed: %v", username, err)
	}
	return ok
}

// EvaluateSession applies the policy checks that guard every authenticated
// access. An allowed access slides the session window forward and is
// persisted; deny outcomes leave the record as it was.
func (s *Service) EvaluateSession(username string) (policy.SessionAction, error) {
	username = s.clean.CleanIdentifier(username)
	rec, err := s.store.GetUser(username)
	if err != nil {
		return policy.ActionForceLogout, err
	}
	action := s.engine.EvaluateSession(rec)
	if action == policy.ActionAllow {
		if err := s.store.Replace(username, rec); err != nil {
			return action, err
		}
	}
	return action, nil
}

// Login combines CheckPassFrom and EvaluateSession and, when both pass,
// returns a signed session token the caller can hand back on later requests.
func (s *Service) Login(username, password, clientAddr string) (string, error) {
	if !s.CheckPassFrom(username, password, clientAddr) {
		return "", ErrInvalidCredentials
	}
	action, err := s.EvaluateSession(username)
	if err != nil {
		return "", err
	}
	switch action {
	case policy.ActionAllow:
	case policy.ActionRequirePasswordChange:
		return "", ErrPasswordExpired
	default:
		return "", fmt.Errorf("%w: %s", ErrLoginDenied, action)
	}
	rec, err := s.GetUserData(username)
	if err != nil {
		return "", err
	}
	return auth.SignHS256(s.secret, rec.Username, rec.Groups, s.cfg.TokenTTL())
}

// ValidateToken parses a token minted by Login.
func (s *Service) ValidateToken(token string) (*auth.Claims, error) {
	return auth.ParseHS256(s.secret, token)
}

// DeleteUsers removes the named users and reports how many were actually
// removed; after a partial storage failure the count is reconciled from a
// fresh load rather than raised as an error.
func (s *Service) DeleteUsers(usernames []string) (int, error) {
	cleaned := make([]string, 0, len(usernames))
	for _, u := range usernames {
		if c := s.clean.CleanIdentifier(u); c != "" {
			cleaned = append(cleaned, c)
		}
	}
	return s.store.DeleteUsers(cleaned)
}

// RetrieveUsers and GetUserCount pass through to the store.

func (s *Service) RetrieveUsers(start, limit int, filter map[string]string) ([]*userstore.UserRecord, error) {
	return s.store.RetrieveUsers(start, limit, filter)
}

func (s *Service) GetUserCount(filter map[string]string) (int, error) {
	return s.store.GetUserCount(filter)
}

func (s *Service) cleanGroups(groups []string) []string {
	var out []string
	for _, g := range groups {
		if c := s.clean.CleanIdentifier(g); c != "" {
			out = append(out, c)
		}
	}
	return out
}

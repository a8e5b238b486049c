package plainauth

// Change is one mutation applied by ModifyUser. The set is closed; every
// mutable field has its own command type, so a misspelled field name cannot
// compile.
type Change interface {
	isChange()
}

// Rename moves the record to a new username.
type Rename struct{ NewUsername string }

// SetDisplayName replaces the display name.
type SetDisplayName struct{ Name string }

// SetMail replaces the email address.
type SetMail struct{ Mail string }

// SetGroups replaces the group list.
type SetGroups struct{ Groups []string }

// SetPassword routes through the policy engine's ChangePassword, including
// the reuse check. ForceImmediateExpiry marks the new password as already
// expired so the user must pick their own on next login.
type SetPassword struct {
	Plaintext            string
	ForceImmediateExpiry bool
}

// SetBadPasswordCount overwrites the failed-attempt counter (clamped at 0).
type SetBadPasswordCount struct{ Count int }

// RenewSession slides the session window forward from now.
type RenewSession struct{}

// SetClientAddress records the session's client address.
type SetClientAddress struct{ Addr string }

func (Rename) isChange()              {}
func (SetDisplayName) isChange()      {}
func (SetMail) isChange()             {}
func (SetGroups) isChange()           {}
func (SetPassword) isChange()         {}
func (SetBadPasswordCount) isChange() {}
func (RenewSession) isChange()        {}
func (SetClientAddress) isChange()    {}

// ModifyUser applies the given changes to one record as a unit: every change
// is applied to a working copy and the store is written once at the end, so a
// reuse rejection or a history-append failure aborts the whole call with the
// prior state intact.
func (s *Service) ModifyUser(username string, changes ...Change) error {
	username = s.clean.CleanIdentifier(username)
	rec, err := s.store.GetUser(username)
	if err != nil {
		return err
	}
	if len(changes) == 0 {
		return nil
	}

	for _, change := range changes {
		switch c := change.(type) {
		case Rename:
			newName := s.clean.CleanIdentifier(c.NewUsername)
			if newName == "" {
				return ErrInvalidUsername
			}
			rec.Username = newName
		case SetDisplayName:
			rec.DisplayName = c.Name
		case SetMail:
			rec.Mail = c.Mail
		case SetGroups:
			rec.Groups = s.cleanGroups(c.Groups)
		case SetPassword:
			if err := s.engine.ChangePassword(rec, c.Plaintext, c.ForceImmediateExpiry); err != nil {
				return err
			}
		case SetBadPasswordCount:
			n := c.Count
			if n < 0 {
				n = 0
			}
			rec.Security.BadPasswordCount = n
		case RenewSession:
			rec.Security.SessionExpiresAt = s.clock.Now().Add(s.cfg.SessionTimeout()).Unix()
		case SetClientAddress:
			rec.Security.SessionClientAddress = c.Addr
		}
	}

	return s.store.Replace(username, rec)
}

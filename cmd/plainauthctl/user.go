package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/akehrer/dokuwiki-plainauthplus/internal/config"
	"github.com/akehrer/dokuwiki-plainauthplus/internal/logger"
	"github.com/akehrer/dokuwiki-plainauthplus/internal/plainauth"
	"github.com/akehrer/dokuwiki-plainauthplus/internal/policy"
)

// userCmd carries the command dependencies so tests can swap stdio and the
// password reader for fakes.
type userCmd struct {
	stdout       io.Writer
	stderr       io.Writer
	readPassword func() (string, error)
	newService   func(cfgPath string) (*plainauth.Service, error)
}

func newUserCmd() *userCmd {
	return &userCmd{
		stdout: os.Stdout,
		stderr: os.Stderr,
		readPassword: func() (string, error) {
			b, err := term.ReadPassword(int(os.Stdin.Fd()))
			return string(b), err
		},
		newService: func(cfgPath string) (*plainauth.Service, error) {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return nil, err
			}
			logger.Init(logger.Level(cfg.LogLevel), cfg.LogFormat)
			return plainauth.New(cfg, nil)
		},
	}
}

func (u *userCmd) dispatch(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(u.stderr, "Error: missing user subcommand (add|delete|list|passwd|check)")
		return 1
	}
	switch args[0] {
	case "add":
		return u.add(args[1:])
	case "delete":
		return u.delete(args[1:])
	case "list":
		return u.list(args[1:])
	case "passwd":
		return u.passwd(args[1:])
	case "check":
		return u.check(args[1:])
	default:
		fmt.Fprintf(u.stderr, "Error: unknown user subcommand %q\n", args[0])
		return 1
	}
}

func (u *userCmd) promptPassword(prompt string, confirm bool) (string, error) {
	fmt.Fprint(u.stdout, prompt)
	pw, err := u.readPassword()
	fmt.Fprintln(u.stdout)
	if err != nil {
		return "", err
	}
	if confirm {
		fmt.Fprint(u.stdout, "Confirm password: ")
		again, err := u.readPassword()
		fmt.Fprintln(u.stdout)
		if err != nil {
			return "", err
		}
		if pw != again {
			return "", fmt.Errorf("passwords do not match")
		}
	}
	return pw, nil
}

func (u *userCmd) add(args []string) int {
	fs := flag.NewFlagSet("user add", flag.ContinueOnError)
	fs.SetOutput(u.stderr)
	cfgPath := fs.String("config", "", "Configuration file")
	user := fs.String("user", "", "Username (required)")
	name := fs.String("name", "", "Display name")
	mail := fs.String("mail", "", "Email address")
	groups := fs.String("groups", "", "Comma-separated groups (default group when empty)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *user == "" {
		fmt.Fprintln(u.stderr, "Error: -user is required")
		return 1
	}

	pw, err := u.promptPassword("Enter password: ", true)
	if err != nil {
		fmt.Fprintf(u.stderr, "Error reading password: %v\n", err)
		return 1
	}

	svc, err := u.newService(*cfgPath)
	if err != nil {
		fmt.Fprintf(u.stderr, "Error: %v\n", err)
		return 1
	}
	if !svc.Store().Writable() {
		fmt.Fprintln(u.stderr, "Error: user file is not writable")
		return 1
	}

	var grps []string
	for _, g := range strings.Split(*groups, ",") {
		if g = strings.TrimSpace(g); g != "" {
			grps = append(grps, g)
		}
	}
	if _, err := svc.CreateUser(*user, pw, *name, *mail, grps); err != nil {
		fmt.Fprintf(u.stderr, "Error: failed to add user: %v\n", err)
		return 1
	}
	fmt.Fprintf(u.stdout, "User added: %s\n", *user)
	return 0
}

func (u *userCmd) delete(args []string) int {
	fs := flag.NewFlagSet("user delete", flag.ContinueOnError)
	fs.SetOutput(u.stderr)
	cfgPath := fs.String("config", "", "Configuration file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	names := fs.Args()
	if len(names) == 0 {
		fmt.Fprintln(u.stderr, "Error: no usernames given")
		return 1
	}

	svc, err := u.newService(*cfgPath)
	if err != nil {
		fmt.Fprintf(u.stderr, "Error: %v\n", err)
		return 1
	}
	n, err := svc.DeleteUsers(names)
	if err != nil {
		fmt.Fprintf(u.stderr, "Error: failed to delete users: %v\n", err)
		return 1
	}
	fmt.Fprintf(u.stdout, "Deleted %d user(s)\n", n)
	return 0
}

func (u *userCmd) list(args []string) int {
	fs := flag.NewFlagSet("user list", flag.ContinueOnError)
	fs.SetOutput(u.stderr)
	cfgPath := fs.String("config", "", "Configuration file")
	start := fs.Int("start", 0, "Index of first user to show")
	limit := fs.Int("limit", 0, "Maximum users to show (0 = all)")
	filter := map[string]string{}
	fs.Func("filter", "Filter as field=pattern (repeatable); fields: user,name,mail,grps", func(v string) error {
		field, pattern, ok := strings.Cut(v, "=")
		if !ok {
			return fmt.Errorf("expected field=pattern, got %q", v)
		}
		filter[field] = pattern
		return nil
	})
	if err := fs.Parse(args); err != nil {
		return 1
	}

	svc, err := u.newService(*cfgPath)
	if err != nil {
		fmt.Fprintf(u.stderr, "Error: %v\n", err)
		return 1
	}
	recs, err := svc.RetrieveUsers(*start, *limit, filter)
	if err != nil {
		fmt.Fprintf(u.stderr, "Error: %v\n", err)
		return 1
	}
	for _, r := range recs {
		expires := "-"
		if r.Security.PasswordExpiresAt > 0 {
			expires = time.Unix(r.Security.PasswordExpiresAt, 0).UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(u.stdout, "%s\t%s\t%s\t%s\tbadpass=%d expires=%s\n",
			r.Username, r.DisplayName, r.Mail, strings.Join(r.Groups, ","),
			r.Security.BadPasswordCount, expires)
	}
	total, err := svc.GetUserCount(filter)
	if err != nil {
		fmt.Fprintf(u.stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(u.stdout, "\nTotal: %d user(s)\n", total)
	return 0
}

func (u *userCmd) passwd(args []string) int {
	fs := flag.NewFlagSet("user passwd", flag.ContinueOnError)
	fs.SetOutput(u.stderr)
	cfgPath := fs.String("config", "", "Configuration file")
	user := fs.String("user", "", "Username (required)")
	expireNow := fs.Bool("expire-now", false, "Mark the new password as already expired (forced reset)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *user == "" {
		fmt.Fprintln(u.stderr, "Error: -user is required")
		return 1
	}

	pw, err := u.promptPassword("Enter new password: ", true)
	if err != nil {
		fmt.Fprintf(u.stderr, "Error reading password: %v\n", err)
		return 1
	}

	svc, err := u.newService(*cfgPath)
	if err != nil {
		fmt.Fprintf(u.stderr, "Error: %v\n", err)
		return 1
	}
	err = svc.ModifyUser(*user, plainauth.SetPassword{
		Plaintext:            pw,
		ForceImmediateExpiry: *expireNow,
	})
	if err != nil {
		fmt.Fprintf(u.stderr, "Error: failed to change password: %v\n", err)
		return 1
	}
	fmt.Fprintf(u.stdout, "Password changed for: %s\n", *user)
	return 0
}

func (u *userCmd) check(args []string) int {
	fs := flag.NewFlagSet("user check", flag.ContinueOnError)
	fs.SetOutput(u.stderr)
	cfgPath := fs.String("config", "", "Configuration file")
	user := fs.String("user", "", "Username (required)")
	withToken := fs.Bool("token", false, "Print a session token on success")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *user == "" {
		fmt.Fprintln(u.stderr, "Error: -user is required")
		return 1
	}

	pw, err := u.promptPassword("Enter password: ", false)
	if err != nil {
		fmt.Fprintf(u.stderr, "Error reading password: %v\n", err)
		return 1
	}

	svc, err := u.newService(*cfgPath)
	if err != nil {
		fmt.Fprintf(u.stderr, "Error: %v\n", err)
		return 1
	}

	if *withToken {
		token, err := svc.Login(*user, pw, "")
		if err != nil {
			fmt.Fprintf(u.stderr, "Login failed: %v\n", err)
			return 1
		}
		fmt.Fprintln(u.stdout, token)
		return 0
	}

	if !svc.CheckPass(*user, pw) {
		fmt.Fprintln(u.stderr, "Authentication failed")
		return 1
	}
	action, err := svc.EvaluateSession(*user)
	if err != nil {
		fmt.Fprintf(u.stderr, "Error: %v\n", err)
		return 1
	}
	if action != policy.ActionAllow {
		fmt.Fprintf(u.stderr, "Denied by policy: %s\n", action)
		return 1
	}
	fmt.Fprintln(u.stdout, "OK")
	return 0
}

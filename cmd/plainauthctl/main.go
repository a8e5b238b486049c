// Command plainauthctl manages the plainauthplus user directory from the
// command line: creating, deleting, listing and re-keying accounts, and
// checking credentials against the security policy.
package main

import (
	"fmt"
	"os"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage(os.Stderr)
		return 1
	}
	switch args[0] {
	case "user":
		return newUserCmd().dispatch(args[1:])
	case "help", "-h", "--help":
		usage(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		usage(os.Stderr)
		return 1
	}
}

func usage(w *os.File) {
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  plainauthctl user add     -user NAME [options]   add an account")
	fmt.Fprintln(w, "  plainauthctl user delete  NAME...                delete accounts")
	fmt.Fprintln(w, "  plainauthctl user list    [options]              list accounts")
	fmt.Fprintln(w, "  plainauthctl user passwd  -user NAME [options]   change a password")
	fmt.Fprintln(w, "  plainauthctl user check   -user NAME [options]   verify credentials")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "All subcommands accept -config PATH for the YAML configuration file.")
}

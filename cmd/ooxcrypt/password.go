package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/term"
)

// readPassword returns the -password flag, or prompts on the terminal.
// An empty result means the default password is used.
func (a *app) readPassword(confirm bool) (string, error) {
	if a.password != "" || !a.askPass {
		return a.password, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", nil
	}
	pw, err := prompt(fd, "Password: ")
	if err != nil {
		return "", err
	}
	if confirm && pw != "" {
		again, err := prompt(fd, "Confirm password: ")
		if err != nil {
			return "", err
		}
		if again != pw {
			return "", errors.New("passwords do not match")
		}
	}
	a.password = pw
	return pw, nil
}

func prompt(fd int, msg string) (string, error) {
	fmt.Fprint(os.Stderr, msg)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", errors.Wrap(err, "read password")
	}
	return string(b), nil
}

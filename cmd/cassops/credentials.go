package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/andrej220/cassops/internal/restart"
)

// sudoCredentials takes the password from the environment and falls back to
// asking on the terminal.
func (a *app) sudoCredentials() restart.CredentialFunc {
	return func(ctx context.Context) (string, error) {
		if pw := a.getenv(sudoPasswordEnv); pw != "" {
			return pw, nil
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		pw, err := a.prompt("sudo password: ")
		if err != nil {
			return "", err
		}
		if pw == "" {
			return "", errors.New("empty sudo password")
		}
		return pw, nil
	}
}

func promptPassword(in *os.File, out io.Writer, label string) (string, error) {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("%s is not set and stdin is not a terminal", sudoPasswordEnv)
	}
	fmt.Fprint(out, label)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(pw), nil
}

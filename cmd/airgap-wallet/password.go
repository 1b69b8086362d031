package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/blockberries/airgap-wallet/config"
	"github.com/blockberries/airgap-wallet/crypto"
)

// PasswordEnvVar supplies the password non-interactively, for scripted use.
const PasswordEnvVar = config.EnvPrefix + "PASSWORD"

func readPassword(prompt string) (string, error) {
	if v := os.Getenv(PasswordEnvVar); v != "" {
		return v, nil
	}
	b, err := promptPassword(prompt)
	if err != nil {
		return "", err
	}
	defer crypto.Zeroize(b)
	if len(b) == 0 {
		return "", errors.New("password cannot be empty")
	}
	return string(b), nil
}

func readPasswordWithConfirm(prompt, confirmPrompt string) (string, error) {
	if v := os.Getenv(PasswordEnvVar); v != "" {
		return v, nil
	}
	first, err := promptPassword(prompt)
	if err != nil {
		return "", err
	}
	defer crypto.Zeroize(first)

	confirm, err := promptPassword(confirmPrompt)
	if err != nil {
		return "", err
	}
	defer crypto.Zeroize(confirm)

	if !bytes.Equal(first, confirm) {
		return "", errors.New("passwords do not match")
	}
	if len(first) == 0 {
		return "", errors.New("password cannot be empty")
	}
	return string(first), nil
}

// promptPassword reads without echo from stdin, or from /dev/tty when stdin
// is piped.
func promptPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	defer fmt.Fprintln(os.Stderr)

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		return term.ReadPassword(fd)
	}

	tty, err := os.Open("/dev/tty")
	if err != nil {
		return nil, fmt.Errorf("cannot read password: stdin is not a terminal; set %s", PasswordEnvVar)
	}
	defer tty.Close()
	return term.ReadPassword(int(tty.Fd()))
}

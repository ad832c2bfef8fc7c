package emulator

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/term"
)

// PromptPassphrase reads the mnemonic passphrase from the terminal without echo.
//
//nolint:forbidigo // Passphrase input requires direct terminal I/O
func PromptPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	passphrase, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", errors.Wrap(err, "failed to read passphrase from terminal")
	}

	fmt.Fprintln(os.Stderr)

	return string(passphrase), nil
}

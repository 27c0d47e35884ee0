package admin

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/pkgindex/internal/common"
	"golang.org/x/term"
)

// readPassword is a test seam for term.ReadPassword.
// In tests you can replace it with a stub to avoid touching the terminal.
var readPassword = term.ReadPassword

// passwordAttempts is how often ReadNewPassword asks before giving up.
const passwordAttempts = 3

// ErrPasswordMismatch is returned when no two entries agreed.
var ErrPasswordMismatch = errors.New("no password set")

// GetPassword prints prompt to w and reads a password from the terminal
// without echo. A newline is printed after the read to keep the UI tidy.
func GetPassword(w io.Writer, prompt string) ([]byte, error) {
	if _, err := fmt.Fprint(w, prompt); err != nil {
		return nil, err
	}
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return nil, err
	}
	return pw, nil
}

// ReadNewPassword asks for the password of user twice, up to
// passwordAttempts times, until both entries match.
func ReadNewPassword(w io.Writer, user string) (string, error) {
	for i := 0; i < passwordAttempts; i++ {
		pw, err := GetPassword(w, fmt.Sprintf("enter password for %s: ", user))
		if err != nil {
			return "", err
		}
		pw2, err := GetPassword(w, fmt.Sprintf("repeat password for %s: ", user))
		if err != nil {
			return "", err
		}
		match := string(pw) == string(pw2)
		password := string(pw)
		common.WipeByteArray(pw)
		common.WipeByteArray(pw2)
		if match {
			return password, nil
		}
		fmt.Fprintln(w, "passwords don't match")
	}
	return "", ErrPasswordMismatch
}

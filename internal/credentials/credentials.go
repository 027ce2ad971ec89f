// Package credentials parses the username/password pairs a user
// pastes into the viewer's connect dialog, accepting the three
// shapes a presenter's credential display might produce: a labeled
// two-line form, a single space-separated line (the numeric username
// optionally broken up by spaces), or two bare whitespace-delimited
// lines.
package credentials

import (
	"errors"
	"regexp"
	"strings"
)

// ErrEmpty is returned when the input is blank.
var ErrEmpty = errors.New("credentials: input is empty")

// ErrUnrecognizedFormat is returned when none of the accepted
// grammars match.
var ErrUnrecognizedFormat = errors.New("credentials: unrecognized format")

// ErrInvalidUsername is returned when a recognized grammar yields a
// username containing anything but digits.
var ErrInvalidUsername = errors.New("credentials: username must be numeric")

// Credentials is a parsed username/password pair, ready to pass to
// ConnectTo.
type Credentials struct {
	Username string
	Password string
}

var labeledForm = regexp.MustCompile(`(?is)\Aid\s*:\s*(\S+)\s*[\r\n]+\s*password\s*:\s*(\S+)\s*\z`)

// Parse accepts any of:
//   - "ID: X\nPassword: Y" (case-insensitive labels)
//   - "123 456 7890 pwd" — a space-optional numeric id followed by a
//     non-space password
//   - two bare whitespace-delimited lines: id, then password
//
// The latter two reduce to the same rule: every whitespace-separated
// field but the last is digits of the username; the last field is the
// password.
func Parse(raw string) (Credentials, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Credentials{}, ErrEmpty
	}

	if m := labeledForm.FindStringSubmatch(trimmed); m != nil {
		return validate(m[1], m[2])
	}

	fields := strings.Fields(trimmed)
	if len(fields) < 2 {
		return Credentials{}, ErrUnrecognizedFormat
	}
	password := fields[len(fields)-1]
	username := strings.Join(fields[:len(fields)-1], "")

	return validate(username, password)
}

func validate(username, password string) (Credentials, error) {
	if username == "" || password == "" {
		return Credentials{}, ErrUnrecognizedFormat
	}
	for _, r := range username {
		if r < '0' || r > '9' {
			return Credentials{}, ErrInvalidUsername
		}
	}
	return Credentials{Username: username, Password: password}, nil
}

package session

import "fmt"

// ErrAuthFailed occurs when the backend refuses to issue a token for an identity.
type ErrAuthFailed struct {
	UserID   string
	Original error
}

func (e ErrAuthFailed) Error() string {
	return fmt.Sprintf("Login as %q failed. Error: %q", e.UserID, e.Original)
}

func (e ErrAuthFailed) Unwrap() error {
	return e.Original
}

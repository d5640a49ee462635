package auth

import "fmt"

// Reason distinguishes why an authentication failed. Deactivated principals
// surface a distinct reason from wrong credentials so operators can tell an
// offboarded account from a typo, without leaking that difference to the
// remote caller.
type Reason string

const (
	ReasonBadCredentials Reason = "bad credentials"
	ReasonDeactivated    Reason = "account deactivated"
	ReasonLocked         Reason = "account locked"
	ReasonNoAuthInfo     Reason = "no authentication information"
)

// AuthenticationError reports rejected credentials. It is always recoverable
// by the caller (prompt again) and never fatal to the process.
type AuthenticationError struct {
	Login  string
	Reason Reason
}

func (e *AuthenticationError) Error() string {
	if e.Login == "" {
		return fmt.Sprintf("authentication failed: %s", e.Reason)
	}
	return fmt.Sprintf("authentication failed for %q: %s", e.Login, e.Reason)
}

func authErr(login string, reason Reason) error {
	return &AuthenticationError{Login: login, Reason: reason}
}

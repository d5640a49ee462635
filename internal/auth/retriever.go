package auth

import (
	"fmt"
	"net/http"
	"strings"
)

// Retriever extracts authentication information from a request. Retrievers
// are tried in the order they are registered; Available lets a retriever
// bow out cheaply when the request carries nothing for it, and Cleanup lets
// it clear transient state (a stale cookie, typically) after its
// credentials failed validation.
type Retriever interface {
	Available(r *http.Request) bool
	Extract(r *http.Request) (login string, creds Credentials, err error)
	Cleanup(w http.ResponseWriter)
}

// BasicAuthRetriever reads HTTP basic auth credentials.
type BasicAuthRetriever struct{}

func (BasicAuthRetriever) Available(r *http.Request) bool {
	_, _, ok := r.BasicAuth()
	return ok
}

func (BasicAuthRetriever) Extract(r *http.Request) (string, Credentials, error) {
	login, password, ok := r.BasicAuth()
	if !ok {
		return "", nil, fmt.Errorf("no basic auth header")
	}
	return login, Credentials{"password": password}, nil
}

func (BasicAuthRetriever) Cleanup(http.ResponseWriter) {}

// FormRetriever reads login/password form fields from a POST body.
type FormRetriever struct{}

func (FormRetriever) Available(r *http.Request) bool {
	if r.Method != http.MethodPost {
		return false
	}
	ct := r.Header.Get("Content-Type")
	return strings.HasPrefix(ct, "application/x-www-form-urlencoded") ||
		strings.HasPrefix(ct, "multipart/form-data")
}

func (FormRetriever) Extract(r *http.Request) (string, Credentials, error) {
	if err := r.ParseForm(); err != nil {
		return "", nil, fmt.Errorf("parse form: %w", err)
	}
	login := r.PostFormValue("login")
	if login == "" {
		return "", nil, fmt.Errorf("no login field")
	}
	return login, Credentials{"password": r.PostFormValue("password")}, nil
}

func (FormRetriever) Cleanup(http.ResponseWriter) {}

// BearerTokenRetriever reads a JWT from the Authorization header. The token
// is verified later by the authenticator; here we only need the subject to
// resolve the principal.
type BearerTokenRetriever struct {
	Tokens *TokenIssuer
}

func (b BearerTokenRetriever) Available(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func (b BearerTokenRetriever) Extract(r *http.Request) (string, Credentials, error) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	login, err := b.Tokens.Verify(token)
	if err != nil {
		return "", nil, err
	}
	return login, Credentials{"token": token}, nil
}

func (BearerTokenRetriever) Cleanup(http.ResponseWriter) {}

// SessionCookieName is the cookie the transport layer stores session
// identifiers under.
const SessionCookieName = "warden_session"

// CookieRetriever recognizes requests carrying a session cookie. It does not
// authenticate by itself (the transport's session middleware resolves the
// session) but it participates in the chain so a stale cookie is cleared
// when its session is gone.
type CookieRetriever struct {
	// Resolve maps a session id to the login it belongs to.
	Resolve func(r *http.Request, sessionID string) (string, error)
}

func (c CookieRetriever) Available(r *http.Request) bool {
	_, err := r.Cookie(SessionCookieName)
	return err == nil
}

func (c CookieRetriever) Extract(r *http.Request) (string, Credentials, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return "", nil, err
	}
	login, err := c.Resolve(r, cookie.Value)
	if err != nil {
		return "", nil, err
	}
	return login, Credentials{"session": cookie.Value}, nil
}

// Cleanup expires the stale session cookie so the browser stops replaying
// it.
func (CookieRetriever) Cleanup(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}

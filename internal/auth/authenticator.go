// Package auth implements credential validation: an ordered retriever chain
// over incoming requests, per-source credential binders, failure lockout and
// the post-authentication hook.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"warden/internal/platform/metrics"
	"warden/internal/principal"
	"warden/pkg/platform/sentinel"
)

// PostAuthHook runs after every successful non-anonymous authentication
// (last-login bookkeeping, audit emission). Hook failures are logged, not
// surfaced: the login itself already succeeded.
type PostAuthHook func(ctx context.Context, p *principal.Principal)

// Authenticator validates (login, credentials) pairs against the principal
// store, delegating the actual credential check to the binder registered for
// the principal's owning source.
type Authenticator struct {
	store   principal.Store
	binders map[string]Binder

	tokens    *TokenIssuer
	lockout   *Lockout
	postAuth  PostAuthHook
	anonLogin string
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

type Option func(*Authenticator)

func WithLogger(logger *slog.Logger) Option {
	return func(a *Authenticator) { a.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Authenticator) { a.metrics = m }
}

// WithTokenIssuer enables bearer-token credentials.
func WithTokenIssuer(t *TokenIssuer) Option {
	return func(a *Authenticator) { a.tokens = t }
}

func WithLockout(l *Lockout) Option {
	return func(a *Authenticator) { a.lockout = l }
}

func WithPostAuthHook(h PostAuthHook) Option {
	return func(a *Authenticator) { a.postAuth = h }
}

// WithAnonymousLogin configures the principal used when no retriever yields
// credentials.
func WithAnonymousLogin(login string) Option {
	return func(a *Authenticator) { a.anonLogin = login }
}

func New(store principal.Store, binders map[string]Binder, opts ...Option) (*Authenticator, error) {
	if store == nil {
		return nil, errors.New("principal store is required")
	}
	if _, ok := binders[principal.SourceSystem]; !ok {
		return nil, errors.New("a binder for the system source is required")
	}
	a := &Authenticator{
		store:   store,
		binders: binders,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Authenticate validates one (login, credentials) pair. Login matching is
// exact and case-sensitive. A deactivated principal fails even with correct
// credentials, with a distinct reason.
func (a *Authenticator) Authenticate(ctx context.Context, login string, creds Credentials) (*principal.Principal, error) {
	if a.lockout != nil && a.lockout.Locked(login) {
		return nil, a.fail(login, ReasonLocked)
	}

	p, err := a.store.ByLogin(ctx, login)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, a.failAndCount(login, ReasonBadCredentials)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup principal: %w", err)
	}

	if p.State == principal.StateDeactivated {
		return nil, a.fail(login, ReasonDeactivated)
	}

	if err := a.checkCredentials(ctx, p, creds); err != nil {
		a.logger.Debug("credential check failed",
			slog.String("login", login),
			slog.String("source", p.Source),
			slog.String("error", err.Error()),
		)
		return nil, a.failAndCount(login, ReasonBadCredentials)
	}

	if a.lockout != nil {
		a.lockout.Clear(login)
	}
	if a.metrics != nil {
		a.metrics.AuthSuccesses.Inc()
	}
	if a.postAuth != nil {
		a.postAuth(ctx, p)
	}
	return p, nil
}

// checkCredentials routes to the token verifier or to the binder owned by
// the principal's source. Because the binder is chosen by the *current*
// owner, a claimed principal is checked by the local binder and the feed's
// credentials stop working permanently.
func (a *Authenticator) checkCredentials(ctx context.Context, p *principal.Principal, creds Credentials) error {
	if _, ok := creds["session"]; ok {
		// The session store already re-validated the principal when it
		// resolved the identifier; there is no credential left to check.
		return nil
	}
	if token, ok := creds["token"]; ok {
		if a.tokens == nil {
			return fmt.Errorf("token credentials not enabled")
		}
		subject, err := a.tokens.Verify(token)
		if err != nil {
			return err
		}
		if subject != p.Login {
			return fmt.Errorf("token subject mismatch")
		}
		return nil
	}

	binder, ok := a.binders[p.Source]
	if !ok {
		return fmt.Errorf("no binder for source %q", p.Source)
	}
	return binder.CheckCredentials(ctx, p, creds)
}

// AuthenticateAnonymous resolves the configured anonymous principal, if any.
func (a *Authenticator) AuthenticateAnonymous(ctx context.Context) (*principal.Principal, error) {
	if a.anonLogin == "" {
		return nil, authErr("", ReasonNoAuthInfo)
	}
	p, err := a.store.ByLogin(ctx, a.anonLogin)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, authErr(a.anonLogin, ReasonBadCredentials)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup anonymous principal: %w", err)
	}
	if p.State == principal.StateDeactivated {
		return nil, authErr(a.anonLogin, ReasonDeactivated)
	}
	return p, nil
}

// AuthenticateRequest walks the retriever chain in priority order: a
// retriever without usable information is skipped; a retriever whose
// credentials fail validation gets to clean up its transient state (stale
// cookie, bad header) before the next one is tried. When the chain is
// exhausted the anonymous identity is used if configured; otherwise the
// request fails with an AuthenticationError.
//
// The boolean result reports whether the returned principal is the
// anonymous one.
func (a *Authenticator) AuthenticateRequest(w http.ResponseWriter, r *http.Request, retrievers []Retriever) (*principal.Principal, bool, error) {
	ctx := r.Context()
	for _, ret := range retrievers {
		if !ret.Available(r) {
			continue
		}
		login, creds, err := ret.Extract(r)
		if err != nil {
			ret.Cleanup(w)
			continue
		}
		p, err := a.Authenticate(ctx, login, creds)
		if err != nil {
			ret.Cleanup(w)
			continue
		}
		return p, false, nil
	}

	p, err := a.AuthenticateAnonymous(ctx)
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}

func (a *Authenticator) fail(login string, reason Reason) error {
	if a.metrics != nil {
		a.metrics.AuthFailures.WithLabelValues(string(reason)).Inc()
	}
	return authErr(login, reason)
}

func (a *Authenticator) failAndCount(login string, reason Reason) error {
	if a.lockout != nil {
		a.lockout.RecordFailure(login)
	}
	return a.fail(login, reason)
}

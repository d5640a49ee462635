// Package pull implements the external source synchronization pass: it
// enumerates the directory, reconciles the local mirror against it and
// applies create/update/deactivate/reactivate mutations, serialized per
// source.
package pull

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"warden/internal/platform/metrics"
	"warden/internal/principal"
	"warden/internal/source"
	"warden/internal/source/directory"
	"warden/internal/source/reconcile"
	"warden/pkg/platform/sentinel"
	pstrings "warden/pkg/platform/strings"
	"warden/pkg/platform/tx"
)

// Puller synchronizes one source. All passes for the source serialize on its
// mutex; passes for different sources run concurrently.
type Puller struct {
	cfg        *source.Config
	client     directory.Client
	principals principal.Store
	groups     principal.GroupStore

	db      *sql.DB
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time

	mu       sync.Mutex
	lastPull time.Time
}

type Option func(*Puller)

// WithDB enables transaction scoping: raise-on-error passes run all
// mutations in a single transaction that rolls back on the first failure.
func WithDB(db *sql.DB) Option {
	return func(p *Puller) { p.db = db }
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Puller) { p.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Puller) { p.metrics = m }
}

func withClock(now func() time.Time) Option {
	return func(p *Puller) { p.now = now }
}

// New builds a puller for a validated source configuration. Malformed
// configurations are rejected here, at configuration time, never during a
// pass.
func New(cfg *source.Config, client directory.Client, principals principal.Store, groups principal.GroupStore, opts ...Option) (*Puller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Puller{
		cfg:        cfg,
		client:     client,
		principals: principals,
		groups:     groups,
		logger:     slog.Default(),
		tracer:     otel.Tracer("warden/source/pull"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Source returns the name of the source this puller synchronizes.
func (p *Puller) Source() string { return p.cfg.Name }

// Pull runs one synchronization pass. force bypasses the interval check;
// raiseOnError aborts (and rolls back) on the first row failure instead of
// collecting it into the returned statistics.
func (p *Puller) Pull(ctx context.Context, force, raiseOnError bool) (*Stats, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := &Stats{}
	if !force && p.cfg.SyncInterval > 0 && p.now().Sub(p.lastPull) < p.cfg.SyncInterval {
		stats.Skipped = true
		return stats, nil
	}

	ctx, span := p.tracer.Start(ctx, "pull_data",
		trace.WithAttributes(attribute.String("source", p.cfg.Name)))
	defer span.End()

	enumerated, err := p.pass(ctx, stats, raiseOnError)
	span.SetAttributes(
		attribute.Int("created", stats.Created),
		attribute.Int("updated", stats.Updated),
		attribute.Int("deactivated", stats.Deactivated),
		attribute.Int("reactivated", stats.Reactivated),
		attribute.Int("errors", len(stats.Errors)),
	)
	if err != nil {
		span.RecordError(err)
		p.observe(stats, "failed")
		return nil, err
	}

	// A tolerated outage performs no work, so it must not push the next
	// scheduled pass a full interval out.
	if enumerated {
		p.lastPull = p.now()
	}
	result := "ok"
	if len(stats.Errors) > 0 {
		result = "partial"
	}
	p.observe(stats, result)
	p.logger.Info("pull pass finished",
		slog.String("source", p.cfg.Name),
		slog.Int("created", stats.Created),
		slog.Int("updated", stats.Updated),
		slog.Int("unchanged", stats.Unchanged),
		slog.Int("deactivated", stats.Deactivated),
		slog.Int("reactivated", stats.Reactivated),
		slog.Int("errors", len(stats.Errors)),
	)
	return stats, nil
}

// pass reports whether the remote enumeration itself succeeded; a tolerated
// connection failure returns false with a nil error.
func (p *Puller) pass(ctx context.Context, stats *Stats, raiseOnError bool) (bool, error) {
	entries, err := p.client.Search(ctx, p.cfg.UserBaseDN, p.cfg.UserObjectFilter(), p.userAttrs())
	if err != nil {
		connErr := fmt.Errorf("enumerate source %s: %w", p.cfg.Name, err)
		if raiseOnError {
			return false, connErr
		}
		// Zero-effect statistics plus an error marker.
		stats.Errors = append(stats.Errors, connErr)
		return false, nil
	}

	var txn *sql.Tx
	if raiseOnError && p.db != nil {
		txn, err = p.db.BeginTx(ctx, nil)
		if err != nil {
			return true, fmt.Errorf("begin pull transaction: %w", err)
		}
		ctx = tx.WithTx(ctx, txn)
	}

	if err := p.reconcileEntries(ctx, stats, entries, raiseOnError); err != nil {
		return true, rollback(txn, err)
	}
	if p.cfg.GroupBaseDN != "" {
		if err := p.syncGroups(ctx, stats, raiseOnError); err != nil {
			return true, rollback(txn, err)
		}
	}

	if txn != nil {
		if err := txn.Commit(); err != nil {
			return true, fmt.Errorf("commit pull transaction: %w", err)
		}
	}
	return true, nil
}

func rollback(txn *sql.Tx, err error) error {
	if txn != nil {
		_ = txn.Rollback()
	}
	return err
}

// rowError either aborts the pass (raise-on-error) or records the failure
// and lets the remaining rows proceed.
func (p *Puller) rowError(stats *Stats, raiseOnError bool, err error) error {
	if raiseOnError {
		return err
	}
	stats.Errors = append(stats.Errors, err)
	if p.metrics != nil {
		p.metrics.PullRowErrors.WithLabelValues(p.cfg.Name).Inc()
	}
	p.logger.Warn("pull row error", slog.String("source", p.cfg.Name), slog.String("error", err.Error()))
	return nil
}

type applyFunc func(ctx context.Context, stats *Stats, local *principal.Principal, remote reconcile.RemoteEntry) error

// handlers maps every present-entry action to its mutation. The absent-entity
// actions are handled in the deactivation sweep below.
func (p *Puller) handlers() map[reconcile.Action]applyFunc {
	return map[reconcile.Action]applyFunc{
		reconcile.ActionNone:        p.applyNone,
		reconcile.ActionCreate:      p.applyCreate,
		reconcile.ActionUpdate:      p.applyUpdate,
		reconcile.ActionReactivate:  p.applyReactivate,
		reconcile.ActionSkipForeign: p.applySkipForeign,
	}
}

func (p *Puller) reconcileEntries(ctx context.Context, stats *Stats, entries []directory.Entry, raiseOnError bool) error {
	handlers := p.handlers()
	seen := make(map[string]bool, len(entries))

	for _, entry := range entries {
		// A malformed row is still a present row: it must stay out of the
		// deactivation sweep below.
		seen[directory.NormalizeDN(entry.DN)] = true

		remote, err := p.mapEntry(entry)
		if err != nil {
			if err := p.rowError(stats, raiseOnError, err); err != nil {
				return err
			}
			continue
		}

		local, err := p.principals.ByExternalID(ctx, remote.ExternalID)
		if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return fmt.Errorf("lookup %s: %w", remote.ExternalID, err)
		}

		action := reconcile.DecidePresent(local, remote, p.cfg.Name)
		if err := handlers[action](ctx, stats, local, remote); err != nil {
			if err := p.rowError(stats, raiseOnError, fmt.Errorf("%s %s: %w", action, remote.Login, err)); err != nil {
				return err
			}
		}
	}

	// Entities previously mirrored from this source but absent from the
	// current enumeration (or excluded by an updated filter) are deactivated,
	// never deleted. Claimed entities carry Source="system" and are not
	// listed here, which keeps them out of the feed's deactivation scope.
	locals, err := p.principals.ListBySource(ctx, p.cfg.Name)
	if err != nil {
		return fmt.Errorf("list mirrored entities: %w", err)
	}
	for _, local := range locals {
		if seen[local.ExternalID] {
			continue
		}
		if reconcile.DecideAbsent(local) != reconcile.ActionDeactivate {
			continue
		}
		if err := local.Fire(principal.TransitionDeactivate); err != nil {
			return fmt.Errorf("deactivate %s: %w", local.Login, err)
		}
		local.UpdatedAt = p.now()
		if err := p.principals.Update(ctx, local); err != nil {
			if err := p.rowError(stats, raiseOnError, fmt.Errorf("deactivate %s: %w", local.Login, err)); err != nil {
				return err
			}
			continue
		}
		stats.Deactivated++
	}
	return nil
}

func (p *Puller) applyNone(_ context.Context, stats *Stats, _ *principal.Principal, _ reconcile.RemoteEntry) error {
	stats.Unchanged++
	return nil
}

func (p *Puller) applySkipForeign(_ context.Context, _ *Stats, local *principal.Principal, remote reconcile.RemoteEntry) error {
	// The external identifier matches an entity this source no longer owns.
	// Creating a duplicate here is the exact bug the ownership transfer
	// exists to prevent.
	p.logger.Debug("skipping entity owned elsewhere",
		slog.String("source", p.cfg.Name),
		slog.String("external_id", remote.ExternalID),
		slog.String("owner", local.Source),
	)
	return nil
}

func (p *Puller) applyCreate(ctx context.Context, stats *Stats, _ *principal.Principal, remote reconcile.RemoteEntry) error {
	now := p.now()
	pr := &principal.Principal{
		ID:         uuid.New(),
		Login:      remote.Login,
		Source:     p.cfg.Name,
		ExternalID: remote.ExternalID,
		State:      principal.StateActivated,
		Attrs:      remote.Attrs,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := p.principals.Create(ctx, pr); err != nil {
		return err
	}
	stats.Created++

	// A missing default group is recorded as an error but must not abort the
	// entry: the remaining configured groups are still applied.
	for _, group := range p.cfg.UserDefaultGroups {
		exists, err := p.groups.GroupExists(ctx, group)
		if err != nil {
			return err
		}
		if !exists {
			stats.Errors = append(stats.Errors, fmt.Errorf("default group %q does not exist", group))
			continue
		}
		if err := p.groups.AddMember(ctx, group, pr.Login); err != nil {
			return err
		}
		stats.MembershipsAdded++
	}
	return nil
}

func (p *Puller) applyUpdate(ctx context.Context, stats *Stats, local *principal.Principal, remote reconcile.RemoteEntry) error {
	local.Login = remote.Login
	local.Attrs = remote.Attrs
	local.UpdatedAt = p.now()
	if err := p.principals.Update(ctx, local); err != nil {
		return err
	}
	stats.Updated++
	return nil
}

func (p *Puller) applyReactivate(ctx context.Context, stats *Stats, local *principal.Principal, remote reconcile.RemoteEntry) error {
	if err := local.Fire(principal.TransitionActivate); err != nil {
		return err
	}
	local.Login = remote.Login
	local.Attrs = remote.Attrs
	local.UpdatedAt = p.now()
	if err := p.principals.Update(ctx, local); err != nil {
		return err
	}
	stats.Reactivated++
	return nil
}

func (p *Puller) syncGroups(ctx context.Context, stats *Stats, raiseOnError bool) error {
	filter := p.cfg.GroupFilter
	if filter == "" {
		filter = "(objectClass=*)"
	}
	entries, err := p.client.Search(ctx, p.cfg.GroupBaseDN, filter,
		[]string{p.cfg.GroupNameAttr, p.cfg.GroupMemberAttr})
	if err != nil {
		return fmt.Errorf("enumerate groups for %s: %w", p.cfg.Name, err)
	}

	for _, entry := range entries {
		name := entry.Attr(p.cfg.GroupNameAttr)
		if name == "" {
			if err := p.rowError(stats, raiseOnError, fmt.Errorf("group entry %s has no %s", entry.DN, p.cfg.GroupNameAttr)); err != nil {
				return err
			}
			continue
		}
		exists, err := p.groups.GroupExists(ctx, name)
		if err != nil {
			return err
		}
		if !exists {
			if err := p.groups.CreateGroup(ctx, name); err != nil {
				if err := p.rowError(stats, raiseOnError, fmt.Errorf("create group %q: %w", name, err)); err != nil {
					return err
				}
				continue
			}
			stats.GroupsCreated++
		}
		if err := p.syncMembership(ctx, stats, name, entry.Attrs[p.cfg.GroupMemberAttr]); err != nil {
			if err := p.rowError(stats, raiseOnError, fmt.Errorf("sync group %q: %w", name, err)); err != nil {
				return err
			}
		}
	}
	return nil
}

// syncMembership diffs the remote member list against the feed-owned part of
// the local membership. Members the local store owns (or another source
// manages) are out of the feed's scope and never removed here; a group that
// ends up empty remains a group.
func (p *Puller) syncMembership(ctx context.Context, stats *Stats, group string, remoteMembers []string) error {
	desired := make([]string, 0, len(remoteMembers))
	for _, login := range pstrings.Dedupe(remoteMembers) {
		mirrored, err := p.ownedBySource(ctx, login)
		if err != nil {
			return err
		}
		if mirrored {
			desired = append(desired, login)
		}
	}

	currentAll, err := p.groups.Members(ctx, group)
	if err != nil {
		return err
	}
	current := make([]string, 0, len(currentAll))
	for _, login := range currentAll {
		mirrored, err := p.ownedBySource(ctx, login)
		if err != nil {
			return err
		}
		if mirrored {
			current = append(current, login)
		}
	}

	add, remove := reconcile.DiffMembers(current, desired)
	for _, login := range add {
		if err := p.groups.AddMember(ctx, group, login); err != nil {
			return err
		}
		stats.MembershipsAdded++
	}
	for _, login := range remove {
		if err := p.groups.RemoveMember(ctx, group, login); err != nil {
			return err
		}
		stats.MembershipsRemoved++
	}
	return nil
}

func (p *Puller) ownedBySource(ctx context.Context, login string) (bool, error) {
	pr, err := p.principals.ByLogin(ctx, login)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return pr.Source == p.cfg.Name, nil
}

func (p *Puller) mapEntry(entry directory.Entry) (reconcile.RemoteEntry, error) {
	remote := reconcile.RemoteEntry{
		ExternalID: directory.NormalizeDN(entry.DN),
		Attrs:      make(map[string]string),
	}
	for remoteAttr, localAttr := range p.cfg.UserAttrsMap {
		value := entry.Attr(remoteAttr)
		if localAttr == "login" {
			remote.Login = value
			continue
		}
		if value != "" {
			remote.Attrs[localAttr] = value
		}
	}
	if remote.Login == "" {
		return reconcile.RemoteEntry{}, fmt.Errorf("entry %s has no login attribute", entry.DN)
	}
	return remote, nil
}

func (p *Puller) userAttrs() []string {
	attrs := make([]string, 0, len(p.cfg.UserAttrsMap))
	for remoteAttr := range p.cfg.UserAttrsMap {
		attrs = append(attrs, remoteAttr)
	}
	return attrs
}

func (p *Puller) observe(stats *Stats, result string) {
	if p.metrics == nil {
		return
	}
	p.metrics.PullPasses.WithLabelValues(p.cfg.Name, result).Inc()
	m := p.metrics.PullMutations
	m.WithLabelValues(p.cfg.Name, "created").Add(float64(stats.Created))
	m.WithLabelValues(p.cfg.Name, "updated").Add(float64(stats.Updated))
	m.WithLabelValues(p.cfg.Name, "deactivated").Add(float64(stats.Deactivated))
	m.WithLabelValues(p.cfg.Name, "reactivated").Add(float64(stats.Reactivated))
}

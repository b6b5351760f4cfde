// Package activation redeems registration codes.
//
// An attempt moves through LOOKUP, AMBIGUITY_CHECK, ELIGIBILITY_CHECK,
// COMMIT and PROPAGATE, and every state can end it early. Callers only ever
// see the four Outcome values; the reason a code was refused goes to the
// logs, the audit trail and metrics, never back to the caller.
//
// Exactly-once use: the commit is a single conditional update whose filter
// carries the eligibility gates themselves (active, window, room left, user
// not yet listed). A redemption that is still valid when its write lands
// always succeeds, however many others commit around it. When the write
// matches nothing, the engine reloads the record and runs the gates again to
// learn why; only a record that changed and changed back in between is
// retried.
//
// Propagation happens after the commit and never undoes it. A fault on a
// membership target is logged and the outcome stays Success.
package activation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dalemusser/regcodes/internal/app/system/auditlog"
	"github.com/dalemusser/regcodes/internal/app/system/eligibility"
	"github.com/dalemusser/regcodes/internal/app/system/metrics"
	"github.com/dalemusser/regcodes/internal/app/system/propagation"
	"github.com/dalemusser/regcodes/internal/app/system/timeouts"
	"github.com/dalemusser/regcodes/internal/app/system/userref"
	"github.com/dalemusser/regcodes/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Outcome is the caller-facing result of an activation.
type Outcome int

const (
	Error Outcome = iota
	Success
	NoResult
	MultipleResults
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return auditlog.OutcomeSuccess
	case NoResult:
		return auditlog.OutcomeNoResult
	case MultipleResults:
		return auditlog.OutcomeMultipleResults
	default:
		return auditlog.OutcomeError
	}
}

// DefaultMaxAttempts bounds the commit retry loop.
const DefaultMaxAttempts = 8

// Internal reasons for non-success outcomes, beyond the eligibility gates.
const (
	reasonBlankCode   = "blank_code"
	reasonBadUser     = "invalid_user"
	reasonNotFound    = "not_found"
	reasonAmbiguous   = "ambiguous"
	reasonLookupFault = "lookup_fault"
	reasonLoadFault   = "load_fault"
	reasonCommitFault = "commit_fault"
	reasonContention  = "commit_contention"
)

const codePrefixLength = 4

var errContention = errors.New("record kept changing during commit")

// Repository is the slice of the code store the engine needs.
type Repository interface {
	FindActiveIDsByCode(ctx context.Context, workspaceID primitive.ObjectID, code string) ([]primitive.ObjectID, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (models.RegistrationCode, error)
	RecordUse(ctx context.Context, id primitive.ObjectID, code, userRef string, now time.Time) (bool, error)
}

// Propagator grants the memberships a redeemed record carries.
type Propagator interface {
	Grant(ctx context.Context, userRef string, current models.Workspace, wikis, groups []string) propagation.Report
}

// Auditor records activation attempts.
type Auditor interface {
	Redemption(ctx context.Context, r auditlog.Redemption)
}

// Request is one activation attempt.
type Request struct {
	Code      string
	UserRef   string           // "ws:login" or "login" (taken to live in Workspace)
	Workspace models.Workspace // the workspace the code is presented in

	ClientIP  string
	UserAgent string
}

type Engine struct {
	Repo       Repository
	Propagator Propagator
	Audit      Auditor
	Log        *zap.Logger

	// Now is the engine's clock. Defaults to time.Now.
	Now func() time.Time
	// MaxAttempts bounds commit retries when a write matched nothing but the
	// reloaded record still looks eligible.
	MaxAttempts int
}

func New(repo Repository, prop Propagator, audit Auditor, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		Repo:        repo,
		Propagator:  prop,
		Audit:       audit,
		Log:         logger,
		Now:         time.Now,
		MaxAttempts: DefaultMaxAttempts,
	}
}

// attempt carries the diagnostics of one Activate call.
type attempt struct {
	req     Request
	user    string
	record  string
	reason  string
	matches int
	err     error
}

// Activate redeems req.Code for req.UserRef in req.Workspace.
func (e *Engine) Activate(ctx context.Context, req Request) Outcome {
	start := time.Now()
	a := &attempt{req: req}
	out := e.activate(ctx, a)
	e.finish(ctx, a, out, time.Since(start))
	return out
}

func (e *Engine) activate(ctx context.Context, a *attempt) Outcome {
	code := strings.TrimSpace(a.req.Code)
	if code == "" {
		a.reason = reasonBlankCode
		return NoResult
	}

	ref, err := userref.Parse(a.req.UserRef)
	if err != nil {
		a.reason, a.err = reasonBadUser, err
		return Error
	}
	a.user = ref.Qualify(a.req.Workspace.Subdomain).String()

	// LOOKUP
	ids, err := e.Repo.FindActiveIDsByCode(ctx, a.req.Workspace.ID, code)
	if err != nil {
		a.reason, a.err = reasonLookupFault, err
		return Error
	}

	// AMBIGUITY_CHECK
	switch len(ids) {
	case 0:
		a.reason = reasonNotFound
		return NoResult
	case 1:
	default:
		a.reason, a.matches = reasonAmbiguous, len(ids)
		return MultipleResults
	}

	// ELIGIBILITY_CHECK + COMMIT
	rec, out := e.commit(ctx, a, ids[0], code)
	if out != Success {
		return out
	}

	// PROPAGATE
	e.propagate(ctx, a, rec)
	return Success
}

// commit evaluates and records the use. The write itself enforces the gates,
// so a miss is followed by a reload that tells NoResult from a record that
// only moved under us.
func (e *Engine) commit(ctx context.Context, a *attempt, id primitive.ObjectID, code string) (models.RegistrationCode, Outcome) {
	attempts := e.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}

	rec, err := e.Repo.GetByID(ctx, id)
	if err != nil {
		a.reason, a.err = reasonLoadFault, err
		return models.RegistrationCode{}, Error
	}
	a.record = rec.Reference

	for i := 0; i < attempts; i++ {
		now := e.now()
		if res := eligibility.Check(rec, code, a.user, now); !res.OK() {
			a.reason = string(res.Reason)
			return rec, NoResult
		}

		ok, err := e.Repo.RecordUse(ctx, rec.ID, code, a.user, now)
		if err != nil {
			a.reason, a.err = reasonCommitFault, err
			return rec, Error
		}
		if ok {
			rec.Users = append(rec.Users, a.user)
			return rec, Success
		}

		metrics.IncCommitConflict()
		e.Log.Debug("registration code changed during commit, re-evaluating",
			zap.String("record", rec.Reference),
			zap.String("user", a.user),
			zap.Int("attempt", i+1))

		if rec, err = e.Repo.GetByID(ctx, id); err != nil {
			a.reason, a.err = reasonLoadFault, err
			return models.RegistrationCode{}, Error
		}
	}

	a.reason, a.err = reasonContention, errContention
	return models.RegistrationCode{}, Error
}

func (e *Engine) propagate(ctx context.Context, a *attempt, rec models.RegistrationCode) {
	if e.Propagator == nil || (len(rec.AddToWikis) == 0 && len(rec.AddToGroups) == 0) {
		return
	}

	// The use is committed; the grants must not be cut short by the caller
	// going away.
	pctx, cancel := timeouts.WithTimeout(context.WithoutCancel(ctx), timeouts.Medium(), e.Log, "membership propagation")
	defer cancel()

	rep := e.Propagator.Grant(pctx, a.user, a.req.Workspace, rec.AddToWikis, rec.AddToGroups)
	if failed := rep.Failed(); len(failed) > 0 {
		e.Log.Warn("registration code redeemed with membership faults",
			zap.String("record", rec.Reference),
			zap.String("user", a.user),
			zap.String("workspace", a.req.Workspace.Subdomain),
			zap.Int("failed_targets", len(failed)))
	}
}

func (e *Engine) finish(ctx context.Context, a *attempt, out Outcome, took time.Duration) {
	metrics.ObserveActivation(out.String(), took)
	if out != Success {
		metrics.ObserveRejection(a.reason)
	}

	fields := []zap.Field{
		zap.String("outcome", out.String()),
		zap.String("code_prefix", codePrefix(a.req.Code)),
		zap.String("user", a.user),
		zap.String("workspace", a.req.Workspace.Subdomain),
	}
	if a.record != "" {
		fields = append(fields, zap.String("record", a.record))
	}
	if a.reason != "" {
		fields = append(fields, zap.String("reason", a.reason))
	}

	switch out {
	case Success:
		e.Log.Info("registration code redeemed", fields...)
	case NoResult:
		e.Log.Info("registration code rejected", fields...)
	case MultipleResults:
		e.Log.Warn("several active registration codes share a code; rejecting activation",
			append(fields, zap.Int("matches", a.matches))...)
	default:
		e.Log.Error("registration code activation failed", append(fields, zap.Error(a.err))...)
	}

	if e.Audit != nil {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeouts.Short())
		defer cancel()
		user := a.user
		if user == "" {
			user = strings.TrimSpace(a.req.UserRef)
		}
		e.Audit.Redemption(actx, auditlog.Redemption{
			WorkspaceID: a.req.Workspace.ID,
			User:        user,
			Record:      a.record,
			CodePrefix:  codePrefix(a.req.Code),
			ClientIP:    a.req.ClientIP,
			UserAgent:   a.req.UserAgent,
			Outcome:     out.String(),
			Reason:      a.reason,
			Matches:     a.matches,
		})
	}
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

// codePrefix returns at most the first few characters of the trimmed code,
// enough to correlate log lines without writing the secret down.
func codePrefix(code string) string {
	r := []rune(strings.TrimSpace(code))
	if len(r) > codePrefixLength {
		r = r[:codePrefixLength]
	}
	return string(r)
}

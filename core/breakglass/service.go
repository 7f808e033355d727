package breakglass

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/trezcool/masomo-breakglass/core"
	"github.com/trezcool/masomo-breakglass/core/audit"
	"github.com/trezcool/masomo-breakglass/core/user"
)

const (
	statusTemporaryAdmin = "temporary admin"
	statusPermanentAdmin = "permanent admin"

	msgInvalidPromotionCode = "invalid promotion code"
	msgInvalidSecretCode    = "invalid secret code"

	reasonNoSession = "not a temporary admin"
	reasonWrongCode = "code mismatch"
)

var (
	nowFunc = time.Now // mockable

	errNotFaculty      = core.NewInvalidStateError("only a faculty member can be escalated")
	errActivatorAbsent = core.NewNotFoundError("activating user")
	errReasonBlank     = core.NewValidationError(
		errors.New("a reason is required"),
		core.FieldError{Field: "reason", Error: "this field cannot be blank"},
	)
	errNotExpired = errors.New("session not expired")
)

type (
	// RoleStore reads and replaces user role sets. Satisfied by *user.Service.
	RoleStore interface {
		GetByID(ctx context.Context, id string, exec ...core.DBExecutor) (user.User, error)
		LockForUpdate(ctx context.Context, id string, exec core.DBExecutor) (user.User, error)
		SetRoles(ctx context.Context, id string, roles []string, exec ...core.DBExecutor) error
	}

	// AuditLogger is satisfied by *audit.Service.
	AuditLogger interface {
		LogAction(ctx context.Context, entry audit.Entry)
	}

	Metrics interface {
		ObserveTransition(action, status string)
	}

	Service struct {
		tx      core.Transactor
		repo    Repository
		roles   RoleStore
		auditor AuditLogger
		logger  core.Logger
		metrics Metrics
		creds   *CredentialStore
		sealer  *Sealer
		ttl     time.Duration
	}
)

func NewService(
	conf *core.Config,
	tx core.Transactor,
	repo Repository,
	roles RoleStore,
	auditor AuditLogger,
	logger core.Logger,
	metrics Metrics,
) *Service {
	return &Service{
		tx:      tx,
		repo:    repo,
		roles:   roles,
		auditor: auditor,
		logger:  logger,
		metrics: metrics,
		creds:   NewCredentialStore(conf.BreakGlass.HashCost),
		sealer:  NewSealer(conf.SecretKey),
		ttl:     conf.BreakGlass.SessionTTL,
	}
}

// Activate escalates a faculty member to admin and returns the two one-time codes.
// Activating an escalated user again refreshes the session and its codes but keeps the original roles.
func (svc *Service) Activate(ctx context.Context, facultyUserID, reason, activatedBy string) (Codes, error) {
	codes, err := svc.activate(ctx, facultyUserID, reason, activatedBy)
	if err != nil {
		svc.metrics.ObserveTransition(ActionActivated, audit.StatusFailed)
		if _, ok := errors.Cause(err).(*core.PersistenceError); !ok {
			svc.logger.Warn(
				fmt.Sprintf("break-glass activation rejected: %v", err),
				map[string]interface{}{"user_id": facultyUserID, "activated_by": activatedBy},
			)
		}
		return Codes{}, err
	}
	svc.metrics.ObserveTransition(ActionActivated, audit.StatusSuccess)
	return codes, nil
}

func (svc *Service) activate(ctx context.Context, facultyUserID, reason, activatedBy string) (Codes, error) {
	target, err := svc.roles.GetByID(ctx, facultyUserID)
	if err != nil {
		return Codes{}, classify(err, "finding user")
	}
	if !target.HasOnlyRoles(user.RoleFaculty) {
		active, err := svc.IsActive(ctx, target.ID)
		if err != nil {
			return Codes{}, err
		}
		if !active {
			return Codes{}, errNotFaculty
		}
	}
	reason = core.CleanString(reason)
	if reason == "" {
		return Codes{}, errReasonBlank
	}
	activator, err := svc.roles.GetByID(ctx, activatedBy)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return Codes{}, errActivatorAbsent
		}
		return Codes{}, classify(err, "finding activating user")
	}

	var codes Codes
	if codes.SecretCode, err = codeGenFunc(); err != nil {
		return Codes{}, core.NewPersistenceError(errors.Wrap(err, "generating secret code"))
	}
	if codes.PromotionCode, err = codeGenFunc(); err != nil {
		return Codes{}, core.NewPersistenceError(errors.Wrap(err, "generating promotion code"))
	}
	sess := Session{
		UserID:      target.ID,
		Reason:      reason,
		ActivatedBy: activator.ID,
	}
	if sess.SecretCodeHash, err = svc.creds.Hash(codes.SecretCode); err != nil {
		return Codes{}, core.NewPersistenceError(err)
	}
	if sess.PromotionCodeHash, err = svc.creds.Hash(codes.PromotionCode); err != nil {
		return Codes{}, core.NewPersistenceError(err)
	}
	if sess.PromotionCodeSealed, err = svc.sealer.Seal(codes.PromotionCode); err != nil {
		return Codes{}, core.NewPersistenceError(err)
	}

	now := nowFunc().UTC()
	sess.ActivatedAt = now
	sess.UpdatedAt = now
	if svc.ttl > 0 {
		expiresAt := now.Add(svc.ttl)
		sess.ExpiresAt = &expiresAt
	}

	var rolesBefore []string
	var reactivation bool
	err = svc.tx.RunInTx(ctx, func(exec core.DBExecutor) error {
		locked, err := svc.roles.LockForUpdate(ctx, target.ID, exec)
		if err != nil {
			return errors.Wrap(err, "locking user")
		}
		existing, err := svc.repo.GetSession(ctx, target.ID, exec)
		switch {
		case err == nil:
			reactivation = true
			sess.OriginalRoles = existing.OriginalRoles
		case errors.Cause(err) == ErrNoSession:
			if !locked.HasOnlyRoles(user.RoleFaculty) {
				return errNotFaculty
			}
			sess.OriginalRoles = user.NormalizeRoles(locked.Roles)
		default:
			return errors.Wrap(err, "reading session")
		}
		rolesBefore = locked.Roles

		if err = svc.roles.SetRoles(ctx, target.ID, []string{user.RoleAdmin}, exec); err != nil {
			return errors.Wrap(err, "setting roles")
		}
		if _, err = svc.repo.UpsertSession(ctx, sess, exec); err != nil {
			return errors.Wrap(err, "saving session")
		}
		return nil
	})
	if err != nil {
		return Codes{}, classify(err, "activating break-glass")
	}

	metadata := map[string]interface{}{"reactivation": reactivation}
	if sess.ExpiresAt != nil {
		metadata["expires_at"] = *sess.ExpiresAt
	}
	svc.auditor.LogAction(ctx, audit.Entry{
		UserID:   activator.ID,
		TargetID: target.ID,
		Action:   ActionActivated,
		Before:   target.Snapshot(rolesBefore),
		After:    target.Snapshot([]string{user.RoleAdmin}),
		Reason:   reason,
		Status:   audit.StatusSuccess,
		Metadata: metadata,
	})
	return codes, nil
}

// Deactivate restores the original roles of an escalated user. It is a no-op for a user not in break-glass mode.
// An empty deactivatedBy records a system action.
func (svc *Service) Deactivate(ctx context.Context, userID, deactivatedBy string) error {
	_, err := svc.end(ctx, userID, deactivatedBy, ActionDeactivated, nil)
	return err
}

// Release lets an escalated user end their own session with the secret code.
func (svc *Service) Release(ctx context.Context, userID, secretCode string) error {
	if _, err := svc.repo.GetSession(ctx, userID); err != nil {
		if errors.Cause(err) != ErrNoSession {
			return classify(err, "reading session")
		}
		svc.creds.Burn(secretCode)
		return svc.credentialFailure(ctx, userID, userID, ActionReleased, msgInvalidSecretCode, reasonNoSession)
	}

	ended, err := svc.end(ctx, userID, userID, ActionReleased, func(sess Session) error {
		return svc.verify(secretCode, sess.SecretCodeHash, msgInvalidSecretCode)
	})
	if err != nil {
		if credErr, ok := errors.Cause(err).(*core.CredentialError); ok {
			return svc.credentialFailure(ctx, userID, userID, ActionReleased, credErr.Error(), credErr.Reason)
		}
		return err
	}
	if !ended { // deactivated concurrently
		return svc.credentialFailure(ctx, userID, userID, ActionReleased, msgInvalidSecretCode, reasonNoSession)
	}
	return nil
}

// PromoteToPermanentAdmin turns a temporary escalation into a permanent admin role.
// A missing session and a wrong code fail the same way.
func (svc *Service) PromoteToPermanentAdmin(ctx context.Context, userID, promotionCode, promotedBy string) error {
	if _, err := svc.repo.GetSession(ctx, userID); err != nil {
		if errors.Cause(err) != ErrNoSession {
			return classify(err, "reading session")
		}
		svc.creds.Burn(promotionCode)
		return svc.credentialFailure(ctx, promotedBy, userID, ActionPromote, msgInvalidPromotionCode, reasonNoSession)
	}

	var (
		locked      user.User
		rolesBefore []string
		rolesAfter  []string
	)
	err := svc.tx.RunInTx(ctx, func(exec core.DBExecutor) error {
		var err error
		if locked, err = svc.roles.LockForUpdate(ctx, userID, exec); err != nil {
			return errors.Wrap(err, "locking user")
		}
		sess, err := svc.repo.GetSession(ctx, userID, exec)
		if err != nil {
			if errors.Cause(err) == ErrNoSession {
				return core.NewCredentialError(msgInvalidPromotionCode, reasonNoSession)
			}
			return errors.Wrap(err, "reading session")
		}
		if err = svc.verify(promotionCode, sess.PromotionCodeHash, msgInvalidPromotionCode); err != nil {
			return err
		}

		rolesBefore = locked.Roles
		rolesAfter = user.NormalizeRoles(append(append([]string{}, locked.Roles...), user.RoleAdmin))
		if err = svc.roles.SetRoles(ctx, userID, rolesAfter, exec); err != nil {
			return errors.Wrap(err, "setting roles")
		}
		if err = svc.repo.DeleteSession(ctx, userID, exec); err != nil {
			return errors.Wrap(err, "deleting session")
		}
		return nil
	})
	if err != nil {
		if credErr, ok := errors.Cause(err).(*core.CredentialError); ok {
			return svc.credentialFailure(ctx, promotedBy, userID, ActionPromote, credErr.Error(), credErr.Reason)
		}
		svc.metrics.ObserveTransition(ActionPromote, audit.StatusFailed)
		return classify(err, "promoting user")
	}

	before := locked.Snapshot(rolesBefore)
	before["status"] = statusTemporaryAdmin
	after := locked.Snapshot(rolesAfter)
	after["status"] = statusPermanentAdmin
	svc.auditor.LogAction(ctx, audit.Entry{
		UserID:   promotedBy,
		TargetID: userID,
		Action:   ActionPromote,
		Before:   before,
		After:    after,
		Status:   audit.StatusSuccess,
	})
	svc.metrics.ObserveTransition(ActionPromote, audit.StatusSuccess)
	return nil
}

// IsActive reports whether the user is in break-glass mode.
func (svc *Service) IsActive(ctx context.Context, userID string) (bool, error) {
	sess, err := svc.GetSession(ctx, userID)
	if err != nil {
		return false, err
	}
	return sess != nil, nil
}

// GetSession returns nil, nil when the user is not in break-glass mode.
func (svc *Service) GetSession(ctx context.Context, userID string) (*Session, error) {
	sess, err := svc.repo.GetSession(ctx, userID)
	if err != nil {
		if errors.Cause(err) == ErrNoSession {
			return nil, nil
		}
		return nil, classify(err, "reading session")
	}
	return &sess, nil
}

// ListSessions returns every open break-glass session, oldest activation first.
func (svc *Service) ListSessions(ctx context.Context) ([]Session, error) {
	sessions, err := svc.repo.QuerySessions(ctx)
	if err != nil {
		return nil, classify(err, "querying sessions")
	}
	return sessions, nil
}

// RevealPromotionCode opens the sealed display copy of the current promotion code.
func (svc *Service) RevealPromotionCode(ctx context.Context, userID string) (string, error) {
	sess, err := svc.repo.GetSession(ctx, userID)
	if err != nil {
		return "", classify(err, "reading session")
	}
	code, err := svc.sealer.Open(sess.PromotionCodeSealed)
	if err != nil {
		svc.logger.Error("opening sealed promotion code", err, map[string]interface{}{"user_id": userID})
		return "", errInvalidSessionState
	}
	return code, nil
}

// SweepExpired deactivates every session expired at now. It returns the number of sessions ended.
// A failing session does not stop the sweep: all errors are returned together.
func (svc *Service) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	sessions, err := svc.repo.QueryExpiredSessions(ctx, now)
	if err != nil {
		return 0, classify(err, "querying expired sessions")
	}

	var cnt int
	var errs error
	for _, s := range sessions {
		ended, err := svc.end(ctx, s.UserID, "", ActionExpired, func(sess Session) error {
			if !sess.Expired(now) { // re-activated in the meantime
				return errNotExpired
			}
			return nil
		})
		switch {
		case err == nil && ended:
			cnt++
		case err != nil && errors.Cause(err) != errNotExpired:
			errs = multierr.Append(errs, errors.Wrapf(err, "sweeping session of user %s", s.UserID))
		}
	}
	return cnt, errs
}

// end runs the locked exit from break-glass mode shared by deactivation, release and expiry:
// check (if any) runs against the session read under the lock, then the original roles are restored
// and the session is deleted in the same transaction. ended is false when there was no session to end.
func (svc *Service) end(ctx context.Context, userID, actorID, action string, check func(Session) error) (bool, error) {
	if _, err := svc.repo.GetSession(ctx, userID); err != nil {
		if errors.Cause(err) == ErrNoSession {
			return false, nil
		}
		return false, classify(err, "reading session")
	}

	var (
		locked user.User
		sess   Session
		ended  bool
	)
	err := svc.tx.RunInTx(ctx, func(exec core.DBExecutor) error {
		var err error
		if locked, err = svc.roles.LockForUpdate(ctx, userID, exec); err != nil {
			return errors.Wrap(err, "locking user")
		}
		if sess, err = svc.repo.GetSession(ctx, userID, exec); err != nil {
			if errors.Cause(err) == ErrNoSession {
				return nil
			}
			return errors.Wrap(err, "reading session")
		}
		if check != nil {
			if err = check(sess); err != nil {
				return err
			}
		}
		if err = svc.roles.SetRoles(ctx, userID, sess.OriginalRoles, exec); err != nil {
			return errors.Wrap(err, "restoring roles")
		}
		if err = svc.repo.DeleteSession(ctx, userID, exec); err != nil {
			return errors.Wrap(err, "deleting session")
		}
		ended = true
		return nil
	})
	if err != nil {
		cause := errors.Cause(err)
		if cause == errNotExpired {
			return false, err
		}
		if _, ok := cause.(*core.CredentialError); !ok { // credential failures are reported by the caller
			svc.metrics.ObserveTransition(action, audit.StatusFailed)
		}
		return false, classify(err, "ending break-glass")
	}
	if !ended {
		return false, nil
	}

	svc.auditor.LogAction(ctx, audit.Entry{
		UserID:   actorID,
		TargetID: userID,
		Action:   action,
		Before:   locked.Snapshot(locked.Roles),
		After:    locked.Snapshot(sess.OriginalRoles),
		Reason:   sess.Reason,
		Status:   audit.StatusSuccess,
		Metadata: map[string]interface{}{"activated_at": sess.ActivatedAt, "activated_by": sess.ActivatedBy},
	})
	svc.metrics.ObserveTransition(action, audit.StatusSuccess)
	return true, nil
}

// verify turns a code mismatch into a CredentialError carrying the public message msg.
func (svc *Service) verify(code, hash, msg string) error {
	ok, err := svc.creds.Verify(code, hash)
	if err != nil {
		return err
	}
	if !ok {
		return core.NewCredentialError(msg, reasonWrongCode)
	}
	return nil
}

// credentialFailure records a failed code check and returns the error shown to the caller.
func (svc *Service) credentialFailure(ctx context.Context, actorID, userID, action, msg, reason string) error {
	svc.auditor.LogAction(ctx, audit.Entry{
		UserID:   actorID,
		TargetID: userID,
		Action:   action,
		Status:   audit.StatusFailed,
		Metadata: map[string]interface{}{"failure": reason},
	})
	svc.metrics.ObserveTransition(action, audit.StatusFailed)
	return core.NewCredentialError(msg, reason)
}

// classify keeps typed errors as they are and turns anything else into a PersistenceError.
func classify(err error, msg string) error {
	if core.IsDomainError(err) {
		return err
	}
	return core.NewPersistenceError(errors.Wrap(err, msg))
}

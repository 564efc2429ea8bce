package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/platinummonkey/carebridge/pkg/apperrors"
	"github.com/platinummonkey/carebridge/pkg/audit"
	"github.com/platinummonkey/carebridge/pkg/httputil"
	"github.com/platinummonkey/carebridge/pkg/identity"
	"github.com/platinummonkey/carebridge/pkg/observability"
	"github.com/platinummonkey/carebridge/pkg/users"
)

// MaxPayloadBytes caps an inbound delivery body
const MaxPayloadBytes = 1 << 20

// Identity provider event types
const (
	EventUserCreated    = "user.created"
	EventUserUpdated    = "user.updated"
	EventUserDeleted    = "user.deleted"
	EventSessionCreated = "session.created"
	EventSessionEnded   = "session.ended"
	EventSessionRemoved = "session.removed"
)

// UserSyncer applies provider user changes locally. Both operations must be
// idempotent.
type UserSyncer interface {
	UpsertFromProvider(ctx context.Context, profile *identity.Profile) (*users.User, bool, error)
	DeleteFromProvider(ctx context.Context, subjectID string) error
}

// IdentityHandler receives identity provider callbacks
type IdentityHandler struct {
	verifier *Verifier
	coord    *Coordinator
	syncer   UserSyncer
	recorder audit.Recorder
	logger   *observability.Logger
}

func NewIdentityHandler(verifier *Verifier, coord *Coordinator, syncer UserSyncer, recorder audit.Recorder, logger *observability.Logger) *IdentityHandler {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &IdentityHandler{
		verifier: verifier,
		coord:    coord,
		syncer:   syncer,
		recorder: recorder,
		logger:   logger.Component("webhooks"),
	}
}

type sessionData struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
}

type deletedData struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

// ServeHTTP handles POST /api/webhooks/identity
func (h *IdentityHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	meta := audit.MetaFromRequest(r)

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxPayloadBytes+1))
	if err != nil {
		httputil.WriteBadRequest(w, "Failed to read payload")
		return
	}
	if len(body) > MaxPayloadBytes {
		httputil.WriteErrorMessage(w, http.StatusRequestEntityTooLarge, "Payload too large")
		return
	}

	env, err := h.verifier.Verify(body, r.Header)
	if err != nil {
		h.logger.WithError(err).WithField("ip", meta.IPAddress).Warn("webhook verification failed")
		h.recorder.Record(ctx, audit.NewEvent(audit.ActionWebhookVerificationFailed, audit.RiskHigh).
			WithMeta(meta).
			On(audit.ResourceWebhook, r.Header.Get(HeaderEventID)).
			Failed(err))
		httputil.WriteBadRequest(w, "Invalid webhook signature")
		return
	}

	log := h.logger.WithFields(map[string]interface{}{
		"event_id":   env.ID,
		"event_type": env.Type,
	})

	if !h.handles(env.Type) {
		log.Debug("ignoring webhook event")
		httputil.WriteSuccessMessage(w, "ignored")
		return
	}

	res, err := h.coord.ProcessEvent(ctx, env.ID, env.Type, env.Data, h.apply(meta))
	switch {
	case err == nil && res.Outcome == OutcomeWillRetry:
		httputil.WriteWarning(w, "processing failed, retry scheduled")
	case err == nil:
		httputil.WriteSuccessMessage(w, "processed")
	case expected(err):
		// duplicates and stale references must not trigger provider redelivery
		log.WithError(err).Info("webhook event not applied")
		httputil.WriteWarning(w, err.Error())
	default:
		log.WithError(err).Error("webhook processing failed")
		httputil.WriteInternalError(w, "Webhook processing failed")
	}
}

func (h *IdentityHandler) handles(eventType string) bool {
	switch eventType {
	case EventUserCreated, EventUserUpdated, EventUserDeleted,
		EventSessionCreated, EventSessionEnded, EventSessionRemoved:
		return true
	}
	return false
}

func (h *IdentityHandler) apply(meta audit.RequestMeta) EventHandler {
	return func(ctx context.Context, eventType string, payload json.RawMessage) error {
		switch eventType {
		case EventUserCreated, EventUserUpdated:
			profile, err := identity.ParseProfile(payload)
			if err != nil {
				return apperrors.Validation(err.Error())
			}
			_, _, err = h.syncer.UpsertFromProvider(ctx, profile)
			return err

		case EventUserDeleted:
			var d deletedData
			if err := json.Unmarshal(payload, &d); err != nil || d.ID == "" {
				return apperrors.Validation("invalid user.deleted payload")
			}
			return h.syncer.DeleteFromProvider(ctx, d.ID)

		case EventSessionCreated, EventSessionEnded, EventSessionRemoved:
			var s sessionData
			if err := json.Unmarshal(payload, &s); err != nil || s.UserID == "" {
				return apperrors.Validation("invalid session payload")
			}
			action := audit.ActionLogout
			if eventType == EventSessionCreated {
				action = audit.ActionLogin
			}
			h.recorder.Record(ctx, audit.NewEvent(action, audit.RiskLow).
				WithMeta(meta).
				ForUser(s.UserID).
				On(audit.ResourceSession, s.ID).
				With("source", "webhook"))
			return nil
		}
		return fmt.Errorf("unhandled event type %s", eventType)
	}
}

// expected reports failures that are answered with 200 and a warning
func expected(err error) bool {
	var perr *ProcessingError
	if errors.As(err, &perr) {
		return false
	}
	return apperrors.IsKind(err, apperrors.KindConflict) ||
		apperrors.IsKind(err, apperrors.KindNotFound) ||
		apperrors.IsKind(err, apperrors.KindValidation)
}

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/platinummonkey/carebridge/pkg/apperrors"
	"github.com/platinummonkey/carebridge/pkg/auth"
	"github.com/platinummonkey/carebridge/pkg/contextkeys"
	"github.com/platinummonkey/carebridge/pkg/httputil"
	"github.com/platinummonkey/carebridge/pkg/provision"
	"github.com/platinummonkey/carebridge/pkg/users"
)

// PrincipalView is the token-derived half of /api/auth/me
type PrincipalView struct {
	Subject   string    `json:"subject"`
	SessionID string    `json:"session_id,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// MeResponse is returned by GET /api/auth/me
type MeResponse struct {
	User        *users.User   `json:"user"`
	Principal   PrincipalView `json:"principal"`
	Permissions []string      `json:"permissions"`
}

// ProfileResponse is returned by GET /api/users/{id}/profile
type ProfileResponse struct {
	User         *users.User         `json:"user"`
	Professional *users.Professional `json:"professional,omitempty"`
}

type selectRoleRequest struct {
	Role          users.Role `json:"role"`
	LicenseNumber string     `json:"license_number"`
	Specialty     string     `json:"specialty"`
}

type updateStatusRequest struct {
	Status users.Status `json:"status"`
}

// GET /api/auth/me
func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())

	perms := s.deps.Guard.Model().EffectivePermissions(ac.Role())
	names := make([]string, len(perms))
	for i, p := range perms {
		names[i] = string(p)
	}

	resp := MeResponse{User: ac.User, Permissions: names}
	if ac.Principal != nil {
		resp.Principal = PrincipalView{
			Subject:   ac.Principal.Subject,
			SessionID: ac.Principal.SessionID,
			ExpiresAt: ac.Principal.ExpiresAt,
		}
	}
	httputil.WriteSuccess(w, resp)
}

// POST /api/auth/select-role
func (s *Server) selectRole(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())

	var req selectRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	u, err := s.deps.Engine.SelectRole(r.Context(), ac.UserID(), req.Role, provision.RoleDetails{
		LicenseNumber: req.LicenseNumber,
		Specialty:     req.Specialty,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, u)
}

// GET /api/users/{id}/profile
func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	resp, err := s.loadProfile(r, pathID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, resp)
}

// GET /api/admin/users/{id}
func (s *Server) adminGetUser(w http.ResponseWriter, r *http.Request) {
	s.getProfile(w, r)
}

func (s *Server) loadProfile(r *http.Request, id string) (*ProfileResponse, error) {
	ctx := r.Context()
	u, err := s.deps.Users.GetByID(ctx, id)
	if errors.Is(err, users.ErrNotFound) {
		return nil, apperrors.NotFound("user not found")
	}
	if err != nil {
		return nil, err
	}

	resp := &ProfileResponse{User: u}
	if u.Role == users.RoleProfessional {
		pro, err := s.deps.Users.GetProfessional(ctx, id)
		if err != nil && !errors.Is(err, users.ErrNotFound) {
			return nil, err
		}
		resp.Professional = pro
	}
	return resp, nil
}

// PUT /api/admin/users/{id}/status
func (s *Server) adminUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	switch req.Status {
	case users.StatusActive, users.StatusInactive, users.StatusPendingValidation, users.StatusSuspended:
	default:
		httputil.WriteAppError(w, apperrors.Validation("invalid status"))
		return
	}

	ctx := r.Context()
	id := pathID(r)
	var updated *users.User
	err := s.deps.Users.WithTx(ctx, func(tx users.Tx) error {
		u, err := tx.GetByID(ctx, id)
		if errors.Is(err, users.ErrNotFound) {
			return apperrors.NotFound("user not found")
		}
		if err != nil {
			return err
		}
		if err := tx.UpdateRoleStatus(ctx, id, u.Role, req.Status); err != nil {
			return err
		}
		updated, err = tx.GetByID(ctx, id)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.WithFields(map[string]interface{}{
		"user_id": id,
		"status":  string(req.Status),
		"by":      contextkeys.GetUserID(r.Context()),
	}).Info("user status changed")
	httputil.WriteSuccess(w, updated)
}

// POST /api/admin/professionals/{id}/verify
func (s *Server) adminVerifyProfessional(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := pathID(r)

	var verified *ProfileResponse
	err := s.deps.Users.WithTx(ctx, func(tx users.Tx) error {
		u, err := tx.GetByID(ctx, id)
		if errors.Is(err, users.ErrNotFound) {
			return apperrors.NotFound("user not found")
		}
		if err != nil {
			return err
		}
		if u.Role != users.RoleProfessional {
			return apperrors.Validation("user is not a professional")
		}
		if u.Status != users.StatusPendingValidation {
			return apperrors.Conflict("professional is not awaiting validation")
		}

		pro, err := tx.GetProfessional(ctx, id)
		if errors.Is(err, users.ErrNotFound) || (err == nil && pro.LicenseNumber == "") {
			return apperrors.Validation("professional has no license number on file")
		}
		if err != nil {
			return err
		}

		if err := tx.UpdateRoleStatus(ctx, id, users.RoleProfessional, users.StatusActive); err != nil {
			return err
		}
		u.Status = users.StatusActive
		verified = &ProfileResponse{User: u, Professional: pro}
		return nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.WithFields(map[string]interface{}{
		"user_id": id,
		"by":      contextkeys.GetUserID(ctx),
	}).Info("professional verified")
	httputil.WriteSuccess(w, verified)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if apperrors.KindOf(err) == apperrors.KindInternal {
		s.logger.WithError(err).WithField("path", r.URL.Path).Error("request failed")
	}
	httputil.WriteAppError(w, err)
}

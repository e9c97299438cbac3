package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/stackauth"
	"github.com/MrEthical07/stackauth/middleware"
)

const maxBodyBytes = 1 << 20

// api adapts engine operations to JSON handlers.
type api struct {
	engine *stackauth.Engine
	outbox outbox
	logger *zap.Logger
}

type routeOptions struct {
	trustForwarded bool
	metricsPath    string
	metrics        http.Handler
}

func (a *api) routes(opts routeOptions) http.Handler {
	authn := middleware.Authenticate(a.engine)
	live := middleware.RequireSession(a.engine)
	staff := middleware.RequireRole(stackauth.RoleModerator, stackauth.RoleAdmin)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/register", a.register)
	mux.HandleFunc("POST /auth/login", a.login)
	mux.HandleFunc("POST /auth/refresh", a.refresh)
	mux.Handle("POST /auth/logout", authn(http.HandlerFunc(a.logout)))
	mux.Handle("GET /auth/profile", authn(http.HandlerFunc(a.profile)))
	mux.Handle("GET /auth/session", authn(live(http.HandlerFunc(a.session))))
	mux.HandleFunc("POST /auth/verify-email", a.verifyEmail)
	mux.Handle("POST /auth/verify-email/request", authn(http.HandlerFunc(a.requestVerification)))
	mux.HandleFunc("POST /auth/password/forgot", a.forgotPassword)
	mux.HandleFunc("POST /auth/password/reset", a.resetPassword)
	mux.Handle("POST /auth/password/change", authn(live(http.HandlerFunc(a.changePassword))))
	mux.Handle("GET /users/{id}", authn(staff(http.HandlerFunc(a.userProfile))))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.metrics != nil {
		mux.Handle("GET "+opts.metricsPath, opts.metrics)
	}

	return middleware.ClientInfo(opts.trustForwarded)(mux)
}

func (a *api) register(w http.ResponseWriter, r *http.Request) {
	var req stackauth.RegisterRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := a.engine.Register(r.Context(), req)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	a.deliver(r.Context(), kindEmailVerification, res.User.Email, res.VerificationToken)
	middleware.WriteJSON(w, http.StatusCreated, res)
}

func (a *api) login(w http.ResponseWriter, r *http.Request) {
	var req stackauth.LoginRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := a.engine.Login(r.Context(), req)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, res)
}

func (a *api) refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !decode(w, r, &req) {
		return
	}

	res, err := a.engine.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, res)
}

// logout ends the session named in the body or the X-Session-Token header,
// or every session of the caller when neither is present.
func (a *api) logout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionToken string `json:"sessionToken"`
	}
	if !decodeOptional(w, r, &req) {
		return
	}
	token := req.SessionToken
	if token == "" {
		token = r.Header.Get(middleware.SessionHeader)
	}

	caller, _ := middleware.IdentityFromContext(r.Context())
	res, err := a.engine.Logout(r.Context(), caller, token)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, res)
}

func (a *api) profile(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.IdentityFromContext(r.Context())
	a.writeProfile(w, r, caller.ID)
}

func (a *api) userProfile(w http.ResponseWriter, r *http.Request) {
	a.writeProfile(w, r, r.PathValue("id"))
}

func (a *api) writeProfile(w http.ResponseWriter, r *http.Request, userID string) {
	user, err := a.engine.Profile(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]stackauth.PublicUser{"user": user})
}

func (a *api) session(w http.ResponseWriter, _ *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, stackauth.MessageResult{Message: "Session active"})
}

func (a *api) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if !decode(w, r, &req) {
		return
	}

	res, err := a.engine.VerifyEmail(r.Context(), req.Token)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, res)
}

func (a *api) requestVerification(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.IdentityFromContext(r.Context())

	res, err := a.engine.RequestEmailVerification(r.Context(), caller.ID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	a.deliver(r.Context(), kindEmailVerification, caller.Email, res.Token)
	middleware.WriteJSON(w, http.StatusOK, res)
}

func (a *api) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decode(w, r, &req) {
		return
	}

	res, err := a.engine.RequestPasswordReset(r.Context(), req.Email)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	a.deliver(r.Context(), kindPasswordReset, strings.ToLower(strings.TrimSpace(req.Email)), res.Token)
	middleware.WriteJSON(w, http.StatusOK, res)
}

func (a *api) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if !decode(w, r, &req) {
		return
	}

	res, err := a.engine.ResetPassword(r.Context(), req.Token, req.NewPassword)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, res)
}

func (a *api) changePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OldPassword string `json:"oldPassword"`
		NewPassword string `json:"newPassword"`
	}
	if !decode(w, r, &req) {
		return
	}

	caller, _ := middleware.IdentityFromContext(r.Context())
	res, err := a.engine.ChangePassword(r.Context(), caller, req.OldPassword, req.NewPassword)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, res)
}

// deliver hands a freshly issued token to the outbox. Failures are logged
// and never change the response.
func (a *api) deliver(ctx context.Context, kind, email, token string) {
	if token == "" {
		return
	}
	msg := outboxMessage{Kind: kind, Email: email, Token: token, At: time.Now().UTC()}
	if err := a.outbox.Deliver(ctx, msg); err != nil {
		a.logger.Error("outbox delivery failed", zap.String("kind", kind), zap.Error(err))
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		middleware.WriteError(w, &stackauth.Error{Kind: stackauth.KindValidation, Message: "malformed request body"})
		return false
	}
	return true
}

// decodeOptional accepts an empty body.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		middleware.WriteError(w, &stackauth.Error{Kind: stackauth.KindValidation, Message: "malformed request body"})
		return false
	}
	return true
}

package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gatherhq/gather-ui-api/internal/domain/identity"
	apperrors "github.com/gatherhq/gather-ui-api/internal/errors"
	"github.com/gatherhq/gather-ui-api/internal/service"
)

// SessionService defines the session lifecycle operations the auth handlers need.
type SessionService interface {
	Snapshot() identity.Snapshot
	AwaitIdentity(ctx context.Context) (*identity.ResolvedIdentity, error)
	Login(ctx context.Context, email, password string) (*identity.ResolvedIdentity, error)
	Register(ctx context.Context, in service.RegisterInput) (*identity.ResolvedIdentity, error)
	SignInWithProvider(ctx context.Context, provider, redirectURL string, query url.Values) (authURL, state, nonce string, err error)
	CompleteOAuth(ctx context.Context, code, nonce string) (*identity.ResolvedIdentity, error)
	SignOut(ctx context.Context) error
	UpdateIdentity(ctx context.Context, patch identity.ProfilePatch) (*identity.ResolvedIdentity, error)
}

// RedirectService resolves the post-login landing destination.
type RedirectService interface {
	Route(ctx context.Context, id *identity.ResolvedIdentity, query url.Values) (string, error)
}

// IntentService stages pending intents captured before authentication.
type IntentService interface {
	StageJoinEvent(ctx context.Context, code string) error
	StageResumePurchase(ctx context.Context, path string) error
}

// AuthHandlers provides HTTP handlers for authentication operations.
type AuthHandlers struct {
	Sessions SessionService
	Router   RedirectService
	Intents  IntentService
	// CallbackURL is the absolute URL the identity provider redirects back to.
	CallbackURL  string
	CookieDomain string
	Logger       *slog.Logger
}

func (h *AuthHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Identity *identity.ResolvedIdentity `json:"identity"`
	Redirect string                     `json:"redirect"`
}

// Login handles the password sign-in endpoint.
// POST /auth/login.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	id, err := h.Sessions.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.logger().WarnContext(r.Context(), "login failed", "error", err)
		WriteAppError(w, err)
		return
	}

	redirect, err := h.Router.Route(r.Context(), id, r.URL.Query())
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, sessionResponse{Identity: id, Redirect: redirect})
}

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

// Register handles the sign-up endpoint.
// POST /auth/register.
func (h *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	var role identity.Role
	if req.Role != "" {
		role = identity.ParseRole(req.Role)
	}

	id, err := h.Sessions.Register(r.Context(), service.RegisterInput{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		Role:        role,
	})
	if err != nil {
		h.logger().WarnContext(r.Context(), "registration failed", "error", err)
		WriteAppError(w, err)
		return
	}

	redirect, err := h.Router.Route(r.Context(), id, r.URL.Query())
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, sessionResponse{Identity: id, Redirect: redirect})
}

// OAuthStart begins a federated sign-in and redirects to the identity provider.
// GET /auth/oauth/start?provider=<name>&redirect_uri=<optional_redirect>.
func (h *AuthHandlers) OAuthStart(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	provider := query.Get("provider")
	if provider == "" {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "missing_provider",
			Err:     errors.New("provider query parameter is required"),
		})
		return
	}

	redirectURI := safeRedirectPath(query.Get("redirect_uri"))

	authURL, state, nonce, err := h.Sessions.SignInWithProvider(r.Context(), provider, h.CallbackURL, query)
	if err != nil {
		WriteError(w, ErrorParams{
			Code:    http.StatusInternalServerError,
			ErrCode: "oauth_start_failed",
			Err:     err,
		})
		return
	}

	h.setOAuthCookies(w, r, oauthCookieParams{State: state, Nonce: nonce, RedirectURI: redirectURI})

	http.Redirect(w, r, authURL, http.StatusFound)
}

// OAuthCallback finishes a federated sign-in and redirects to the resolved
// landing destination.
// GET /auth/callback?code=<code>&state=<state>.
func (h *AuthHandlers) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if errParam := query.Get("error"); errParam != "" {
		h.logger().WarnContext(r.Context(), "oauth provider returned error",
			"error", errParam, "description", query.Get("error_description"))
		h.clearOAuthCookies(w, r)
		http.Redirect(w, r, "/signin?error="+url.QueryEscape(errParam), http.StatusSeeOther)
		return
	}

	code := query.Get("code")
	state := query.Get("state")
	if code == "" || state == "" {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "invalid_callback",
			Err:     errors.New("code and state query parameters are required"),
		})
		return
	}

	stateCookie, err := r.Cookie("oauth_state")
	if err != nil || stateCookie.Value != state {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "state_mismatch",
			Err:     errors.New("oauth state does not match"),
		})
		return
	}

	nonce := ""
	if nonceCookie, cerr := r.Cookie("oauth_nonce"); cerr == nil {
		nonce = nonceCookie.Value
	}

	id, err := h.Sessions.CompleteOAuth(r.Context(), code, nonce)
	h.clearOAuthCookies(w, r)
	if err != nil {
		h.logger().ErrorContext(r.Context(), "oauth completion failed", "error", err)
		http.Redirect(w, r, "/signin?error=oauth_failed", http.StatusSeeOther)
		return
	}

	redirect, err := h.Router.Route(r.Context(), id, query)
	if err != nil {
		h.logger().ErrorContext(r.Context(), "redirect resolution failed", "error", err)
		redirect = h.postLoginRedirect(r)
	}

	http.Redirect(w, r, redirect, http.StatusSeeOther)
}

// Logout handles the sign-out endpoint.
// POST /auth/logout.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.Sessions.SignOut(r.Context()); err != nil {
		// Local state is already torn down; report success to the client.
		h.logger().WarnContext(r.Context(), "sign out completed with errors", "error", err)
	}

	h.clearOAuthCookies(w, r)
	WriteJSON(w, http.StatusOK, map[string]string{"status": "signed_out"})
}

type statusResponse struct {
	Status   identity.Status            `json:"status"`
	Identity *identity.ResolvedIdentity `json:"identity,omitempty"`
}

// Status reports the current session state.
// GET /auth/status.
func (h *AuthHandlers) Status(w http.ResponseWriter, r *http.Request) {
	snap := h.Sessions.Snapshot()
	WriteJSON(w, http.StatusOK, statusResponse{Status: snap.Status, Identity: snap.Identity})
}

// Redirect resolves the landing destination for the current session. The
// handler waits out an in-flight resolution; only a settled no-session answer
// routes to sign-in.
// GET /auth/redirect.
func (h *AuthHandlers) Redirect(w http.ResponseWriter, r *http.Request) {
	id, err := h.Sessions.AwaitIdentity(r.Context())
	if err != nil && !errors.Is(err, apperrors.ErrNoSession) {
		WriteAppError(w, err)
		return
	}

	redirect, err := h.Router.Route(r.Context(), id, r.URL.Query())
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"redirect": redirect})
}

type updateProfileRequest struct {
	DisplayName *string `json:"display_name"`
	AvatarURL   *string `json:"avatar_url"`
	Role        *string `json:"role"`
}

// UpdateProfile patches the signed-in user's profile row.
// PATCH /auth/profile.
func (h *AuthHandlers) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	patch := identity.ProfilePatch{
		DisplayName: req.DisplayName,
		AvatarURL:   req.AvatarURL,
	}
	if req.Role != nil {
		role := identity.ParseRole(*req.Role)
		patch.Role = &role
	}

	id, err := h.Sessions.UpdateIdentity(r.Context(), patch)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, id)
}

type joinEventRequest struct {
	Code string `json:"code"`
}

// StageJoinEvent captures a join-event intent for replay after sign-in.
// POST /intents/join-event.
func (h *AuthHandlers) StageJoinEvent(w http.ResponseWriter, r *http.Request) {
	var req joinEventRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	if err := h.Intents.StageJoinEvent(r.Context(), req.Code); err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{"status": "staged"})
}

type resumePurchaseRequest struct {
	Path string `json:"path"`
}

// StageResumePurchase captures a resume-purchase intent for replay after sign-in.
// POST /intents/resume-purchase.
func (h *AuthHandlers) StageResumePurchase(w http.ResponseWriter, r *http.Request) {
	var req resumePurchaseRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	if err := h.Intents.StageResumePurchase(r.Context(), req.Path); err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{"status": "staged"})
}

// clearCookie clears a cookie by setting it to expire immediately.
// It mirrors key attributes (Secure, Path, Domain, SameSite) used when setting cookies
// to maximize compatibility across browsers during deletion.
func (h *AuthHandlers) clearCookie(w http.ResponseWriter, r *http.Request, name string) {
	isSecure := r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
	cd := h.CookieDomain
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   cd,
		HttpOnly: true,
		Secure:   isSecure,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0).UTC(),
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandlers) clearOAuthCookies(w http.ResponseWriter, r *http.Request) {
	h.clearCookie(w, r, "oauth_state")
	h.clearCookie(w, r, "oauth_nonce")
	h.clearCookie(w, r, "post_login_redirect")
}

// oauthCookieParams groups values needed to set OAuth cookies (≤3 params rule).
type oauthCookieParams struct {
	State       string
	Nonce       string
	RedirectURI string
}

// setOAuthCookies stores OAuth state, nonce, and the post-login redirect in secure cookies.
func (h *AuthHandlers) setOAuthCookies(w http.ResponseWriter, r *http.Request, p oauthCookieParams) {
	isSecure := r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
	cd := h.CookieDomain

	http.SetCookie(w, &http.Cookie{
		Name:     "oauth_state",
		Value:    p.State,
		Path:     "/",
		Domain:   cd,
		HttpOnly: true,
		Secure:   isSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   600, // 10 minutes
	})

	http.SetCookie(w, &http.Cookie{
		Name:     "oauth_nonce",
		Value:    p.Nonce,
		Path:     "/",
		Domain:   cd,
		HttpOnly: true,
		Secure:   isSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   600, // 10 minutes
	})

	http.SetCookie(w, &http.Cookie{
		Name:     "post_login_redirect",
		Value:    p.RedirectURI,
		Path:     "/",
		Domain:   cd,
		HttpOnly: true,
		Secure:   isSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   600, // 10 minutes
	})
}

// postLoginRedirect returns the redirect target stashed before the OAuth hop,
// or "/" when none was stored.
func (h *AuthHandlers) postLoginRedirect(r *http.Request) string {
	if c, err := r.Cookie("post_login_redirect"); err == nil {
		return safeRedirectPath(c.Value)
	}
	return "/"
}

// safeRedirectPath validates that a redirect target is a relative path within
// the app. Anything absolute, host-qualified, or malformed collapses to "/".
func safeRedirectPath(candidate string) string {
	if candidate == "" {
		return "/"
	}
	u, err := url.Parse(candidate)
	if err != nil || u.IsAbs() || u.Host != "" || !strings.HasPrefix(u.Path, "/") {
		return "/"
	}
	return candidate
}

package httpx

import (
	"log/slog"
	"net/http"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Sessions SessionService
	Redirect RedirectService
	Intents  IntentService
	// CallbackURL is the absolute OAuth return URL registered with the provider.
	CallbackURL  string
	CookieDomain string
	Logger       *slog.Logger // Logger for HTTP errors (optional)
}

// NewRouter creates and configures a new HTTP router.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	authHandlers := &AuthHandlers{
		Sessions:     services.Sessions,
		Router:       services.Redirect,
		Intents:      services.Intents,
		CallbackURL:  services.CallbackURL,
		CookieDomain: services.CookieDomain,
		Logger:       services.Logger,
	}

	mux.HandleFunc("GET /healthz", healthHandler)
	mux.HandleFunc("HEAD /healthz", healthHandler)

	mux.HandleFunc("POST /auth/login", authHandlers.Login)
	mux.HandleFunc("POST /auth/register", authHandlers.Register)
	mux.HandleFunc("GET /auth/oauth/start", authHandlers.OAuthStart)
	mux.HandleFunc("GET /auth/callback", authHandlers.OAuthCallback)
	mux.HandleFunc("POST /auth/logout", authHandlers.Logout)
	mux.HandleFunc("GET /auth/status", authHandlers.Status)
	mux.HandleFunc("GET /auth/redirect", authHandlers.Redirect)
	mux.HandleFunc("PATCH /auth/profile", authHandlers.UpdateProfile)

	mux.HandleFunc("POST /intents/join-event", authHandlers.StageJoinEvent)
	mux.HandleFunc("POST /intents/resume-purchase", authHandlers.StageResumePurchase)

	return mux
}

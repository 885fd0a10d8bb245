package api

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"reelay/handlers"

	"github.com/gorilla/mux"
)

// corsMiddleware handles CORS for API routes
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// pinMiddleware gates the API behind the server PIN when one is configured.
// getPIN is a func so a settings change takes effect without a restart.
func pinMiddleware(getPIN func() string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			pin := getPIN()
			if pin == "" || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			provided := r.Header.Get("X-Reelay-PIN")
			if subtle.ConstantTimeCompare([]byte(provided), []byte(pin)) != 1 {
				http.Error(w, "invalid or missing PIN", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Register mounts API endpoints onto the provided router.
func Register(
	r *mux.Router,
	moviesHandler *handlers.MoviesHandler,
	catalogHandler *handlers.CatalogHandler,
	recommendationsHandler *handlers.RecommendationsHandler,
	creditsHandler *handlers.CreditsHandler,
	syncHandler *handlers.SyncHandler,
	sessionHandler *handlers.SessionHandler,
	prefsHandler *handlers.PrefsHandler,
	settingsHandler *handlers.SettingsHandler,
	getPIN func() string,
) {
	api := r.PathPrefix("/api").Subrouter()
	api.Use(corsMiddleware)
	api.Use(pinMiddleware(getPIN))

	// Library
	api.HandleFunc("/movies", moviesHandler.List).Methods(http.MethodGet)
	api.HandleFunc("/movies/watch", moviesHandler.Watch).Methods(http.MethodGet)
	api.HandleFunc("/movies/seen", moviesHandler.MarkSeen).Methods(http.MethodPost)
	api.HandleFunc("/movies/watchlist", moviesHandler.AddToWatchlist).Methods(http.MethodPost)
	api.HandleFunc("/movies/not-interested", moviesHandler.SetNotInterested).Methods(http.MethodPost)
	api.HandleFunc("/movies/{movieID}", moviesHandler.Get).Methods(http.MethodGet)
	api.HandleFunc("/movies/{movieID}", moviesHandler.Remove).Methods(http.MethodDelete)
	api.HandleFunc("/movies/{movieID}/seen", moviesHandler.UnmarkSeen).Methods(http.MethodDelete)
	api.HandleFunc("/movies/{movieID}/watchlist", moviesHandler.RemoveFromWatchlist).Methods(http.MethodDelete)
	api.HandleFunc("/movies/{movieID}/favorite", moviesHandler.SetFavorite).Methods(http.MethodPut)
	api.HandleFunc("/movies/{movieID}/rating", moviesHandler.SetRating).Methods(http.MethodPut)

	// Catalog search
	api.HandleFunc("/catalog/search", catalogHandler.Search).Methods(http.MethodGet)

	// Recommendations
	api.HandleFunc("/recommendations", recommendationsHandler.List).Methods(http.MethodGet)
	api.HandleFunc("/recommendations", recommendationsHandler.Generate).Methods(http.MethodPost)
	api.HandleFunc("/recommendations/{movieID}/accept", recommendationsHandler.Accept).Methods(http.MethodPost)
	api.HandleFunc("/recommendations/{movieID}/reject", recommendationsHandler.Reject).Methods(http.MethodPost)

	// Credits
	api.HandleFunc("/credits", creditsHandler.Balance).Methods(http.MethodGet)
	api.HandleFunc("/credits/add", creditsHandler.Add).Methods(http.MethodPost)

	// Sync
	api.HandleFunc("/sync", syncHandler.Run).Methods(http.MethodPost)
	api.HandleFunc("/sync/merge", syncHandler.Merge).Methods(http.MethodPost)
	api.HandleFunc("/sync/status", syncHandler.Status).Methods(http.MethodGet)

	// Profiles and session
	api.HandleFunc("/profiles", sessionHandler.List).Methods(http.MethodGet)
	api.HandleFunc("/profiles", sessionHandler.Create).Methods(http.MethodPost)
	api.HandleFunc("/profiles/current", sessionHandler.Current).Methods(http.MethodGet)
	api.HandleFunc("/profiles/{profileID}", sessionHandler.Rename).Methods(http.MethodPut)
	api.HandleFunc("/profiles/{profileID}", sessionHandler.Delete).Methods(http.MethodDelete)
	api.HandleFunc("/profiles/{profileID}/pin", sessionHandler.SetPin).Methods(http.MethodPut)
	api.HandleFunc("/profiles/{profileID}/pin", sessionHandler.ClearPin).Methods(http.MethodDelete)
	api.HandleFunc("/profiles/{profileID}/signin", sessionHandler.SignIn).Methods(http.MethodPost)
	api.HandleFunc("/session", sessionHandler.SignOut).Methods(http.MethodDelete)

	// Preferences
	api.HandleFunc("/prefs", prefsHandler.Get).Methods(http.MethodGet)
	api.HandleFunc("/prefs/theme", prefsHandler.SetTheme).Methods(http.MethodPut)
	api.HandleFunc("/prefs/onboarding", prefsHandler.CompleteOnboarding).Methods(http.MethodPost)

	// Settings
	api.HandleFunc("/settings", settingsHandler.GetSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings", settingsHandler.PutSettings).Methods(http.MethodPut)

	// Health check, outside the PIN gate
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
}

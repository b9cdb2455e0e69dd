package httpx

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	domainauth "github.com/mobiletester/mt-api/internal/domain/auth"
	"github.com/mobiletester/mt-api/internal/ports"
)

// DefaultCookieName is the session cookie read by the auth middleware.
const DefaultCookieName = "mt_session"

// Logging returns a middleware that logs HTTP requests and responses.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &respWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("http",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.status),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

type respWriter struct {
	http.ResponseWriter
	status int
}

func (w *respWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Recover returns a middleware that recovers from panics and logs them.
func Recover(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic",
						slog.Any("error", err),
						slog.String("path", r.URL.Path),
						slog.String("method", r.Method),
						slog.String("stack", string(debug.Stack())))
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// AuthOptions configures the session auth middleware.
type AuthOptions struct {
	Sessions   ports.SessionStore  // Required unless Issuer is set
	CookieName string              // Optional: defaults to DefaultCookieName
	Issuer     ports.SessionIssuer // Optional: bypasses cookie auth (development mode)
	Logger     *slog.Logger        // Optional
}

// RequireAuth returns a middleware that authenticates requests via the
// session cookie. With an Issuer configured, every request is authenticated
// as the issuer's identity instead; that mode exists for development setups
// with no login system in front.
func RequireAuth(opts AuthOptions) func(http.Handler) http.Handler {
	cookieName := opts.CookieName
	if cookieName == "" {
		cookieName = DefaultCookieName
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, err := authenticate(r, opts, cookieName)
			if err != nil {
				if opts.Logger != nil && !errors.Is(err, errNoSession) {
					opts.Logger.WarnContext(r.Context(), "session lookup failed", "error", err)
				}
				WriteError(w, ErrorParams{
					Code:    http.StatusUnauthorized,
					ErrCode: "authentication_required",
					Err:     errors.New("authentication required"),
				})
				return
			}

			ctx := SetSessionInContext(r.Context(), session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

var errNoSession = errors.New("no session")

func authenticate(r *http.Request, opts AuthOptions, cookieName string) (*domainauth.Session, error) {
	if opts.Issuer != nil {
		sess, err := opts.Issuer.Issue(r.Context())
		if err != nil {
			return nil, err
		}
		return &sess, nil
	}

	if opts.Sessions == nil {
		return nil, errNoSession
	}
	cookie, err := r.Cookie(cookieName)
	if err != nil || cookie.Value == "" {
		return nil, errNoSession
	}

	sess, err := opts.Sessions.Get(r.Context(), cookie.Value)
	if err != nil {
		return nil, err
	}
	if sess.Expired(time.Now()) {
		return nil, errNoSession
	}
	return &sess, nil
}

// RequireAdmin returns a middleware that rejects non-admin sessions. It must
// run inside RequireAuth.
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := GetSessionFromContext(r.Context())
			if session == nil || !session.IsAdmin() {
				WriteError(w, ErrorParams{
					Code:    http.StatusForbidden,
					ErrCode: "insufficient_permissions",
					Err:     errors.New("insufficient permissions"),
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

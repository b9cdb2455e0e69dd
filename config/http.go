package config

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	// BaseURL is the base URL of the application (e.g., "https://app.example.com").
	BaseURL string `env:"APP_BASE_URL" envDefault:"http://localhost:8080"`

	// CookieDomain is the domain for session cookies.
	// Leave empty to use the request domain.
	CookieDomain string `env:"APP_COOKIE_DOMAIN" envDefault:""`

	// MaxUploadBytes caps the size of multipart upload requests. Slightly
	// above the APK size limit to leave room for the multipart framing.
	MaxUploadBytes int64 `env:"HTTP_MAX_UPLOAD_BYTES" envDefault:"52953088"`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	if h.MaxUploadBytes < 1024 {
		h.MaxUploadBytes = 52953088
	}
}

package gateway

import (
	"net/http"

	"github.com/rs/cors"
)

// CORSSetting configures cross-origin access to the GraphQL endpoint (config
// §6 "cors" section).
type CORSSetting struct {
	Enable           bool     `yaml:"enable" default:"false"`
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowedHeaders   []string `yaml:"allowed_headers"`
	AllowCredentials bool     `yaml:"allow_credentials" default:"false"`
}

func newCORSMiddleware(settings CORSSetting) func(http.Handler) http.Handler {
	allowedOrigins := settings.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	allowedHeaders := settings.AllowedHeaders
	if len(allowedHeaders) == 0 {
		allowedHeaders = []string{"Content-Type", "Authorization"}
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   allowedHeaders,
		AllowCredentials: settings.AllowCredentials,
	})
	return c.Handler
}

// Package app utility functions and helpers
package app

import (
	"net/http"
	"time"

	"ssw-logmanager/internal/config"
)

// queryDuration lê um parâmetro de duração da query string ("5s" ou segundos)
func queryDuration(r *http.Request, key string, def time.Duration) (time.Duration, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return config.ParseDuration(raw)
}

package httpapi

import "time"

// DefaultStreamInterval is the metrics-stream period when none is configured.
const DefaultStreamInterval = 2 * time.Second

// CORS configuration (opt-in). If disabled, no CORS middleware is added.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
	corsAllowedMethods []string
	corsAllowedHeaders []string
)

// SetCORSOptions configures CORS behavior for the HTTP server.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
	corsAllowedMethods = append([]string(nil), methods...)
	corsAllowedHeaders = append([]string(nil), headers...)
}

// Options tunes NewMux.
type Options struct {
	// Strategy used by /queues/best when the request names none.
	DefaultStrategy string
	// Period between metrics-stream frames.
	StreamInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.DefaultStrategy == "" {
		o.DefaultStrategy = "least_loaded"
	}
	if o.StreamInterval <= 0 {
		o.StreamInterval = DefaultStreamInterval
	}
	return o
}

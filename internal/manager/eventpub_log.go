package manager

import "github.com/rs/zerolog"

// LogPublisher writes every event as a structured log line.
type LogPublisher struct {
	log zerolog.Logger
}

func NewLogPublisher(l zerolog.Logger) *LogPublisher { return &LogPublisher{log: l} }

func (p *LogPublisher) Publish(e Event) {
	ev := p.log.Info()
	if e.Name == "load_failed" || e.Name == "download_failed" || e.Name == "delete_failed" {
		ev = p.log.Warn()
	}
	ev.Str("event", e.Name).Str("event_id", e.ID).Str("model", e.ModelID).Fields(e.Fields).Msg("manager event")
}

package api

import "github.com/tycostream/tycostream/pkg/gateway"

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status  string                           `json:"status"`
	Version string                           `json:"version"`
	Sources map[string]gateway.SourceHealth `json:"sources"`
}

// ColumnResponse describes one column of a source.
type ColumnResponse struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// SourceResponse describes one source in GET /api/v1/sources.
type SourceResponse struct {
	Name       string           `json:"name"`
	PrimaryKey string           `json:"primary_key"`
	Columns    []ColumnResponse `json:"columns"`
}

// TriggerResponse describes one registered trigger.
type TriggerResponse struct {
	Source     string `json:"source"`
	Name       string `json:"name"`
	WebhookURL string `json:"webhook_url"`
}

package api

import (
	"encoding/json"
	"net/http"
	"net/url"

	echo "github.com/labstack/echo/v5"
)

// CreateTriggerRequest is the body of POST /api/v1/triggers.
type CreateTriggerRequest struct {
	Source     string          `json:"source"`
	Name       string          `json:"name"`
	WebhookURL string          `json:"webhook_url"`
	Match      json.RawMessage `json:"match"`
	Unmatch    json.RawMessage `json:"unmatch,omitempty"`
}

// listTriggersHandler handles GET /api/v1/triggers.
func (s *Server) listTriggersHandler(c *echo.Context) error {
	statuses := s.triggers.List()
	out := make([]TriggerResponse, len(statuses))
	for i, st := range statuses {
		out[i] = TriggerResponse{
			Source:     st.Source,
			Name:       st.Name,
			WebhookURL: st.WebhookURL,
		}
	}
	return c.JSON(http.StatusOK, out)
}

// createTriggerHandler handles POST /api/v1/triggers.
func (s *Server) createTriggerHandler(c *echo.Context) error {
	var req CreateTriggerRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Source == "" || req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "source and name are required")
	}
	if len(req.Match) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "match condition is required")
	}
	if u, err := url.Parse(req.WebhookURL); err != nil || u.Scheme != "http" && u.Scheme != "https" {
		return echo.NewHTTPError(http.StatusBadRequest, "webhook_url must be an http(s) URL")
	}

	_, err := s.triggers.Register(c.Request().Context(),
		req.Source, req.Name, req.WebhookURL, req.Match, req.Unmatch)
	if err != nil {
		return mapError(err)
	}

	return c.JSON(http.StatusCreated, TriggerResponse{
		Source:     req.Source,
		Name:       req.Name,
		WebhookURL: req.WebhookURL,
	})
}

// deleteTriggerHandler handles DELETE /api/v1/triggers/:source/:name.
func (s *Server) deleteTriggerHandler(c *echo.Context) error {
	sourceName := c.Param("source")
	name := c.Param("name")
	if sourceName == "" || name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "source and name are required")
	}

	if err := s.triggers.Close(sourceName, name); err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

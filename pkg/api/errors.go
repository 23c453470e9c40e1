package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/tycostream/tycostream/pkg/schema"
	"github.com/tycostream/tycostream/pkg/source"
	"github.com/tycostream/tycostream/pkg/trigger"
	"github.com/tycostream/tycostream/pkg/view"
)

// errDuplicateSubscription rejects a second subscribe to a source already
// streaming on the same connection.
var errDuplicateSubscription = errors.New("already subscribed to this source")

// mapError maps gateway-layer errors to HTTP error responses.
func mapError(err error) *echo.HTTPError {
	var parseErr *view.ParseError
	if errors.As(err, &parseErr) {
		return echo.NewHTTPError(http.StatusBadRequest, parseErr.Error())
	}
	if errors.Is(err, schema.ErrSourceNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "source not found")
	}
	if errors.Is(err, trigger.ErrTriggerNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "trigger not found")
	}
	if errors.Is(err, trigger.ErrDuplicateTrigger) {
		return echo.NewHTTPError(http.StatusConflict, "trigger already registered")
	}
	var term *source.TerminalError
	if errors.As(err, &term) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, term.Message)
	}

	// Unexpected error
	slog.Error("Unexpected gateway error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}

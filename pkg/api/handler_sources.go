package api

import (
	"net/http"
	"sort"

	echo "github.com/labstack/echo/v5"
)

// listSourcesHandler handles GET /api/v1/sources. It returns the schema of
// every served source so clients can build filters without a side channel.
func (s *Server) listSourcesHandler(c *echo.Context) error {
	sources := s.gateway.Registry().All()

	out := make([]SourceResponse, 0, len(sources))
	for _, src := range sources {
		cols := make([]ColumnResponse, len(src.Columns))
		for i, col := range src.Columns {
			cols[i] = ColumnResponse{Name: col.Name, Type: string(col.Type)}
		}
		out = append(out, SourceResponse{
			Name:       src.Name,
			PrimaryKey: src.PrimaryKey,
			Columns:    cols,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return c.JSON(http.StatusOK, out)
}

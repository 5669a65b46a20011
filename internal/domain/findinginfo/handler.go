package findinginfo

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/openimagingdata/ipl/internal/platform/auth"
)

// Catalog holds display info for known finding codes. It is read-only
// after construction.
type Catalog struct {
	info map[string]Info
}

func NewCatalog(defs map[string]Definition) *Catalog {
	return &Catalog{info: ProcessAll(defs)}
}

// Lookup returns the display info of a finding code.
func (c *Catalog) Lookup(code string) (Info, bool) {
	if c == nil {
		return Info{}, false
	}
	info, ok := c.info[code]
	return info, ok
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.info)
}

type Handler struct {
	catalog *Catalog
}

func NewHandler(catalog *Catalog) *Handler {
	return &Handler{catalog: catalog}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.ReaderRoles...))
	read.GET("/findings/:code/info", h.GetInfo)
}

func (h *Handler) GetInfo(c echo.Context) error {
	info, ok := h.catalog.Lookup(c.Param("code"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "finding info not found")
	}
	return c.JSON(http.StatusOK, info)
}

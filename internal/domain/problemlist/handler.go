package problemlist

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/openimagingdata/ipl/internal/platform/auth"
	"github.com/openimagingdata/ipl/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.ReaderRoles...))
	read.GET("/patients", h.ListPatients)
	read.GET("/patients/:id", h.GetPatient)
	read.GET("/patients/:id/problem-list", h.GetProblemList)
	read.GET("/patients/:id/findings/:code/observations", h.GetFindingObservations)
	read.GET("/patients/:id/exams/:reportId", h.GetExam)
	read.GET("/patients/:id/exams/:reportId/report", h.GetReportText)
	read.GET("/exam-types", h.ListExamTypes)
}

// httpError maps service errors to HTTP errors.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidID):
		return echo.NewHTTPError(http.StatusBadRequest, "invalid identifier")
	case errors.Is(err, ErrPatientNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	case errors.Is(err, ErrFindingNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "finding not found")
	case errors.Is(err, ErrReportNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "report not found")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func (h *Handler) ListPatients(c echo.Context) error {
	patients, err := h.svc.ListPatients(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	p := pagination.FromContext(c)
	resp := pagination.NewResponse(pagination.Page(patients, p), len(patients), p.Limit, p.Offset)
	resp.Links = p.Links(c.Request().URL.Path, len(patients))
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetPatient(c echo.Context) error {
	summary, err := h.svc.GetPatient(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, summary)
}

func (h *Handler) GetProblemList(c echo.Context) error {
	f, err := ParseFilter(c.QueryParam("status"), c.QueryParam("region"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	list, err := h.svc.ProblemList(c.Request().Context(), c.Param("id"), f)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, list)
}

func (h *Handler) GetFindingObservations(c echo.Context) error {
	groups, err := h.svc.FindingObservations(c.Request().Context(), c.Param("id"), c.Param("code"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, groups)
}

func (h *Handler) GetExam(c echo.Context) error {
	view, err := h.svc.ExamView(c.Request().Context(), c.Param("id"), c.Param("reportId"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) GetReportText(c echo.Context) error {
	text, err := h.svc.ReportText(c.Request().Context(), c.Param("id"), c.Param("reportId"))
	if err != nil {
		return httpError(err)
	}
	return c.String(http.StatusOK, text)
}

func (h *Handler) ListExamTypes(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.ExamTypes())
}

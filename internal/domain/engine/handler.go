package engine

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/edc/edc/internal/domain/metadata"
	"github.com/edc/edc/pkg/pagination"
)

// Handler exposes the engine's read-only query surface.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/subjects/:subject_id/schedules/:schedule/visits/:visit_code/metadata", h.ListForVisit)
	api.GET("/subjects/:subject_id/schedules/:schedule/visits/:visit_code/metadata/next-required", h.NextRequired)
	api.GET("/subjects/:subject_id/metadata/crfs", h.ListCrfsByStatus)
	api.GET("/subjects/:subject_id/metadata/requisitions", h.ListRequisitionsByStatus)
}

func (h *Handler) visitKey(c echo.Context) (metadata.VisitKey, error) {
	scheduleName := c.Param("schedule")
	sched, err := h.svc.Lookup().GetSchedule(scheduleName)
	if err != nil {
		return metadata.VisitKey{}, echo.NewHTTPError(http.StatusNotFound, "unknown schedule")
	}
	seq := 0
	if s := c.QueryParam("seq"); s != "" {
		seq, err = strconv.Atoi(s)
		if err != nil || seq < 0 {
			return metadata.VisitKey{}, echo.NewHTTPError(http.StatusBadRequest, "invalid seq")
		}
	}
	return metadata.VisitKey{
		SubjectID:         c.Param("subject_id"),
		VisitScheduleName: sched.VisitScheduleName,
		ScheduleName:      scheduleName,
		VisitCode:         c.Param("visit_code"),
		VisitCodeSequence: seq,
	}, nil
}

func (h *Handler) ListForVisit(c echo.Context) error {
	key, err := h.visitKey(c)
	if err != nil {
		return err
	}
	crfs, reqs, err := h.svc.ListForVisit(c.Request().Context(), key)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"crfs":         crfs,
		"requisitions": reqs,
	})
}

func (h *Handler) NextRequired(c echo.Context) error {
	key, err := h.visitKey(c)
	if err != nil {
		return err
	}
	after := -1
	if s := c.QueryParam("after"); s != "" {
		after, err = strconv.Atoi(s)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid after")
		}
	}
	rec, err := h.svc.NextRequired(c.Request().Context(), key, after)
	if errors.Is(err, metadata.ErrNotFound) {
		return c.NoContent(http.StatusNoContent)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) ListCrfsByStatus(c echo.Context) error {
	status := metadata.EntryStatus(c.QueryParam("status"))
	if !status.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid entry status")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListCrfsByStatus(c.Request().Context(), c.Param("subject_id"), status, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListRequisitionsByStatus(c echo.Context) error {
	status := metadata.EntryStatus(c.QueryParam("status"))
	if !status.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid entry status")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListRequisitionsByStatus(c.Request().Context(), c.Param("subject_id"), status, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

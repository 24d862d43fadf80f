package crf

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/edc/edc/internal/domain/engine"
	"github.com/edc/edc/internal/domain/metadata"
	"github.com/edc/edc/internal/domain/schedule"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/submissions", h.Save)
	api.GET("/subjects/:subject_id/schedules/:schedule/visits/:visit_code/submissions", h.ListForVisit)
	api.GET("/subjects/:subject_id/schedules/:schedule/visits/:visit_code/submissions/:namespace/:form", h.Get)
	api.DELETE("/subjects/:subject_id/schedules/:schedule/visits/:visit_code/submissions/:namespace/:form", h.Delete)
}

func (h *Handler) visitKey(c echo.Context) (metadata.VisitKey, error) {
	seq := 0
	if s := c.QueryParam("seq"); s != "" {
		var err error
		seq, err = strconv.Atoi(s)
		if err != nil || seq < 0 {
			return metadata.VisitKey{}, echo.NewHTTPError(http.StatusBadRequest, "invalid seq")
		}
	}
	return metadata.VisitKey{
		SubjectID:         c.Param("subject_id"),
		ScheduleName:      c.Param("schedule"),
		VisitCode:         c.Param("visit_code"),
		VisitCodeSequence: seq,
	}, nil
}

func (h *Handler) Save(c echo.Context) error {
	var sub Submission
	if err := c.Bind(&sub); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	err := h.svc.Save(c.Request().Context(), &sub)
	var cfg *engine.ConfigurationError
	if errors.As(err, &cfg) {
		return echo.NewHTTPError(http.StatusConflict, cfg.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, sub)
}

func (h *Handler) Get(c echo.Context) error {
	key, err := h.visitKey(c)
	if err != nil {
		return err
	}
	form := schedule.FormRef{Namespace: c.Param("namespace"), Name: c.Param("form")}
	sub, err := h.svc.Get(c.Request().Context(), key, form, c.QueryParam("panel"))
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "submission not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, sub)
}

func (h *Handler) Delete(c echo.Context) error {
	key, err := h.visitKey(c)
	if err != nil {
		return err
	}
	form := schedule.FormRef{Namespace: c.Param("namespace"), Name: c.Param("form")}
	err = h.svc.Delete(c.Request().Context(), key, form, c.QueryParam("panel"))
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "submission not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListForVisit(c echo.Context) error {
	key, err := h.visitKey(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListForVisit(c.Request().Context(), key)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

package catalog

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/clinicdesk/internal/platform/auth"
	"github.com/clinicdesk/clinicdesk/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts /regions and /disease-types. Any signed-in user may
// read; writes need the admin role.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := auth.RequireAuthenticated()
	write := auth.RequireRole(auth.RoleAdmin)

	for path, kind := range map[string]Kind{
		"/regions":       KindRegion,
		"/disease-types": KindDiseaseType,
	} {
		api.GET(path, h.List(kind), read)
		api.GET(path+"/:id", h.Get(kind), read)
		api.POST(path, h.Create(kind), write)
		api.PUT(path+"/:id", h.Update(kind), write)
		api.DELETE(path+"/:id", h.Delete(kind), write)
	}
}

func (h *Handler) List(kind Kind) echo.HandlerFunc {
	return func(c echo.Context) error {
		pg := pagination.FromContext(c)
		items, total, err := h.svc.List(c.Request().Context(), kind, pg.Limit, pg.Offset)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		if items == nil {
			items = []*Entry{}
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
	}
}

func (h *Handler) Get(kind Kind) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
		}
		e, err := h.svc.Get(c.Request().Context(), kind, id)
		if err != nil {
			return mapError(kind, err)
		}
		return c.JSON(http.StatusOK, e)
	}
}

func (h *Handler) Create(kind Kind) echo.HandlerFunc {
	return func(c echo.Context) error {
		var e Entry
		if err := c.Bind(&e); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		if err := h.svc.Create(c.Request().Context(), kind, &e); err != nil {
			return mapError(kind, err)
		}
		return c.JSON(http.StatusCreated, e)
	}
}

func (h *Handler) Update(kind Kind) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
		}
		var e Entry
		if err := c.Bind(&e); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		e.ID = id
		if err := h.svc.Update(c.Request().Context(), kind, &e); err != nil {
			return mapError(kind, err)
		}
		return c.JSON(http.StatusOK, e)
	}
}

func (h *Handler) Delete(kind Kind) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
		}
		if err := h.svc.Delete(c.Request().Context(), kind, id); err != nil {
			return mapError(kind, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func mapError(kind Kind, err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, kind.label()+" not found")
	case errors.Is(err, ErrDuplicate):
		return echo.NewHTTPError(http.StatusConflict, kind.label()+" with this name already exists")
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}

package patient

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/clinicdesk/clinicdesk/internal/domain/ledger"
	"github.com/clinicdesk/clinicdesk/internal/platform/auth"
	"github.com/clinicdesk/clinicdesk/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the patient routes. Clinic staff may read and write
// records and payments; soft delete and restore are superuser only.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Per route, not per group: unknown /api/v1 paths must stay 404.
	staff := auth.RequireRole(auth.RoleDoctor, auth.RoleOperator)
	super := auth.RequireSuperuser()

	api.GET("/patients/statistics", h.Statistics, staff)
	api.GET("/patients/debtor", h.ListByStatus(ledger.StatusDebtor), staff)
	api.GET("/patients/under-treatment", h.ListByStatus(ledger.StatusPaid), staff)
	api.GET("/patients/treated", h.ListByStatus(ledger.StatusTreated), staff)
	api.GET("/patients/tomorrow", h.ListTomorrow, staff)
	api.GET("/patients", h.List, staff)
	api.POST("/patients", h.Create, staff)
	api.GET("/patients/:id", h.Get, staff)
	api.PUT("/patients/:id", h.Update, staff)
	api.PATCH("/patients/:id", h.Update, staff)

	api.GET("/patients/:id/ledger", h.Ledger, staff)
	api.POST("/patients/:id/recompute", h.Recompute, staff)
	api.PATCH("/patients/:id/status", h.SetStatus, staff)

	api.GET("/patients/:id/payments", h.ListPayments, staff)
	api.POST("/patients/:id/payments", h.AddPayment, staff)
	api.DELETE("/patients/:id/payments/:payment_id", h.DeletePayment, staff)
	api.GET("/patients/:id/appointments", h.ListAppointments, staff)

	api.PUT("/patients/:id/photo", h.UploadPhoto, staff)
	api.GET("/patients/:id/photo", h.GetPhoto, staff)

	api.DELETE("/patients/:id", h.Delete, super)
	api.POST("/patients/:id/restore", h.Restore, super)
}

// -- Request bodies --

type appointmentInput struct {
	AppointmentTime time.Time `json:"appointment_time" validate:"required"`
}

func appointmentTimes(in []appointmentInput) []time.Time {
	out := make([]time.Time, 0, len(in))
	for _, a := range in {
		out = append(out, a.AppointmentTime)
	}
	return out
}

type createRequest struct {
	FullName         string             `json:"full_name" validate:"required,max=255"`
	PhoneNumber      *string            `json:"phone_number" validate:"omitempty,max=20"`
	RegionID         *uuid.UUID         `json:"region_id"`
	DiseaseTypeID    *uuid.UUID         `json:"disease_type_id"`
	Address          *string            `json:"address"`
	FaceCondition    *string            `json:"face_condition"`
	MedicationsTaken *string            `json:"medications_taken"`
	HomeCareItems    *string            `json:"home_care_items"`
	TotalPaymentDue  decimal.Decimal    `json:"total_payment_due" validate:"money"`
	Appointments     []appointmentInput `json:"appointments" validate:"dive"`
}

type updateRequest struct {
	FullName         *string            `json:"full_name" validate:"omitempty,max=255"`
	PhoneNumber      *string            `json:"phone_number" validate:"omitempty,max=20"`
	RegionID         *uuid.UUID         `json:"region_id"`
	DiseaseTypeID    *uuid.UUID         `json:"disease_type_id"`
	Address          *string            `json:"address"`
	FaceCondition    *string            `json:"face_condition"`
	MedicationsTaken *string            `json:"medications_taken"`
	HomeCareItems    *string            `json:"home_care_items"`
	TotalPaymentDue  *decimal.Decimal   `json:"total_payment_due" validate:"omitempty,money"`
	Remove           []uuid.UUID        `json:"remove"`
	NewAppointments  []appointmentInput `json:"new_appointments" validate:"dive"`
	// Status is only bound to reject it.
	Status *string `json:"status"`
}

type paymentRequest struct {
	Amount      decimal.Decimal `json:"amount" validate:"positive_money"`
	PaymentDate *time.Time      `json:"payment_date"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required,patient_status"`
}

// -- Handlers --

func (h *Handler) Create(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	d, err := h.svc.CreatePatient(c.Request().Context(), NewPatient{
		FullName:         req.FullName,
		PhoneNumber:      req.PhoneNumber,
		RegionID:         req.RegionID,
		DiseaseTypeID:    req.DiseaseTypeID,
		Address:          req.Address,
		FaceCondition:    req.FaceCondition,
		MedicationsTaken: req.MedicationsTaken,
		HomeCareItems:    req.HomeCareItems,
		TotalPaymentDue:  req.TotalPaymentDue,
		Appointments:     appointmentTimes(req.Appointments),
	})
	if err != nil {
		return mapError(err)
	}
	d.IsSuperuser = auth.IsSuperuserFromContext(c.Request().Context())
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	d, err := h.svc.GetPatientDetail(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	d.IsSuperuser = auth.IsSuperuserFromContext(c.Request().Context())
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Update(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req updateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Status != nil {
		return echo.NewHTTPError(http.StatusBadRequest,
			"status is derived from payments; use /recompute or PATCH /status")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	d, err := h.svc.UpdatePatient(c.Request().Context(), id, PatientUpdate{
		FullName:           req.FullName,
		PhoneNumber:        req.PhoneNumber,
		RegionID:           req.RegionID,
		DiseaseTypeID:      req.DiseaseTypeID,
		Address:            req.Address,
		FaceCondition:      req.FaceCondition,
		MedicationsTaken:   req.MedicationsTaken,
		HomeCareItems:      req.HomeCareItems,
		TotalPaymentDue:    req.TotalPaymentDue,
		RemoveAppointments: req.Remove,
		NewAppointments:    appointmentTimes(req.NewAppointments),
	})
	if err != nil {
		return mapError(err)
	}
	d.IsSuperuser = auth.IsSuperuserFromContext(c.Request().Context())
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeletePatient(c.Request().Context(), id); err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Restore(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	p, err := h.svc.RestorePatient(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func listFilter(c echo.Context) (ListFilter, pagination.Params) {
	pg := pagination.FromContext(c)
	return ListFilter{
		Search:   strings.TrimSpace(c.QueryParam("search")),
		Ordering: c.QueryParam("ordering"),
		Limit:    pg.Limit,
		Offset:   pg.Offset,
	}, pg
}

func (h *Handler) List(c echo.Context) error {
	f, pg := listFilter(c)
	if raw := c.QueryParam("status"); raw != "" {
		st, err := ledger.ParseStatus(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		f.Status = &st
	}
	return h.writeList(c, pg, func() ([]*Patient, int, error) {
		return h.svc.ListPatients(c.Request().Context(), f)
	})
}

// ListByStatus serves the named status views.
func (h *Handler) ListByStatus(status ledger.Status) echo.HandlerFunc {
	return func(c echo.Context) error {
		f, pg := listFilter(c)
		st := status
		f.Status = &st
		return h.writeList(c, pg, func() ([]*Patient, int, error) {
			return h.svc.ListPatients(c.Request().Context(), f)
		})
	}
}

func (h *Handler) ListTomorrow(c echo.Context) error {
	f, pg := listFilter(c)
	return h.writeList(c, pg, func() ([]*Patient, int, error) {
		return h.svc.ListTomorrow(c.Request().Context(), f)
	})
}

func (h *Handler) writeList(c echo.Context, pg pagination.Params, fetch func() ([]*Patient, int, error)) error {
	items, total, err := fetch()
	if err != nil {
		return mapError(err)
	}
	if items == nil {
		items = []*Patient{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Statistics(c echo.Context) error {
	st, err := h.svc.Statistics(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) Ledger(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	v, err := h.svc.Ledger(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) Recompute(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	st, err := h.svc.Recompute(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": st.String()})
}

// SetStatus accepts only the manual transition to treated. A rejected
// transition answers 200 with accepted=false.
func (h *Handler) SetStatus(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	if ledger.Status(req.Status) != ledger.StatusTreated {
		return echo.NewHTTPError(http.StatusBadRequest,
			"only the transition to treated can be requested; other statuses follow payments")
	}
	out, err := h.svc.MarkTreated(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) ListPayments(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	items, err := h.svc.ListPayments(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	if items == nil {
		items = []*Payment{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) AddPayment(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req paymentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	var createdBy *uuid.UUID
	if uid, err := uuid.Parse(auth.UserIDFromContext(ctx)); err == nil {
		createdBy = &uid
	}
	res, err := h.svc.AddPayment(ctx, id, req.Amount, req.PaymentDate, createdBy)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) DeletePayment(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	paymentID, err := parseID(c, "payment_id")
	if err != nil {
		return err
	}
	v, err := h.svc.DeletePayment(c.Request().Context(), id, paymentID)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) ListAppointments(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	items, err := h.svc.ListAppointments(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	if items == nil {
		items = []*Appointment{}
	}
	return c.JSON(http.StatusOK, items)
}

// UploadPhoto takes the image from the multipart "photo" field.
func (h *Handler) UploadPhoto(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	fh, err := c.FormFile("photo")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "photo file is required")
	}
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer f.Close()

	obj, err := h.svc.UploadPhoto(c.Request().Context(), id, f)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"content_type": obj.ContentType,
		"size":         obj.Size,
		"updated_at":   obj.UpdatedAt,
	})
}

func (h *Handler) GetPhoto(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	rc, obj, err := h.svc.Photo(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	defer rc.Close()
	return c.Stream(http.StatusOK, obj.ContentType, rc)
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func mapError(err error) error {
	var ve *ValidationError
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	case errors.Is(err, ErrPaymentNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "payment not found")
	case errors.Is(err, errNoPhotoStore):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &ve):
		return echo.NewHTTPError(http.StatusBadRequest, map[string]string{
			"field":   ve.Field,
			"message": ve.Message,
		})
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

package beneficiary

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/healthvault/registrar/internal/platform/auth"
	"github.com/healthvault/registrar/internal/platform/wizard"
	"github.com/healthvault/registrar/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the beneficiary endpoints on an authenticated group.
func (h *Handler) RegisterRoutes(operators *echo.Group) {
	g := operators.Group("/beneficiaries", auth.RequireRole(auth.RoleStaff))
	g.GET("/forms", h.GetForms)
	g.GET("", h.ListBeneficiaries)
	g.POST("", h.CreateBeneficiary)
	g.GET("/:id", h.GetBeneficiary)
	g.GET("/:id/form", h.GetBeneficiaryForm)
	g.PUT("/:id", h.UpdateBeneficiary)
	g.DELETE("/:id", h.DeleteBeneficiary)
	g.GET("/:id/dependents", h.ListDependents)
}

type validationResponse struct {
	Message string   `json:"message"`
	Missing []string `json:"missing"`
}

func (h *Handler) fail(c echo.Context, err error) error {
	var verr *wizard.ValidationError
	switch {
	case errors.As(err, &verr):
		return c.JSON(http.StatusUnprocessableEntity, validationResponse{Message: verr.Error(), Missing: verr.Missing})
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrKindChange), errors.Is(err, ErrHasDependents):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrUnknownKind), errors.Is(err, ErrInvalidDate), errors.Is(err, ErrInvalidRef),
		errors.Is(err, ErrGuardianNotFound), errors.Is(err, wizard.ErrUnknownField), errors.Is(err, wizard.ErrTypeMismatch):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
}

func (h *Handler) GetForms(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Forms())
}

type beneficiaryRequest struct {
	Kind Kind                    `json:"kind"`
	Data map[string]wizard.Value `json:"data"`
}

func (h *Handler) CreateBeneficiary(c echo.Context) error {
	var req beneficiaryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	b, err := h.svc.Create(ctx, req.Kind, req.Data, auth.UserIDFromContext(ctx))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, Envelope{Value: b})
}

func (h *Handler) ListBeneficiaries(c echo.Context) error {
	p := pagination.FromContext(c)
	all, err := h.svc.List(c.Request().Context(), Kind(c.QueryParam("kind")))
	if err != nil {
		return h.fail(c, err)
	}
	items := make([]Envelope, 0, p.Limit)
	for _, b := range pagination.Slice(all, p) {
		items = append(items, Envelope{Value: b})
	}
	return c.JSON(http.StatusOK, pagination.NewPage(items, len(all), p, c.Request().URL))
}

func (h *Handler) lookup(c echo.Context) (Beneficiary, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	b, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return nil, h.fail(c, err)
	}
	return b, nil
}

func (h *Handler) GetBeneficiary(c echo.Context) error {
	b, err := h.lookup(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, Envelope{Value: b})
}

func (h *Handler) GetBeneficiaryForm(c echo.Context) error {
	b, err := h.lookup(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, beneficiaryRequest{Kind: b.Kind(), Data: Fields(b)})
}

func (h *Handler) UpdateBeneficiary(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req beneficiaryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, err := h.svc.Update(c.Request().Context(), id, req.Kind, req.Data)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, Envelope{Value: b})
}

func (h *Handler) DeleteBeneficiary(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListDependents(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	deps, err := h.svc.Dependents(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, err)
	}
	out := make([]Envelope, 0, len(deps))
	for _, d := range deps {
		out = append(out, Envelope{Value: d})
	}
	return c.JSON(http.StatusOK, out)
}

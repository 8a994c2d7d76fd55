package registration

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/healthvault/registrar/internal/platform/auth"
	"github.com/healthvault/registrar/internal/platform/blobstore"
	"github.com/healthvault/registrar/internal/platform/notification"
	"github.com/healthvault/registrar/internal/platform/wizard"
	"github.com/healthvault/registrar/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the applicant wizard on public and the review
// endpoints on operators, which must already authenticate.
func (h *Handler) RegisterRoutes(public *echo.Group, operators *echo.Group) {
	g := public.Group("/registrations")
	g.GET("/schema", h.GetSchema)
	g.POST("/sessions", h.StartSession)
	g.GET("/sessions/:id", h.GetSession)
	g.DELETE("/sessions/:id", h.AbandonSession)
	g.PUT("/sessions/:id/sections/:section/fields/:field", h.SetField)
	g.POST("/sessions/:id/sections/:section/fields/:field/entries", h.AddListEntry)
	g.DELETE("/sessions/:id/sections/:section/fields/:field/entries/:index", h.RemoveListEntry)
	g.POST("/sessions/:id/next", h.Next)
	g.POST("/sessions/:id/previous", h.Previous)
	g.POST("/sessions/:id/goto/:step", h.GoTo)
	g.POST("/sessions/:id/submit", h.Submit)
	g.POST("/sessions/:id/account", h.AttachAccount)
	g.DELETE("/sessions/:id/notice", h.DismissNotice)
	g.POST("/sessions/:id/documents", h.UploadDocument)
	g.GET("/sessions/:id/documents", h.ListDocuments)

	// Review endpoints: reviewer or admin
	review := operators.Group("/registrations", auth.RequireRole(auth.RoleReviewer))
	review.GET("", h.ListRegistrations)
	review.GET("/:id", h.GetRegistration)
	review.GET("/:id/fhir", h.GetRegistrationFHIR)
	review.POST("/:id/approve", h.ApproveRegistration)
	review.POST("/:id/reject", h.RejectRegistration)
	review.GET("/:id/messages", h.ListMessages)
	review.POST("/:id/messages/:message_id/retry", h.RetryMessage)
}

// httpError maps service and wizard errors onto HTTP statuses.
func httpError(err error) error {
	var (
		status = http.StatusInternalServerError
		msg    = err.Error()
	)
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrNotFound),
		errors.Is(err, blobstore.ErrBlobNotFound), errors.Is(err, notification.ErrMessageNotFound):
		status = http.StatusNotFound
	case errors.Is(err, wizard.ErrBusy), errors.Is(err, wizard.ErrSubmitted),
		errors.Is(err, wizard.ErrNotFinalStep), errors.Is(err, ErrNotPending):
		status = http.StatusConflict
	case errors.Is(err, wizard.ErrAbandoned):
		status = http.StatusGone
	case errors.Is(err, wizard.ErrUnknownField), errors.Is(err, wizard.ErrTypeMismatch),
		errors.Is(err, wizard.ErrStepOutOfRange), errors.Is(err, ErrAccountField),
		errors.Is(err, ErrReasonRequired), errors.Is(err, ErrUnknownStatus), errors.Is(err, blobstore.ErrInvalidCategory),
		errors.Is(err, blobstore.ErrMissingFileName):
		status = http.StatusBadRequest
	case errors.Is(err, auth.ErrWalletProof):
		status = http.StatusUnauthorized
	case errors.Is(err, blobstore.ErrFileTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, blobstore.ErrInvalidContentType):
		status = http.StatusUnsupportedMediaType
	case errors.Is(err, ErrNoWallet):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		return echo.NewHTTPError(status, "internal error").SetInternal(err)
	}
	return echo.NewHTTPError(status, msg)
}

// -- Wizard sessions --

func (h *Handler) GetSchema(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Schema())
}

type startRequest struct {
	ContextID string `json:"context_id"`
}

func (h *Handler) StartSession(c echo.Context) error {
	var req startRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	ctx := c.Request().Context()
	v, err := h.svc.Start(ctx, auth.UserIDFromContext(ctx), req.ContextID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *Handler) GetSession(c echo.Context) error {
	v, err := h.svc.Snapshot(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) AbandonSession(c echo.Context) error {
	if err := h.svc.Abandon(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type valueRequest struct {
	Value wizard.Value `json:"value"`
}

func (h *Handler) SetField(c echo.Context) error {
	var req valueRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := h.svc.SetField(c.Request().Context(), c.Param("id"), c.Param("section"), c.Param("field"), req.Value)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

type entryRequest struct {
	Value string `json:"value"`
}

func (h *Handler) AddListEntry(c echo.Context) error {
	var req entryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := h.svc.AddListEntry(c.Request().Context(), c.Param("id"), c.Param("section"), c.Param("field"), req.Value)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) RemoveListEntry(c echo.Context) error {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid index")
	}
	v, err := h.svc.RemoveListEntry(c.Request().Context(), c.Param("id"), c.Param("section"), c.Param("field"), index)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

type stepResponse struct {
	Result  wizard.StepResult `json:"result"`
	Session View              `json:"session"`
}

func (h *Handler) Next(c echo.Context) error {
	res, v, err := h.svc.Next(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, stepResponse{Result: res, Session: v})
}

func (h *Handler) Previous(c echo.Context) error {
	res, v, err := h.svc.Previous(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, stepResponse{Result: res, Session: v})
}

func (h *Handler) GoTo(c echo.Context) error {
	step, err := strconv.Atoi(c.Param("step"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid step")
	}
	res, v, err := h.svc.GoTo(c.Request().Context(), c.Param("id"), step)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, stepResponse{Result: res, Session: v})
}

type submitResponse struct {
	Result  wizard.SubmitResult `json:"result"`
	Error   string              `json:"error,omitempty"`
	Retry   bool                `json:"retryable,omitempty"`
	Session View                `json:"session"`
}

func (h *Handler) Submit(c echo.Context) error {
	res, v, err := h.svc.Submit(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	resp := submitResponse{Result: res, Session: v}
	status := http.StatusOK
	switch res.Outcome {
	case wizard.OutcomeSubmitted:
		status = http.StatusCreated
	case wizard.OutcomeFailed:
		resp.Error = res.Failure.Error()
		resp.Retry = res.Failure.Retryable()
	}
	return c.JSON(status, resp)
}

type accountRequest struct {
	Proof string `json:"proof"`
}

func (h *Handler) AttachAccount(c echo.Context) error {
	var req accountRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Proof == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "proof is required")
	}
	v, err := h.svc.AttachAccount(c.Request().Context(), c.Param("id"), req.Proof)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) DismissNotice(c echo.Context) error {
	v, err := h.svc.DismissNotice(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

type uploadResponse struct {
	Document *blobstore.BlobMetadata `json:"document"`
	Session  View                    `json:"session"`
}

func (h *Handler) UploadDocument(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer f.Close()

	category := c.FormValue("category")
	if category == "" {
		category = blobstore.CategoryLicense
	}
	meta, v, err := h.svc.UploadDocument(c.Request().Context(), c.Param("id"), category,
		fh.Filename, fh.Header.Get("Content-Type"), f)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, uploadResponse{Document: meta, Session: v})
}

func (h *Handler) ListDocuments(c echo.Context) error {
	docs, err := h.svc.Documents(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	if docs == nil {
		docs = []*blobstore.BlobMetadata{}
	}
	return c.JSON(http.StatusOK, docs)
}

// -- Review --

func (h *Handler) ListRegistrations(c echo.Context) error {
	p := pagination.FromContext(c)
	regs, total, err := h.svc.ListRegistrations(c.Request().Context(), Status(c.QueryParam("status")), p.Limit, p.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewPage(regs, total, p, c.Request().URL))
}

func (h *Handler) registration(c echo.Context) (*HospitalRegistration, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	reg, err := h.svc.GetRegistration(c.Request().Context(), id)
	if err != nil {
		return nil, httpError(err)
	}
	return reg, nil
}

func (h *Handler) GetRegistration(c echo.Context) error {
	reg, err := h.registration(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, reg)
}

func (h *Handler) GetRegistrationFHIR(c echo.Context) error {
	reg, err := h.registration(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, reg.ToFHIR())
}

func (h *Handler) ApproveRegistration(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	reg, err := h.svc.Approve(ctx, id, auth.UserIDFromContext(ctx))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, reg)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) RejectRegistration(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req rejectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	reg, err := h.svc.Reject(ctx, id, auth.UserIDFromContext(ctx), req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, reg)
}

func (h *Handler) ListMessages(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	msgs, err := h.svc.Outbox(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if msgs == nil {
		msgs = []notification.Message{}
	}
	return c.JSON(http.StatusOK, msgs)
}

func (h *Handler) RetryMessage(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.RetryMessage(c.Request().Context(), id, c.Param("message_id")); err != nil {
		if errors.Is(err, notification.ErrMessageNotFound) || errors.Is(err, ErrNotFound) {
			return httpError(err)
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

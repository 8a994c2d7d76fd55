package registration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/healthvault/registrar/internal/platform/auth"
	"github.com/healthvault/registrar/internal/platform/wizard"
)

func newTestHandler(t *testing.T) (*Handler, *fixture, *echo.Echo) {
	f := newFixture(t)
	return NewHandler(f.svc), f, echo.New()
}

func jsonRequest(method, body string) *http.Request {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func TestHandler_StartSession(t *testing.T) {
	h, _, e := newTestHandler(t)
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)

	if err := h.StartSession(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var v struct {
		SessionID string `json:"session_id"`
		Step      int    `json:"step"`
		Phase     string `json:"phase"`
	}
	json.Unmarshal(rec.Body.Bytes(), &v)
	if v.SessionID == "" || v.Step != 1 || v.Phase != "step" {
		t.Errorf("unexpected session view: %+v", v)
	}
}

func TestHandler_SetField(t *testing.T) {
	h, f, e := newTestHandler(t)
	id := f.start(t)

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPut, `{"value":"hospital"}`), rec)
	c.SetParamNames("id", "section", "field")
	c.SetParamValues(id, SectionOrg, "facility_type")
	if err := h.SetField(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	c = e.NewContext(jsonRequest(http.MethodPut, `{"value":"castle"}`), httptest.NewRecorder())
	c.SetParamNames("id", "section", "field")
	c.SetParamValues(id, SectionOrg, "facility_type")
	err := h.SetField(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for an unknown option, got %v", err)
	}
}

func TestHandler_NextBlocked(t *testing.T) {
	h, f, e := newTestHandler(t)
	id := f.start(t)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(id)
	if err := h.Next(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var resp struct {
		Result  wizard.StepResult `json:"result"`
		Session struct {
			Notice *struct {
				Kind string `json:"kind"`
			} `json:"notice"`
		} `json:"session"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Result.Moved || resp.Result.Validation == nil {
		t.Errorf("expected a blocked move, got %+v", resp.Result)
	}
	if resp.Session.Notice == nil || resp.Session.Notice.Kind != "error" {
		t.Errorf("expected an error notice, got %+v", resp.Session.Notice)
	}
}

func TestHandler_GoToInvalidStep(t *testing.T) {
	h, f, e := newTestHandler(t)
	id := f.start(t)

	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id", "step")
	c.SetParamValues(id, "nine")
	if err := h.GoTo(c); err == nil {
		t.Error("expected error for a non-numeric step")
	}

	c = e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id", "step")
	c.SetParamValues(id, "9")
	err := h.GoTo(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for an out-of-range step, got %v", err)
	}
}

func TestHandler_UnknownSession(t *testing.T) {
	h, _, e := newTestHandler(t)
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("missing")
	err := h.GetSession(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestHandler_SubmitFlow(t *testing.T) {
	h, f, e := newTestHandler(t)
	id := f.start(t)
	f.walkToAccount(t, id, "REG-500")

	body := `{"proof":"` + f.proof(t, id, "ALGO-500") + `"}`
	c := e.NewContext(jsonRequest(http.MethodPost, body), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(id)
	if err := h.AttachAccount(c); err != nil {
		t.Fatalf("attach: %v", err)
	}

	rec := httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(id)
	if err := h.Submit(c); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), testPassword) {
		t.Error("response leaked the admin password")
	}

	c = e.NewContext(jsonRequest(http.MethodPut, `{"value":"late edit"}`), httptest.NewRecorder())
	c.SetParamNames("id", "section", "field")
	c.SetParamValues(id, SectionOrg, "name")
	err := h.SetField(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusConflict {
		t.Errorf("expected 409 after submission, got %v", err)
	}
}

func TestHandler_AttachAccount_BadProof(t *testing.T) {
	h, f, e := newTestHandler(t)
	id := f.start(t)
	c := e.NewContext(jsonRequest(http.MethodPost, `{"proof":"garbage"}`), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(id)
	err := h.AttachAccount(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", err)
	}
}

func TestHandler_UploadDocument(t *testing.T) {
	h, f, e := newTestHandler(t)
	id := f.start(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("category", "license")
	part, _ := mw.CreateFormFile("file", "licence.pdf")
	part.Write([]byte("%PDF-1.7\n%%EOF\n"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/", &buf)
	req.Header.Set(echo.HeaderContentType, mw.FormDataContentType())
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(id)
	if err := h.UploadDocument(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
}

func TestHandler_ReviewRoutes(t *testing.T) {
	h, f, e := newTestHandler(t)
	reg := f.submitted(t, "REG-600")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/registrations?status=pending&limit=1", nil)
	c := e.NewContext(req, rec)
	if err := h.ListRegistrations(c); err != nil {
		t.Fatalf("list: %v", err)
	}
	var page struct {
		Total int                    `json:"total"`
		Items []HospitalRegistration `json:"items"`
	}
	json.Unmarshal(rec.Body.Bytes(), &page)
	if page.Total != 1 || len(page.Items) != 1 || page.Items[0].ID != reg.ID {
		t.Errorf("unexpected page: %+v", page)
	}

	c = e.NewContext(jsonRequest(http.MethodPost, `{"reason":""}`), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(reg.ID.String())
	err := h.RejectRegistration(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without reason, got %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), "rev-1", []string{auth.RoleReviewer}))
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(reg.ID.String())
	if err := h.ApproveRegistration(c); err != nil {
		t.Fatalf("approve: %v", err)
	}
	var approved HospitalRegistration
	json.Unmarshal(rec.Body.Bytes(), &approved)
	if approved.ReviewedBy == nil || *approved.ReviewedBy != "rev-1" {
		t.Errorf("expected reviewer recorded, got %v", approved.ReviewedBy)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(reg.ID.String())
	if err := h.GetRegistrationFHIR(c); err != nil {
		t.Fatalf("fhir: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"resourceType":"Organization"`) {
		t.Errorf("unexpected FHIR body: %s", rec.Body.String())
	}
}

func TestHandler_ReviewRequiresRole(t *testing.T) {
	h, f, _ := newTestHandler(t)
	cfg := auth.JWTConfig{Issuer: "registrar", SigningKey: []byte("operator-test-key")}
	e := echo.New()
	api := e.Group("/api/v1")
	operators := api.Group("", auth.JWTMiddleware(cfg))
	h.RegisterRoutes(api, operators)
	reg := f.submitted(t, "REG-700")

	tests := []struct {
		roles []string
		code  int
	}{
		{[]string{auth.RoleStaff}, http.StatusForbidden},
		{[]string{auth.RoleReviewer}, http.StatusOK},
	}
	for _, tt := range tests {
		token, err := auth.IssueToken(cfg, "op-1", tt.roles, time.Minute)
		if err != nil {
			t.Fatalf("issue token: %v", err)
		}
		req := httptest.NewRequest(http.MethodGet, "/api/v1/registrations/"+reg.ID.String(), nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != tt.code {
			t.Errorf("roles %v: expected %d, got %d", tt.roles, tt.code, rec.Code)
		}
	}

	// Applicant routes stay public.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/registrations/schema", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected public schema route, got %d", rec.Code)
	}
}

func TestHTTPError(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{ErrSessionNotFound, http.StatusNotFound},
		{wizard.ErrBusy, http.StatusConflict},
		{wizard.ErrAbandoned, http.StatusGone},
		{wizard.ErrNotFinalStep, http.StatusConflict},
		{wizard.ErrUnknownField, http.StatusBadRequest},
		{ErrNotPending, http.StatusConflict},
		{auth.ErrWalletProof, http.StatusUnauthorized},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		he, ok := httpError(tt.err).(*echo.HTTPError)
		if !ok || he.Code != tt.code {
			t.Errorf("%v: expected %d, got %v", tt.err, tt.code, he)
		}
	}
}

func TestHandler_RetryMessage(t *testing.T) {
	h, f, e := newTestHandler(t)
	f.email.Err = errors.New("smtp unavailable")
	reg := f.submitted(t, "REG-610")
	msgs, err := f.svc.Outbox(context.Background(), reg.ID)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("outbox: %v %+v", err, msgs)
	}

	tests := []struct {
		name string
		id   string
		want int
	}{
		{"malformed id", "not-a-uuid", http.StatusBadRequest},
		{"unknown registration", "7d1f0a3e-5b2c-4c1e-9f7a-2b3c4d5e6f70", http.StatusNotFound},
		{"still failing", reg.ID.String(), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), httptest.NewRecorder())
			c.SetParamNames("id", "message_id")
			c.SetParamValues(tt.id, msgs[0].ID)
			err := h.RetryMessage(c)
			if he, ok := err.(*echo.HTTPError); !ok || he.Code != tt.want {
				t.Errorf("expected %d, got %v", tt.want, err)
			}
		})
	}

	f.email.Err = nil
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)
	c.SetParamNames("id", "message_id")
	c.SetParamValues(reg.ID.String(), msgs[0].ID)
	if err := h.RetryMessage(c); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}

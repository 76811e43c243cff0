/*
handlers.go - HTTP API handlers for the payroll calculation engine

PURPOSE:
  Exposes the calculation engine via REST API. Handles HTTP request/response,
  JSON serialization and validation, and delegates to the domain packages.

ENDPOINTS:
  Calculations:
    POST   /api/calculations                      Preview one employee (cached, not persisted)
    GET    /api/eligibility                       Eligibility of one employee for one type
    POST   /api/bases/validate                    Clamp a raw base into its region band

  Batches:
    POST   /api/batches/calculate                 Calculate and persist per employee
    POST   /api/batches/recalculate               Delete and rebuild a date range
    (both accept ?format=csv|pdf for a downloadable report)

  Payrolls:
    POST   /api/payrolls                          Create or return the payroll of (employee, period)
    GET    /api/payrolls/{id}                     Payroll with items
    PUT    /api/payrolls/{id}/items/{component}   Upsert a manual line
    DELETE /api/payrolls/{id}/items/{component}   Remove a manual line

  Reports:
    GET    /api/periods/{id}/exports/{kind}       CSV or PDF report of a period
    GET    /api/employees/{id}/calculation-logs   Audit log of one employee and period

ERROR HANDLING:
  Errors are returned as JSON {"error", "details"} with status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Overlap, duplicate, or a write to an engine-owned component
  - 422: Calculation preview with errors
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/batch"
	"github.com/warp/payroll-engine/cache"
	"github.com/warp/payroll-engine/core"
	"github.com/warp/payroll-engine/export"
	"github.com/warp/payroll-engine/insurance"
	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store        core.TxStore
	Calculator   *insurance.Calculator
	Payrolls     *payroll.Service
	Orchestrator *batch.Orchestrator
	Reports      *export.Builder
	Ledger       core.Ledger
	Cache        *cache.Service // Nil disables preview caching
	Logger       *zap.Logger
	Now          func() time.Time

	validate *validator.Validate
}

// NewHandler wires the services over one store.
func NewHandler(store core.TxStore, calc *insurance.Calculator, payrolls *payroll.Service, orch *batch.Orchestrator, previews *cache.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Store:        store,
		Calculator:   calc,
		Payrolls:     payrolls,
		Orchestrator: orch,
		Reports:      export.NewBuilder(store),
		Ledger:       core.NewLedger(store),
		Cache:        previews,
		Logger:       logger,
		Now:          time.Now,
		validate:     newValidator(),
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("base_field", func(fl validator.FieldLevel) bool {
		return core.BaseField(fl.Field().String()).Valid()
	})
	return v
}

// =============================================================================
// CALCULATION HANDLERS
// =============================================================================

// PreviewCalculation runs the aggregate calculation without persisting it.
func (h *Handler) PreviewCalculation(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if !h.decode(w, r, &req) {
		return
	}
	ctx := r.Context()

	period, err := h.Store.GetPeriod(ctx, req.PeriodID)
	if err != nil {
		h.writeDomainError(w, "Failed to load period", err)
		return
	}
	date := period.End
	if req.CalculationDate != nil {
		date = *req.CalculationDate
	}

	key := cache.PreviewKey(string(req.EmployeeID), string(req.PeriodID), date.String(), previewParams(req))
	var cached insurance.Result
	if hit, err := h.Cache.Get(ctx, key, &cached); err == nil && hit {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	overrides := make(map[core.BaseField]decimal.Decimal, len(req.BaseOverrides))
	for field, v := range req.BaseOverrides {
		overrides[core.BaseField(field)] = v
	}
	result := h.Calculator.Calculate(ctx, insurance.Request{
		EmployeeID:      req.EmployeeID,
		PeriodID:        req.PeriodID,
		CalculationDate: date,
		BaseOverrides:   overrides,
		InsuranceCodes:  req.InsuranceCodes,
	})
	if !result.Valid() {
		writeJSON(w, http.StatusUnprocessableEntity, result)
		return
	}
	if err := h.Cache.Set(ctx, key, result, 0); err != nil {
		h.Logger.Warn("cache preview", zap.String("key", key), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, result)
}

// previewParams are the request fields that distinguish previews of the
// same employee, period and date.
func previewParams(req PreviewRequest) map[string]string {
	params := make(map[string]string, len(req.BaseOverrides)+1)
	for field, v := range req.BaseOverrides {
		params["base."+field] = v.String()
	}
	if len(req.InsuranceCodes) > 0 {
		codes := append([]string{}, req.InsuranceCodes...)
		sort.Strings(codes)
		params["codes"] = strings.Join(codes, ",")
	}
	return params
}

// CheckEligibility answers whether an employee contributes to a type.
func (h *Handler) CheckEligibility(w http.ResponseWriter, r *http.Request) {
	employeeID, code, date, ok := h.insuranceQuery(w, r)
	if !ok {
		return
	}

	eligible, err := h.Calculator.Resolver.CheckEligibility(r.Context(), employeeID, code, date)
	if err != nil {
		h.writeDomainError(w, "Failed to check eligibility", err)
		return
	}
	writeJSON(w, http.StatusOK, EligibilityResponse{
		EmployeeID:    employeeID,
		InsuranceCode: code,
		Date:          date,
		Eligible:      eligible,
	})
}

// ResolveInsurance answers the base and eligibility of one employee for one
// insurance type, without calculating contributions.
func (h *Handler) ResolveInsurance(w http.ResponseWriter, r *http.Request) {
	employeeID, code, date, ok := h.insuranceQuery(w, r)
	if !ok {
		return
	}

	res, warnings, err := h.Calculator.Resolver.Resolve(r.Context(), employeeID, code, date)
	if err != nil {
		h.writeDomainError(w, "Failed to resolve insurance", err)
		return
	}
	if warnings == nil {
		warnings = []string{}
	}
	writeJSON(w, http.StatusOK, ResolutionResponse{
		EmployeeID:    employeeID,
		InsuranceCode: code,
		Date:          date,
		Base:          res.Base,
		Eligible:      res.Eligible,
		Warnings:      warnings,
	})
}

// insuranceQuery reads employee_id, insurance_code and an optional date.
func (h *Handler) insuranceQuery(w http.ResponseWriter, r *http.Request) (core.EmployeeID, string, core.TimePoint, bool) {
	q := r.URL.Query()
	employeeID := core.EmployeeID(q.Get("employee_id"))
	code := q.Get("insurance_code")
	if employeeID == "" || code == "" {
		writeError(w, http.StatusBadRequest, "employee_id and insurance_code are required", nil)
		return "", "", core.TimePoint{}, false
	}
	date, ok := h.dateParam(w, q, "date")
	if !ok {
		return "", "", core.TimePoint{}, false
	}
	return employeeID, code, date, true
}

// ValidateBase clamps a raw base into the band of a region and type.
func (h *Handler) ValidateBase(w http.ResponseWriter, r *http.Request) {
	var req ValidateBaseRequest
	if !h.decode(w, r, &req) {
		return
	}
	date := h.today()
	if req.Date != nil {
		date = *req.Date
	}

	out, err := h.Calculator.Validator.Validate(r.Context(), req.Region, req.InsuranceCode, *req.Base, date)
	if err != nil {
		h.writeDomainError(w, "Failed to validate base", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// BATCH HANDLERS
// =============================================================================

// CalculateBatch persists one calculation per employee.
func (h *Handler) CalculateBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchCalculateRequest
	if !h.decode(w, r, &req) {
		return
	}
	ctx := r.Context()

	var date core.TimePoint
	if req.CalculationDate != nil {
		date = *req.CalculationDate
	}
	rows, err := h.Orchestrator.Calculate(ctx, req.EmployeeIDs, req.PeriodID, date)
	if err != nil {
		h.writeDomainError(w, "Failed to run batch calculation", err)
		return
	}
	h.invalidatePreviews(ctx, rows)

	if format := r.URL.Query().Get("format"); format != "" && format != "json" {
		h.writeBatchReport(w, r, rows, string(req.PeriodID))
		return
	}
	resp := BatchCalculateResponse{PeriodID: req.PeriodID, Total: len(rows), Rows: rows}
	for _, row := range rows {
		if row.Status == batch.StatusSuccess {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// RecalculateBatch deletes and rebuilds every period in a date range.
func (h *Handler) RecalculateBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRecalculateRequest
	if !h.decode(w, r, &req) {
		return
	}
	ctx := r.Context()

	summary, err := h.Orchestrator.Recalculate(ctx, *req.StartDate, *req.EndDate, req.EmployeeIDs)
	if err != nil {
		h.writeDomainError(w, "Failed to run recalculation", err)
		return
	}
	h.invalidatePreviews(ctx, summary.Rows)

	if format := r.URL.Query().Get("format"); format != "" && format != "json" {
		label := summary.PeriodStart.String() + "_" + summary.PeriodEnd.String()
		h.writeBatchReport(w, r, summary.Rows, label)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) invalidatePreviews(ctx context.Context, rows []batch.Row) {
	seen := make(map[core.EmployeeID]bool, len(rows))
	for _, row := range rows {
		if row.Status != batch.StatusSuccess || seen[row.EmployeeID] {
			continue
		}
		seen[row.EmployeeID] = true
		if err := h.Cache.Invalidate(ctx, cache.EmployeePattern(string(row.EmployeeID))); err != nil {
			h.Logger.Warn("invalidate previews", zap.String("employee_id", string(row.EmployeeID)), zap.Error(err))
		}
	}
}

func (h *Handler) writeBatchReport(w http.ResponseWriter, r *http.Request, rows []batch.Row, label string) {
	data := export.BatchSummary(rows)
	h.writeDataset(w, r, data, "batch", label, true)
}

// =============================================================================
// PAYROLL HANDLERS
// =============================================================================

// CreatePayroll returns 201 for a new payroll and 200 for an existing one.
func (h *Handler) CreatePayroll(w http.ResponseWriter, r *http.Request) {
	var req CreatePayrollRequest
	if !h.decode(w, r, &req) {
		return
	}
	ctx := r.Context()

	if _, err := h.Store.GetEmployee(ctx, req.EmployeeID); err != nil {
		h.writeDomainError(w, "Failed to load employee", err)
		return
	}
	if _, err := h.Store.GetPeriod(ctx, req.PeriodID); err != nil {
		h.writeDomainError(w, "Failed to load period", err)
		return
	}
	p, created, err := h.Payrolls.CreatePayroll(ctx, req.EmployeeID, req.PeriodID)
	if err != nil {
		h.writeDomainError(w, "Failed to create payroll", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, p)
}

func (h *Handler) GetPayroll(w http.ResponseWriter, r *http.Request) {
	detail, err := h.Payrolls.GetPayroll(r.Context(), core.PayrollID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, "Failed to load payroll", err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *Handler) UpsertItem(w http.ResponseWriter, r *http.Request) {
	var req UpsertItemRequest
	if !h.decode(w, r, &req) {
		return
	}
	detail, err := h.Payrolls.UpsertItem(r.Context(), core.PayrollID(chi.URLParam(r, "id")), payroll.ItemInput{
		Component: core.ComponentCode(chi.URLParam(r, "component")),
		Amount:    *req.Amount,
		Source:    req.Source,
		Note:      req.Note,
	})
	if err != nil {
		h.writeDomainError(w, "Failed to write payroll item", err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	detail, err := h.Payrolls.DeleteItem(r.Context(), core.PayrollID(chi.URLParam(r, "id")), core.ComponentCode(chi.URLParam(r, "component")))
	if err != nil {
		h.writeDomainError(w, "Failed to delete payroll item", err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// ExportPeriod renders a period report. Query: format=csv|pdf,
// encoding=utf8|gb18030, include_zero=true.
func (h *Handler) ExportPeriod(w http.ResponseWriter, r *http.Request) {
	periodID := core.PeriodID(chi.URLParam(r, "id"))
	kind := chi.URLParam(r, "kind")
	includeZero, _ := strconv.ParseBool(r.URL.Query().Get("include_zero"))

	data, err := h.Reports.Build(r.Context(), kind, periodID, includeZero)
	if err != nil {
		h.writeDomainError(w, "Failed to build report", err)
		return
	}
	h.writeDataset(w, r, data, kind, string(periodID), export.SupportsPDF(kind))
}

func (h *Handler) writeDataset(w http.ResponseWriter, r *http.Request, data export.Dataset, kind, periodKey string, pdfOK bool) {
	q := r.URL.Query()
	label := export.Label(kind)
	if label == "" {
		label = kind
	}

	switch format := strings.ToLower(q.Get("format")); format {
	case "", "csv":
		enc, err := export.ParseEncoding(q.Get("encoding"))
		if err != nil {
			h.writeDomainError(w, "Invalid encoding", err)
			return
		}
		csvExp := export.NewCSVExporter(enc)
		body, err := csvExp.Render(data)
		if err != nil {
			h.writeDomainError(w, "Failed to render report", err)
			return
		}
		writeAttachment(w, csvExp.ContentType(), export.Filename(label, periodKey, h.Now(), "csv"), body)
	case "pdf":
		if !pdfOK {
			writeError(w, http.StatusBadRequest, "PDF is not available for this report", export.ErrUnsupportedFormat)
			return
		}
		body, err := export.NewPDFExporter().Render(data, kind+" "+periodKey)
		if err != nil {
			h.writeDomainError(w, "Failed to render report", err)
			return
		}
		writeAttachment(w, "application/pdf", export.Filename(label, periodKey, h.Now(), "pdf"), body)
	default:
		writeError(w, http.StatusBadRequest, "Invalid format", fmt.Errorf("%w: %q", export.ErrUnsupportedFormat, format))
	}
}

// CalculationLogs returns the audit entries of one employee and period.
func (h *Handler) CalculationLogs(w http.ResponseWriter, r *http.Request) {
	employeeID := core.EmployeeID(chi.URLParam(r, "id"))
	periodID := core.PeriodID(r.URL.Query().Get("period_id"))
	if periodID == "" {
		writeError(w, http.StatusBadRequest, "period_id is required", nil)
		return
	}
	ctx := r.Context()
	if _, err := h.Store.GetEmployee(ctx, employeeID); err != nil {
		h.writeDomainError(w, "Failed to load employee", err)
		return
	}

	entries, err := h.Ledger.History(ctx, employeeID, periodID)
	if err != nil {
		h.writeDomainError(w, "Failed to load calculation logs", err)
		return
	}
	if entries == nil {
		entries = []core.CalculationLogEntry{}
	}
	writeJSON(w, http.StatusOK, CalculationLogsResponse{EmployeeID: employeeID, PeriodID: periodID, Entries: entries})
}

// =============================================================================
// HEALTH
// =============================================================================

type pinger interface {
	Ping(ctx context.Context) error
}

// Health reports 503 when the database is unreachable. A cache outage only
// degrades previews.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Database: "ok", Cache: "disabled"}
	status := http.StatusOK
	if p, ok := h.Store.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			resp.Status, resp.Database = "unavailable", err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	if h.Cache.Enabled() {
		resp.Cache = "ok"
	}
	writeJSON(w, status, resp)
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads and validates a JSON body, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

func (h *Handler) dateParam(w http.ResponseWriter, q url.Values, name string) (core.TimePoint, bool) {
	raw := q.Get(name)
	if raw == "" {
		return h.today(), true
	}
	d, err := core.ParseDate(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid "+name, err)
		return core.TimePoint{}, false
	}
	return d, true
}

func (h *Handler) today() core.TimePoint {
	if h.Now == nil {
		return core.Today()
	}
	return core.DateOf(h.Now())
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, payroll.ErrEngineOwnedComponent):
		return http.StatusConflict
	case core.IsNotFound(err), errors.Is(err, export.ErrUnknownReport), errors.Is(err, insurance.ErrNoActiveConfig):
		return http.StatusNotFound
	case core.IsConflict(err):
		return http.StatusConflict
	case core.IsClientError(err), errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Logger.Error(message, zap.Error(err))
	}
	writeError(w, status, message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeAttachment(w http.ResponseWriter, contentType, filename string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename*=UTF-8''%s", url.PathEscape(filename)))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

/*
handlers.go - HTTP API handlers for the effort accounting engine

PURPOSE:
  Exposes the engine via REST API. Handles HTTP request/response, JSON
  serialization, and delegates to the engine stages.

ENDPOINTS:
  Persons and master data:
    GET    /api/persons                      List persons
    POST   /api/persons                      Upsert person
    POST   /api/persons/{id}/dedications     Upsert dedication segment
    POST   /api/persons/{id}/affiliations    Upsert affiliation assignment
    POST   /api/persons/{id}/leaves          Record absence day
    POST   /api/persons/{id}/timesheet       Record declared hours
    POST   /api/affiliation-hours            Set category daily hours
    POST   /api/holidays                     Record national holiday
    POST   /api/projects                     Upsert project registry entry
    POST   /api/locks                        Freeze project/month shares

  Reads:
    GET    /api/persons/{id}/ceiling?month=  Monthly capacity ceiling
    GET    /api/persons/{id}/shares?month=   Effort shares
    GET    /api/persons/{id}/rates           Hourly rate segments
    GET    /api/persons/{id}/pending-months  Months with under-declared hours
    GET    /api/pending                      Person/months awaiting allocation

  Liquidations:
    POST   /api/liquidations                 Submit travel declaration
    GET    /api/liquidations/{id}            Declaration with status
    GET    /api/liquidations/{id}/allocations Expanded daily rows
    POST   /api/liquidations/{id}/cancel     Reverse a processed declaration

  Jobs:
    POST   /api/jobs                         Trigger a named batch job
    GET    /api/runs?limit=                  Execution log

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource or reference not found
  - 409: Constraint violations (reconciliation aborts, conflicts)
  - 500: Internal errors

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - jobs.go: Named batch jobs
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian/effort-engine/effort"
)

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  effort.TxStore
	Runner *Runner
}

// NewHandler creates a handler over the store and job runner.
func NewHandler(store effort.TxStore, runner *Runner) *Handler {
	return &Handler{Store: store, Runner: runner}
}

// =============================================================================
// PERSON AND MASTER DATA HANDLERS
// =============================================================================

// ListPersons returns all persons.
func (h *Handler) ListPersons(w http.ResponseWriter, r *http.Request) {
	persons, err := h.Store.Persons(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list persons", err)
		return
	}

	dtos := make([]PersonDTO, len(persons))
	for i, p := range persons {
		dtos[i] = PersonDTO{ID: string(p.ID), Name: p.Name}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// UpsertPerson creates or updates a person.
func (h *Handler) UpsertPerson(w http.ResponseWriter, r *http.Request) {
	var req PersonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "Person id is required", nil)
		return
	}

	if err := h.Store.SavePerson(r.Context(), effort.Person{ID: effort.PersonID(req.ID), Name: req.Name}); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save person", err)
		return
	}
	writeJSON(w, http.StatusCreated, PersonDTO{ID: req.ID, Name: req.Name})
}

// UpsertDedication records one contract segment for a person.
func (h *Handler) UpsertDedication(w http.ResponseWriter, r *http.Request) {
	person := effort.PersonID(chi.URLParam(r, "id"))

	var req DedicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	reduction := fraction(req.ReductionFraction)
	if err := effort.ValidateFraction("reduction_fraction", reduction); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid reduction fraction", err)
		return
	}
	start, end, err := parseRange(req.Start, req.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date range", err)
		return
	}

	exists := true
	if req.Exists != nil {
		exists = *req.Exists
	}
	d := effort.Dedication{
		ID:                req.ID,
		PersonID:          person,
		Start:             start,
		End:               end,
		ReductionFraction: reduction,
		Type:              effort.DedicationType(req.Type),
		AnnualCost:        fraction(req.AnnualCost),
		Exists:            exists,
	}
	if err := h.Store.SaveDedication(r.Context(), d); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save dedication", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": d.ID})
}

// UpsertAffiliation records one affiliation assignment for a person.
func (h *Handler) UpsertAffiliation(w http.ResponseWriter, r *http.Request) {
	person := effort.PersonID(chi.URLParam(r, "id"))

	var req AffiliationAssignmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	start, end, err := parseRange(req.Start, req.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date range", err)
		return
	}

	exists := true
	if req.Exists != nil {
		exists = *req.Exists
	}
	a := effort.AffiliationAssignment{
		ID:            req.ID,
		PersonID:      person,
		LineID:        req.LineID,
		Start:         start,
		End:           end,
		AffiliationID: effort.AffiliationID(req.AffiliationID),
		ResponsibleID: effort.PersonID(req.ResponsibleID),
		Exists:        exists,
	}
	if err := h.Store.SaveAffiliationAssignment(r.Context(), a); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save affiliation", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": a.ID})
}

// UpsertAffiliationHours sets the nominal daily hours of a category.
func (h *Handler) UpsertAffiliationHours(w http.ResponseWriter, r *http.Request) {
	var req AffiliationHoursRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	start, end, err := parseRange(req.Start, req.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date range", err)
		return
	}

	hours := effort.AffiliationHours{
		AffiliationID: effort.AffiliationID(req.AffiliationID),
		Start:         start,
		End:           end,
		HoursPerDay:   fraction(req.HoursPerDay),
	}
	if err := h.Store.SaveAffiliationHours(r.Context(), hours); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save affiliation hours", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"affiliation_id": req.AffiliationID})
}

// RecordLeave records one absence day for a person.
func (h *Handler) RecordLeave(w http.ResponseWriter, r *http.Request) {
	person := effort.PersonID(chi.URLParam(r, "id"))

	var req LeaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	day, err := effort.ParseDay(req.Day)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid day", err)
		return
	}
	reduction := fraction(req.ReductionFraction)
	if err := effort.ValidateFraction("reduction_fraction", reduction); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid reduction fraction", err)
		return
	}

	l := effort.Leave{
		PersonID:          person,
		Day:               day,
		Type:              effort.LeaveType(req.Type),
		ReductionFraction: reduction,
		Hours:             fraction(req.Hours),
	}
	if err := h.Store.SaveLeave(r.Context(), l); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save leave", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"day": req.Day})
}

// RecordTimesheet records declared hours for one day.
func (h *Handler) RecordTimesheet(w http.ResponseWriter, r *http.Request) {
	person := effort.PersonID(chi.URLParam(r, "id"))

	var req TimesheetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	day, err := effort.ParseDay(req.Day)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid day", err)
		return
	}

	e := effort.TimesheetEntry{PersonID: person, Day: day, Hours: fraction(req.Hours)}
	if err := h.Store.SaveTimesheetEntry(r.Context(), e); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save timesheet entry", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"day": req.Day})
}

// CreateHoliday records one national holiday.
func (h *Handler) CreateHoliday(w http.ResponseWriter, r *http.Request) {
	var req HolidayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	date, err := effort.ParseDay(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}

	if err := h.Store.SaveHoliday(r.Context(), effort.NationalHoliday{Date: date}); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save holiday", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"date": req.Date})
}

// UpsertProject creates or updates a project registry entry.
func (h *Handler) UpsertProject(w http.ResponseWriter, r *http.Request) {
	var req ProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "Project code is required", nil)
		return
	}
	start, end, err := parseRange(req.Start, req.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date range", err)
		return
	}

	p := effort.Project{
		ID:    effort.ProjectID(req.Code),
		Name:  req.Name,
		Start: start,
		End:   end,
	}
	if err := h.Store.SaveProject(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save project", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"code": req.Code})
}

// SetLock freezes or unfreezes one person/project/month.
func (h *Handler) SetLock(w http.ResponseWriter, r *http.Request) {
	var req LockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	month, err := effort.ParseMonthKey(req.Month)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid month", err)
		return
	}

	locked := true
	if req.Locked != nil {
		locked = *req.Locked
	}
	l := effort.ProjectMonthLock{
		PersonID:  effort.PersonID(req.PersonID),
		ProjectID: effort.ProjectID(req.ProjectID),
		Month:     month,
		IsLocked:  locked,
	}
	if err := h.Store.SaveLock(r.Context(), l); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save lock", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]bool{"locked": locked})
}

// =============================================================================
// READ HANDLERS
// =============================================================================

// GetCeiling returns a person's capacity ceiling for a month.
func (h *Handler) GetCeiling(w http.ResponseWriter, r *http.Request) {
	person := effort.PersonID(chi.URLParam(r, "id"))
	month, err := effort.ParseMonthKey(r.URL.Query().Get("month"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid month", err)
		return
	}

	ceiling, err := h.Store.Ceiling(r.Context(), person, month)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load ceiling", err)
		return
	}
	if ceiling == nil {
		writeError(w, http.StatusNotFound, "No ceiling for this month", nil)
		return
	}

	value, _ := ceiling.Value.Value.Float64()
	writeJSON(w, http.StatusOK, CeilingDTO{
		PersonID: string(person),
		Month:    month.String(),
		Value:    value,
	})
}

// GetShares returns a person's effort shares for a month.
func (h *Handler) GetShares(w http.ResponseWriter, r *http.Request) {
	person := effort.PersonID(chi.URLParam(r, "id"))
	month, err := effort.ParseMonthKey(r.URL.Query().Get("month"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid month", err)
		return
	}

	shares, err := h.Store.SharesFor(r.Context(), person, month)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load shares", err)
		return
	}

	dtos := make([]ShareDTO, len(shares))
	for i, s := range shares {
		dtos[i] = toShareDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetRates returns a person's hourly rate segments.
func (h *Handler) GetRates(w http.ResponseWriter, r *http.Request) {
	person := effort.PersonID(chi.URLParam(r, "id"))

	rates, err := h.Store.PersonRates(r.Context(), person)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load rates", err)
		return
	}

	dtos := make([]RateDTO, len(rates))
	for i, rate := range rates {
		dtos[i] = toRateDTO(rate)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetPending returns the feed of person/months with daily rows still
// waiting to be folded into shares.
func (h *Handler) GetPending(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Store.PendingDailyAllocations(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load pending allocations", err)
		return
	}

	type feedKey struct {
		person effort.PersonID
		month  effort.MonthKey
	}
	grouped := make(map[feedKey]*PendingMonthDTO)
	for _, row := range rows {
		key := feedKey{person: row.PersonID, month: effort.MonthOf(row.Day)}
		entry, ok := grouped[key]
		if !ok {
			entry = &PendingMonthDTO{PersonID: string(key.person), Month: key.month.String()}
			grouped[key] = entry
		}
		entry.Rows++
		pm, _ := row.PMContribution.Value.Float64()
		entry.TotalPM += pm
	}

	feed := make([]PendingMonthDTO, 0, len(grouped))
	for _, entry := range grouped {
		feed = append(feed, *entry)
	}
	sort.Slice(feed, func(i, j int) bool {
		if feed[i].PersonID != feed[j].PersonID {
			return feed[i].PersonID < feed[j].PersonID
		}
		return feed[i].Month < feed[j].Month
	})
	writeJSON(w, http.StatusOK, feed)
}

// GetPendingMonths lists the months of a year where a person's declared
// hours fall short of the workable hours. Empty when nothing is owed.
func (h *Handler) GetPendingMonths(w http.ResponseWriter, r *http.Request) {
	person := effort.PersonID(chi.URLParam(r, "id"))

	year := time.Now().UTC().Year()
	if raw := r.URL.Query().Get("year"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid year", err)
			return
		}
		year = n
	}

	declared, err := h.Runner.Calculator.DeclaredHours(r.Context(), person,
		effort.NewDay(year, time.January, 1), effort.NewDay(year, time.December, 31))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load declared hours", err)
		return
	}

	var months []MonthHoursDTO
	for m := time.January; m <= time.December; m++ {
		month := effort.MonthKey{Year: year, Month: m}
		required, err := h.Runner.Calculator.MaxHoursForMonth(r.Context(), person, month)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to compute workable hours", err)
			return
		}
		if !required.IsPositive() {
			continue
		}
		if declared[month].GreaterThanOrEqual(required) {
			continue
		}
		declaredF, _ := declared[month].Float64()
		requiredF, _ := required.Float64()
		months = append(months, MonthHoursDTO{
			Month:         month.String(),
			DeclaredHours: declaredF,
			RequiredHours: requiredF,
		})
	}
	if months == nil {
		months = []MonthHoursDTO{}
	}
	writeJSON(w, http.StatusOK, months)
}

// =============================================================================
// LIQUIDATION HANDLERS
// =============================================================================

// SubmitLiquidation stores a travel declaration for later expansion.
func (h *Handler) SubmitLiquidation(w http.ResponseWriter, r *http.Request) {
	var req LiquidationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.PersonID == "" {
		writeError(w, http.StatusBadRequest, "Liquidation id and person id are required", nil)
		return
	}
	start, end, err := parseRange(req.Start, req.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date range", err)
		return
	}
	if err := validatePercent("dedication1", req.Dedication1); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid dedication", err)
		return
	}
	if err := validatePercent("dedication2", req.Dedication2); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid dedication", err)
		return
	}

	status := effort.LiquidationNew
	if req.Override {
		status = effort.LiquidationOverride
	}
	l := effort.Liquidation{
		ID:          effort.LiquidationID(req.ID),
		PersonID:    effort.PersonID(req.PersonID),
		Project1:    req.Project1,
		Dedication1: fraction(req.Dedication1),
		Project2:    req.Project2,
		Dedication2: fraction(req.Dedication2),
		Start:       start,
		End:         end,
		Destiny:     req.Destiny,
		Reason:      req.Reason,
		Status:      status,
	}
	if err := h.Store.SaveLiquidation(r.Context(), l); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save liquidation", err)
		return
	}
	writeJSON(w, http.StatusCreated, toLiquidationDTO(l))
}

// GetLiquidation returns one declaration with its processing status.
func (h *Handler) GetLiquidation(w http.ResponseWriter, r *http.Request) {
	id := effort.LiquidationID(chi.URLParam(r, "id"))

	l, err := h.Store.Liquidation(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load liquidation", err)
		return
	}
	if l == nil {
		writeError(w, http.StatusNotFound, "Liquidation not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toLiquidationDTO(*l))
}

// GetLiquidationAllocations returns the expanded daily rows.
func (h *Handler) GetLiquidationAllocations(w http.ResponseWriter, r *http.Request) {
	id := effort.LiquidationID(chi.URLParam(r, "id"))

	rows, err := h.Store.DailyAllocationsByLiquidation(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load allocations", err)
		return
	}

	dtos := make([]AllocationDTO, len(rows))
	for i, row := range rows {
		dtos[i] = toAllocationDTO(row)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CancelLiquidation reverses a processed declaration.
func (h *Handler) CancelLiquidation(w http.ResponseWriter, r *http.Request) {
	id := effort.LiquidationID(chi.URLParam(r, "id"))

	record, err := h.Runner.Run(r.Context(), JobCancel, JobParams{LiquidationID: id})
	if err != nil {
		writeDomainError(w, "Failed to cancel liquidation", err)
		return
	}
	writeJSON(w, http.StatusOK, toRunDTO(record))
}

// =============================================================================
// JOB HANDLERS
// =============================================================================

// TriggerJob runs one named batch job synchronously.
func (h *Handler) TriggerJob(w http.ResponseWriter, r *http.Request) {
	var req JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Process == "" {
		writeError(w, http.StatusBadRequest, "Process name is required", nil)
		return
	}

	params := JobParams{
		PersonID:      effort.PersonID(req.PersonID),
		LiquidationID: effort.LiquidationID(req.LiquidationID),
		Year:          req.Year,
		Month:         time.Month(req.Month),
	}
	if params.Year == 0 {
		now := time.Now().UTC()
		params.Year = now.Year()
		params.Month = now.Month()
	}

	record, err := h.Runner.Run(r.Context(), req.Process, params)
	if err != nil {
		writeDomainError(w, "Job failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toRunDTO(record))
}

// ListRuns returns the execution log, newest first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	runs, err := h.Store.Runs(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load runs", err)
		return
	}

	dtos := make([]RunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func parseRange(startRaw, endRaw string) (effort.Day, effort.Day, error) {
	start, err := effort.ParseDay(startRaw)
	if err != nil {
		return effort.Day{}, effort.Day{}, err
	}
	end, err := effort.ParseDay(endRaw)
	if err != nil {
		return effort.Day{}, effort.Day{}, err
	}
	if end.Before(start) {
		return effort.Day{}, effort.Day{}, fmt.Errorf("end %s before start %s: %w", endRaw, startRaw, effort.ErrValidation)
	}
	return start, end, nil
}

func validatePercent(field string, v float64) error {
	if v < 0 || v > 100 {
		return fmt.Errorf("%s out of range [0,100]: %v: %w", field, v, effort.ErrValidation)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Error = fmt.Sprintf("%s: %v", message, err)
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps engine error categories to HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case effort.IsValidation(err):
		writeError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, effort.ErrLiquidationNotFound) || effort.IsReferenceMissing(err):
		writeError(w, http.StatusNotFound, message, err)
	case effort.IsConstraintViolation(err) || errors.Is(err, effort.ErrDedicationConflict):
		writeError(w, http.StatusConflict, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

DATES:
  Days travel as YYYY-MM-DD strings, months as YYYY-MM strings. Effort
  values travel as plain JSON numbers; they are converted to decimals at
  the boundary and stay decimal inside.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data
  carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian/effort-engine/effort"
)

// =============================================================================
// REQUEST TYPES - Master data ingestion
// =============================================================================

// PersonRequest creates or updates a person.
type PersonRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DedicationRequest upserts one contract segment.
type DedicationRequest struct {
	ID                string  `json:"id"`
	Start             string  `json:"start"`
	End               string  `json:"end"`
	ReductionFraction float64 `json:"reduction_fraction"`
	Type              int     `json:"type"`
	AnnualCost        float64 `json:"annual_cost"`
	Exists            *bool   `json:"exists,omitempty"` // nil means active
}

// AffiliationAssignmentRequest links a person to an affiliation category.
type AffiliationAssignmentRequest struct {
	ID            string `json:"id"`
	LineID        string `json:"line_id"`
	Start         string `json:"start"`
	End           string `json:"end"`
	AffiliationID string `json:"affiliation_id"`
	ResponsibleID string `json:"responsible_id,omitempty"`
	Exists        *bool  `json:"exists,omitempty"`
}

// AffiliationHoursRequest sets the nominal daily hours of a category.
type AffiliationHoursRequest struct {
	AffiliationID string  `json:"affiliation_id"`
	Start         string  `json:"start"`
	End           string  `json:"end"`
	HoursPerDay   float64 `json:"hours_per_day"`
}

// LeaveRequest records one absence day.
type LeaveRequest struct {
	Day               string  `json:"day"`
	Type              int     `json:"type"`
	ReductionFraction float64 `json:"reduction_fraction"`
	Hours             float64 `json:"hours"`
}

// HolidayRequest records one national holiday.
type HolidayRequest struct {
	Date string `json:"date"`
}

// TimesheetRequest records declared hours for one day.
type TimesheetRequest struct {
	Day   string  `json:"day"`
	Hours float64 `json:"hours"`
}

// ProjectRequest upserts a registry entry.
type ProjectRequest struct {
	Code  string `json:"code"`
	Name  string `json:"name"`
	Start string `json:"start"`
	End   string `json:"end"`
}

// LockRequest freezes or unfreezes one person/project/month.
type LockRequest struct {
	PersonID  string `json:"person_id"`
	ProjectID string `json:"project_id"`
	Month     string `json:"month"`
	Locked    *bool  `json:"locked,omitempty"` // nil means locked
}

// LiquidationRequest submits a travel declaration.
type LiquidationRequest struct {
	ID          string  `json:"id"`
	PersonID    string  `json:"person_id"`
	Project1    string  `json:"project1"`
	Dedication1 float64 `json:"dedication1"` // percent, 0..100
	Project2    string  `json:"project2,omitempty"`
	Dedication2 float64 `json:"dedication2,omitempty"`
	Start       string  `json:"start"`
	End         string  `json:"end"`
	Destiny     string  `json:"destiny"`
	Reason      string  `json:"reason,omitempty"`
	Override    bool    `json:"override,omitempty"` // bypass skip rules
}

// JobRequest triggers one named batch job.
type JobRequest struct {
	Process       string `json:"process"`
	PersonID      string `json:"person_id,omitempty"`
	LiquidationID string `json:"liquidation_id,omitempty"`
	Year          int    `json:"year,omitempty"`
	Month         int    `json:"month,omitempty"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type PersonDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type CeilingDTO struct {
	PersonID string  `json:"person_id"`
	Month    string  `json:"month"`
	Value    float64 `json:"value"`
}

type ShareDTO struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	WorkPackage string  `json:"work_package"`
	Month       string  `json:"month"`
	Value       float64 `json:"value"`
}

type RateDTO struct {
	ID            string  `json:"id"`
	AffiliationID string  `json:"affiliation_id"`
	Start         string  `json:"start"`
	End           string  `json:"end"`
	Rate          float64 `json:"rate"`
}

type LiquidationDTO struct {
	ID          string  `json:"id"`
	PersonID    string  `json:"person_id"`
	Project1    string  `json:"project1"`
	Dedication1 float64 `json:"dedication1"`
	Project2    string  `json:"project2,omitempty"`
	Dedication2 float64 `json:"dedication2,omitempty"`
	Start       string  `json:"start"`
	End         string  `json:"end"`
	Destiny     string  `json:"destiny"`
	Status      int     `json:"status"`
}

type AllocationDTO struct {
	ID        string  `json:"id"`
	ProjectID string  `json:"project_id"`
	Day       string  `json:"day"`
	PM        float64 `json:"pm"`
	Applied   bool    `json:"applied"`
}

type RunDTO struct {
	ID          string `json:"id"`
	Process     string `json:"process"`
	StartedAt   string `json:"started_at"`
	CompletedAt string `json:"completed_at"`
	Status      string `json:"status"`
	Message     string `json:"message,omitempty"`
	Items       int    `json:"items"`
	Failures    int    `json:"failures"`
}

// MonthHoursDTO is one month where a person's declared hours fall short
// of the workable hours their affiliation allows. Feeds the notification
// collaborator.
type MonthHoursDTO struct {
	Month         string  `json:"month"`
	DeclaredHours float64 `json:"declared_hours"`
	RequiredHours float64 `json:"required_hours"`
}

// PendingMonthDTO is one entry of the pending-work feed: a person/month
// with daily rows still waiting to be folded into shares.
type PendingMonthDTO struct {
	PersonID string  `json:"person_id"`
	Month    string  `json:"month"`
	Rows     int     `json:"rows"`
	TotalPM  float64 `json:"total_pm"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toShareDTO(s effort.EffortShare) ShareDTO {
	value, _ := s.Value.Value.Float64()
	return ShareDTO{
		ID:          s.ID,
		ProjectID:   string(s.ProjectID),
		WorkPackage: s.WorkPackage,
		Month:       s.Month.String(),
		Value:       value,
	}
}

func toRateDTO(r effort.PersonRate) RateDTO {
	rate, _ := r.Rate.Float64()
	return RateDTO{
		ID:            r.ID,
		AffiliationID: string(r.AffiliationID),
		Start:         r.Start.String(),
		End:           r.End.String(),
		Rate:          rate,
	}
}

func toLiquidationDTO(l effort.Liquidation) LiquidationDTO {
	ded1, _ := l.Dedication1.Float64()
	ded2, _ := l.Dedication2.Float64()
	return LiquidationDTO{
		ID:          string(l.ID),
		PersonID:    string(l.PersonID),
		Project1:    l.Project1,
		Dedication1: ded1,
		Project2:    l.Project2,
		Dedication2: ded2,
		Start:       l.Start.String(),
		End:         l.End.String(),
		Destiny:     l.Destiny,
		Status:      int(l.Status),
	}
}

func toAllocationDTO(r effort.DailyProjectAllocation) AllocationDTO {
	pm, _ := r.PMContribution.Value.Float64()
	return AllocationDTO{
		ID:        r.ID,
		ProjectID: string(r.ProjectID),
		Day:       r.Day.String(),
		PM:        pm,
		Applied:   r.LineStatus == effort.LineApplied,
	}
}

func toRunDTO(r effort.RunRecord) RunDTO {
	return RunDTO{
		ID:          r.ID,
		Process:     r.Process,
		StartedAt:   r.StartedAt.Format(time.RFC3339),
		CompletedAt: r.CompletedAt.Format(time.RFC3339),
		Status:      string(r.Status),
		Message:     r.Message,
		Items:       r.Items,
		Failures:    r.Failures,
	}
}

func fraction(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

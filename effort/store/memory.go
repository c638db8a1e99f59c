// Package store provides an in-memory effort.Store implementation
// (for testing/dev).
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/meridian/effort-engine/effort"
)

// =============================================================================
// MEMORY STORE - In-memory implementation of effort.TxStore
// =============================================================================

type Memory struct {
	mu sync.RWMutex

	persons      map[effort.PersonID]effort.Person
	dedications  map[effort.PersonID][]effort.Dedication
	affiliations map[effort.PersonID][]effort.AffiliationAssignment
	affHours     map[effort.AffiliationID][]effort.AffiliationHours
	leaves       map[effort.PersonID][]effort.Leave
	holidays     map[int][]effort.NationalHoliday
	timesheet    map[effort.PersonID][]effort.TimesheetEntry

	projects     map[string]effort.Project // by code
	workPackages map[effort.WorkPackageID]effort.WorkPackage
	members      map[memberKey]bool
	assignments  map[effort.AssignmentID]effort.WorkPackageAssignment

	ceilings map[ceilingKey]effort.CapacityCeiling
	shares   map[string]effort.EffortShare // by share ID
	locks    map[lockKey]bool
	rates    map[effort.PersonID][]effort.PersonRate

	liquidations map[effort.LiquidationID]effort.Liquidation
	dailyRows    map[string]effort.DailyProjectAllocation // by row ID

	runs []effort.RunRecord
}

type memberKey struct {
	Project effort.ProjectID
	Person  effort.PersonID
}

type ceilingKey struct {
	Person effort.PersonID
	Month  effort.MonthKey
}

type lockKey struct {
	Person  effort.PersonID
	Project effort.ProjectID
	Month   effort.MonthKey
}

func NewMemory() *Memory {
	return &Memory{
		persons:      make(map[effort.PersonID]effort.Person),
		dedications:  make(map[effort.PersonID][]effort.Dedication),
		affiliations: make(map[effort.PersonID][]effort.AffiliationAssignment),
		affHours:     make(map[effort.AffiliationID][]effort.AffiliationHours),
		leaves:       make(map[effort.PersonID][]effort.Leave),
		holidays:     make(map[int][]effort.NationalHoliday),
		timesheet:    make(map[effort.PersonID][]effort.TimesheetEntry),
		projects:     make(map[string]effort.Project),
		workPackages: make(map[effort.WorkPackageID]effort.WorkPackage),
		members:      make(map[memberKey]bool),
		assignments:  make(map[effort.AssignmentID]effort.WorkPackageAssignment),
		ceilings:     make(map[ceilingKey]effort.CapacityCeiling),
		shares:       make(map[string]effort.EffortShare),
		locks:        make(map[lockKey]bool),
		rates:        make(map[effort.PersonID][]effort.PersonRate),
		liquidations: make(map[effort.LiquidationID]effort.Liquidation),
		dailyRows:    make(map[string]effort.DailyProjectAllocation),
	}
}

// =============================================================================
// REFERENCE STORE
// =============================================================================

func (m *Memory) Persons(_ context.Context) ([]effort.Person, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]effort.Person, 0, len(m.persons))
	for _, p := range m.persons {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SavePerson(_ context.Context, p effort.Person) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persons[p.ID] = p
	return nil
}

func (m *Memory) DedicationsFor(_ context.Context, person effort.PersonID) ([]effort.Dedication, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]effort.Dedication(nil), m.dedications[person]...), nil
}

func (m *Memory) SaveDedication(_ context.Context, d effort.Dedication) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.dedications[d.PersonID]
	for i, existing := range rows {
		if existing.ID == d.ID {
			rows[i] = d
			return nil
		}
	}
	m.dedications[d.PersonID] = append(rows, d)
	return nil
}

func (m *Memory) AffiliationAssignmentsFor(_ context.Context, person effort.PersonID) ([]effort.AffiliationAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]effort.AffiliationAssignment(nil), m.affiliations[person]...), nil
}

func (m *Memory) SaveAffiliationAssignment(_ context.Context, a effort.AffiliationAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.affiliations[a.PersonID]
	for i, existing := range rows {
		if existing.ID == a.ID {
			rows[i] = a
			return nil
		}
	}
	m.affiliations[a.PersonID] = append(rows, a)
	return nil
}

func (m *Memory) AffiliationHoursFor(_ context.Context, aff effort.AffiliationID) ([]effort.AffiliationHours, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]effort.AffiliationHours(nil), m.affHours[aff]...), nil
}

func (m *Memory) SaveAffiliationHours(_ context.Context, h effort.AffiliationHours) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.affHours[h.AffiliationID] = append(m.affHours[h.AffiliationID], h)
	return nil
}

func (m *Memory) LeavesFor(_ context.Context, person effort.PersonID, from, to effort.Day) ([]effort.Leave, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []effort.Leave
	for _, l := range m.leaves[person] {
		if l.Day.AfterOrEqual(from) && l.Day.BeforeOrEqual(to) {
			out = append(out, l)
		}
	}
	// Stable day/type order regardless of insertion order.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Day.Equal(out[j].Day) {
			return out[i].Day.Before(out[j].Day)
		}
		return out[i].Type < out[j].Type
	})
	return out, nil
}

func (m *Memory) SaveLeave(_ context.Context, l effort.Leave) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.leaves[l.PersonID]
	for i, existing := range rows {
		if existing.Day.Equal(l.Day) && existing.Type == l.Type {
			rows[i] = l
			return nil
		}
	}
	m.leaves[l.PersonID] = append(rows, l)
	return nil
}

func (m *Memory) Holidays(_ context.Context, year int) ([]effort.NationalHoliday, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]effort.NationalHoliday(nil), m.holidays[year]...), nil
}

func (m *Memory) SaveHoliday(_ context.Context, h effort.NationalHoliday) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	year := h.Date.Year()
	for _, existing := range m.holidays[year] {
		if existing.Date.Equal(h.Date) {
			return nil
		}
	}
	m.holidays[year] = append(m.holidays[year], h)
	return nil
}

func (m *Memory) TimesheetFor(_ context.Context, person effort.PersonID, from, to effort.Day) ([]effort.TimesheetEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []effort.TimesheetEntry
	for _, e := range m.timesheet[person] {
		if e.Day.AfterOrEqual(from) && e.Day.BeforeOrEqual(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) SaveTimesheetEntry(_ context.Context, e effort.TimesheetEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timesheet[e.PersonID] = append(m.timesheet[e.PersonID], e)
	return nil
}

// =============================================================================
// PROJECT STORE
// =============================================================================

func (m *Memory) ProjectByCode(_ context.Context, code string) (*effort.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.projects[code]; ok {
		return &p, nil
	}
	return nil, nil
}

func (m *Memory) SaveProject(_ context.Context, p effort.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[string(p.ID)] = p
	return nil
}

func (m *Memory) WorkPackageByName(_ context.Context, project effort.ProjectID, name string) (*effort.WorkPackage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, wp := range m.workPackages {
		if wp.ProjectID == project && wp.Name == name {
			found := wp
			return &found, nil
		}
	}
	return nil, nil
}

func (m *Memory) SaveWorkPackage(_ context.Context, wp effort.WorkPackage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// (project, name) uniqueness: keep the first one, mirroring the SQL
	// unique index.
	for _, existing := range m.workPackages {
		if existing.ProjectID == wp.ProjectID && existing.Name == wp.Name && existing.ID != wp.ID {
			return nil
		}
	}
	m.workPackages[wp.ID] = wp
	return nil
}

func (m *Memory) IsProjectMember(_ context.Context, project effort.ProjectID, person effort.PersonID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.members[memberKey{Project: project, Person: person}], nil
}

func (m *Memory) SaveProjectMember(_ context.Context, mem effort.ProjectMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[memberKey{Project: mem.ProjectID, Person: mem.PersonID}] = true
	return nil
}

func (m *Memory) AssignmentFor(_ context.Context, person effort.PersonID, wp effort.WorkPackageID) (*effort.WorkPackageAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.assignments {
		if a.PersonID == person && a.WorkPackageID == wp {
			found := a
			return &found, nil
		}
	}
	return nil, nil
}

func (m *Memory) SaveAssignment(_ context.Context, a effort.WorkPackageAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments[a.ID] = a
	return nil
}

// =============================================================================
// EFFORT STORE
// =============================================================================

func (m *Memory) Ceiling(_ context.Context, person effort.PersonID, month effort.MonthKey) (*effort.CapacityCeiling, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.ceilings[ceilingKey{Person: person, Month: month}]; ok {
		return &c, nil
	}
	return nil, nil
}

func (m *Memory) SaveCeiling(_ context.Context, c effort.CapacityCeiling) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ceilings[ceilingKey{Person: c.PersonID, Month: c.Month}] = c
	return nil
}

func (m *Memory) SharesFor(_ context.Context, person effort.PersonID, month effort.MonthKey) ([]effort.EffortShare, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []effort.EffortShare
	for _, s := range m.shares {
		if s.PersonID == person && s.Month == month {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SharesForProject(_ context.Context, person effort.PersonID, project effort.ProjectID, month effort.MonthKey) ([]effort.EffortShare, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []effort.EffortShare
	for _, s := range m.shares {
		if s.PersonID == person && s.ProjectID == project && s.Month == month {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveShare(_ context.Context, s effort.EffortShare) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Unique per (assignment, month).
	for id, existing := range m.shares {
		if existing.AssignmentID == s.AssignmentID && existing.Month == s.Month && id != s.ID {
			s.ID = id
			break
		}
	}
	m.shares[s.ID] = s
	return nil
}

func (m *Memory) UpdateShareValues(_ context.Context, values map[string]decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, v := range values {
		s, ok := m.shares[id]
		if !ok {
			return effort.ErrTransactionFailed
		}
		s.Value = effort.PMFromDecimal(v)
		m.shares[id] = s
	}
	return nil
}

func (m *Memory) IsLocked(_ context.Context, person effort.PersonID, project effort.ProjectID, month effort.MonthKey) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.locks[lockKey{Person: person, Project: project, Month: month}], nil
}

func (m *Memory) SaveLock(_ context.Context, l effort.ProjectMonthLock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locks[lockKey{Person: l.PersonID, Project: l.ProjectID, Month: l.Month}] = l.IsLocked
	return nil
}

func (m *Memory) SavePersonRate(_ context.Context, r effort.PersonRate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rates[r.PersonID] = append(m.rates[r.PersonID], r)
	return nil
}

func (m *Memory) PersonRates(_ context.Context, person effort.PersonID) ([]effort.PersonRate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]effort.PersonRate(nil), m.rates[person]...), nil
}

func (m *Memory) DeletePersonRates(_ context.Context, person effort.PersonID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rates, person)
	return nil
}

// =============================================================================
// LIQUIDATION STORE
// =============================================================================

func (m *Memory) Liquidation(_ context.Context, id effort.LiquidationID) (*effort.Liquidation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if l, ok := m.liquidations[id]; ok {
		return &l, nil
	}
	return nil, nil
}

func (m *Memory) LiquidationsByStatus(_ context.Context, status effort.LiquidationStatus) ([]effort.Liquidation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []effort.Liquidation
	for _, l := range m.liquidations {
		if l.Status == status {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveLiquidation(_ context.Context, l effort.Liquidation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.liquidations[l.ID] = l
	return nil
}

func (m *Memory) SetLiquidationStatus(_ context.Context, id effort.LiquidationID, status effort.LiquidationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.liquidations[id]
	if !ok {
		return effort.ErrTransactionFailed
	}
	l.Status = status
	m.liquidations[id] = l
	return nil
}

func (m *Memory) SaveDailyAllocations(_ context.Context, rows []effort.DailyProjectAllocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		m.dailyRows[r.ID] = r
	}
	return nil
}

func (m *Memory) DeleteDailyAllocations(_ context.Context, id effort.LiquidationID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for rowID, r := range m.dailyRows {
		if r.LiquidationID == id {
			delete(m.dailyRows, rowID)
		}
	}
	return nil
}

func (m *Memory) DailyAllocationsByLiquidation(_ context.Context, id effort.LiquidationID) ([]effort.DailyProjectAllocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterRows(func(r effort.DailyProjectAllocation) bool {
		return r.LiquidationID == id
	}), nil
}

func (m *Memory) PendingDailyAllocations(_ context.Context) ([]effort.DailyProjectAllocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterRows(func(r effort.DailyProjectAllocation) bool {
		return r.LineStatus == effort.LinePending
	}), nil
}

func (m *Memory) DailyAllocationsFor(_ context.Context, person effort.PersonID, project effort.ProjectID, month effort.MonthKey) ([]effort.DailyProjectAllocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterRows(func(r effort.DailyProjectAllocation) bool {
		return r.PersonID == person && r.ProjectID == project && month.Contains(r.Day)
	}), nil
}

func (m *Memory) DailyAllocationsForMonth(_ context.Context, person effort.PersonID, month effort.MonthKey) ([]effort.DailyProjectAllocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterRows(func(r effort.DailyProjectAllocation) bool {
		return r.PersonID == person && month.Contains(r.Day)
	}), nil
}

func (m *Memory) MarkAllocationsApplied(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		r, ok := m.dailyRows[id]
		if !ok {
			return effort.ErrTransactionFailed
		}
		r.LineStatus = effort.LineApplied
		m.dailyRows[id] = r
	}
	return nil
}

func (m *Memory) filterRows(keep func(effort.DailyProjectAllocation) bool) []effort.DailyProjectAllocation {
	var out []effort.DailyProjectAllocation
	for _, r := range m.dailyRows {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Day.Equal(out[j].Day) {
			return out[i].Day.Before(out[j].Day)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// =============================================================================
// RUN LOG
// =============================================================================

func (m *Memory) SaveRun(_ context.Context, r effort.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, r)
	return nil
}

func (m *Memory) Runs(_ context.Context, limit int) ([]effort.RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]effort.RunRecord(nil), m.runs...)
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// =============================================================================
// TRANSACTIONS - Snapshot + rollback on error
// =============================================================================

// WithTx executes fn against the store; on error the mutable effort and
// liquidation state is restored from a snapshot.
func (m *Memory) WithTx(ctx context.Context, fn func(effort.Store) error) error {
	snap := m.snapshot()
	if err := fn(txView{m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	shares    map[string]effort.EffortShare
	dailyRows map[string]effort.DailyProjectAllocation
	liqs      map[effort.LiquidationID]effort.Liquidation
}

func (m *Memory) snapshot() memorySnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := memorySnapshot{
		shares:    make(map[string]effort.EffortShare, len(m.shares)),
		dailyRows: make(map[string]effort.DailyProjectAllocation, len(m.dailyRows)),
		liqs:      make(map[effort.LiquidationID]effort.Liquidation, len(m.liquidations)),
	}
	for k, v := range m.shares {
		snap.shares[k] = v
	}
	for k, v := range m.dailyRows {
		snap.dailyRows[k] = v
	}
	for k, v := range m.liquidations {
		snap.liqs[k] = v
	}
	return snap
}

func (m *Memory) restore(snap memorySnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shares = snap.shares
	m.dailyRows = snap.dailyRows
	m.liquidations = snap.liqs
}

// txView forwards to the parent; writes are undone by restore on error.
type txView struct {
	*Memory
}

/*
aggregate.go - Rolling daily rows into monthly effort shares

Groups pending daily allocation rows by (project, month, person). When
the person's existing non-travel shares on the project already cover the
group's PM total, the travel is absorbed and the lines are just marked
applied. Otherwise the shortfall lands on the project's TRAVELS work
package, created lazily per project.
*/
package liquidation

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/meridian/effort-engine/effort"
)

type groupKey struct {
	Project effort.ProjectID
	Month   effort.MonthKey
	Person  effort.PersonID
}

// Aggregate rolls every pending daily allocation row into monthly effort
// shares. Returns the number of groups handled and the number that
// failed; one group's failure does not abort the rest.
func (p *Pipeline) Aggregate(ctx context.Context) (handled, failed int, err error) {
	pending, err := p.Store.PendingDailyAllocations(ctx)
	if err != nil {
		return 0, 0, err
	}

	groups := make(map[groupKey]bool)
	for _, row := range pending {
		groups[groupKey{Project: row.ProjectID, Month: effort.MonthOf(row.Day), Person: row.PersonID}] = true
	}

	for key := range groups {
		if err := p.aggregateGroup(ctx, key); err != nil {
			log.Printf("[Allocation] aggregate %s/%s/%s failed: %v", key.Person, key.Project, key.Month, err)
			failed++
			continue
		}
		handled++
	}
	return handled, failed, nil
}

func (p *Pipeline) aggregateGroup(ctx context.Context, key groupKey) error {
	// The group total spans every row of the slice, not just the pending
	// ones.
	rows, err := p.Store.DailyAllocationsFor(ctx, key.Person, key.Project, key.Month)
	if err != nil {
		return err
	}

	totalPMs := effort.ZeroPM()
	var pendingIDs []string
	for _, row := range rows {
		totalPMs = totalPMs.Add(row.PMContribution)
		if row.LineStatus == effort.LinePending {
			pendingIDs = append(pendingIDs, row.ID)
		}
	}
	if len(pendingIDs) == 0 {
		return nil
	}

	if err := p.ensureMember(ctx, key.Project, key.Person); err != nil {
		return err
	}

	// Existing non-travel coverage on the project/month.
	shares, err := p.Store.SharesForProject(ctx, key.Person, key.Project, key.Month)
	if err != nil {
		return err
	}
	accumulated := effort.ZeroPM()
	for _, s := range shares {
		if !s.IsTravels() {
			accumulated = accumulated.Add(s.Value)
		}
	}

	if accumulated.GreaterOrEqual(totalPMs) {
		// Assignment already justifies the travel; nothing to add.
		return p.Store.MarkAllocationsApplied(ctx, pendingIDs)
	}

	shortfall := totalPMs.Sub(accumulated)
	assignment, err := p.ensureTravelsAssignment(ctx, key.Project, key.Person)
	if err != nil {
		return err
	}

	existing := findShare(shares, assignment.ID, key.Month)
	if existing != nil {
		existing.Value = existing.Value.Add(shortfall)
		if err := p.Store.SaveShare(ctx, *existing); err != nil {
			return err
		}
	} else {
		share := effort.EffortShare{
			ID:            uuid.NewString(),
			AssignmentID:  assignment.ID,
			PersonID:      key.Person,
			ProjectID:     key.Project,
			WorkPackageID: assignment.WorkPackageID,
			WorkPackage:   effort.TravelsWorkPackageName,
			Month:         key.Month,
			Value:         shortfall,
		}
		if err := p.Store.SaveShare(ctx, share); err != nil {
			return err
		}
	}

	return p.Store.MarkAllocationsApplied(ctx, pendingIDs)
}

func (p *Pipeline) ensureMember(ctx context.Context, project effort.ProjectID, person effort.PersonID) error {
	member, err := p.Store.IsProjectMember(ctx, project, person)
	if err != nil {
		return err
	}
	if member {
		return nil
	}
	return p.Store.SaveProjectMember(ctx, effort.ProjectMember{ProjectID: project, PersonID: person})
}

// ensureTravelsAssignment returns the person's link to the project's
// TRAVELS work package, creating the package (spanning the project's full
// dates) and the link as needed.
func (p *Pipeline) ensureTravelsAssignment(ctx context.Context, projectID effort.ProjectID, person effort.PersonID) (*effort.WorkPackageAssignment, error) {
	wp, err := p.Store.WorkPackageByName(ctx, projectID, effort.TravelsWorkPackageName)
	if err != nil {
		return nil, err
	}
	if wp == nil {
		project, err := p.Store.ProjectByCode(ctx, string(projectID))
		if err != nil {
			return nil, err
		}
		if project == nil {
			return nil, fmt.Errorf("project %s: %w", projectID, effort.ErrReferenceMissing)
		}
		created := effort.WorkPackage{
			ID:        effort.WorkPackageID(uuid.NewString()),
			ProjectID: projectID,
			Name:      effort.TravelsWorkPackageName,
			Start:     project.Start,
			End:       project.End,
		}
		if err := p.Store.SaveWorkPackage(ctx, created); err != nil {
			return nil, err
		}
		// Re-read: the (project, name) uniqueness constraint may have kept
		// a concurrently created package instead of ours.
		wp, err = p.Store.WorkPackageByName(ctx, projectID, effort.TravelsWorkPackageName)
		if err != nil {
			return nil, err
		}
		if wp == nil {
			return nil, effort.ErrTransactionFailed
		}
	}

	assignment, err := p.Store.AssignmentFor(ctx, person, wp.ID)
	if err != nil {
		return nil, err
	}
	if assignment == nil {
		created := effort.WorkPackageAssignment{
			ID:            effort.AssignmentID(uuid.NewString()),
			WorkPackageID: wp.ID,
			PersonID:      person,
		}
		if err := p.Store.SaveAssignment(ctx, created); err != nil {
			return nil, err
		}
		assignment = &created
	}
	return assignment, nil
}

func findShare(shares []effort.EffortShare, assignment effort.AssignmentID, month effort.MonthKey) *effort.EffortShare {
	for i := range shares {
		if shares[i].AssignmentID == assignment && shares[i].Month == month {
			return &shares[i]
		}
	}
	return nil
}

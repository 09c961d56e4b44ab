package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/retifica-erp/retifica/internal/procurement/thresholds"
)

// ThresholdAuditor lists overlapping active tiers of an organization.
type ThresholdAuditor interface {
	Audit(ctx context.Context, orgID int64) ([][2]thresholds.Threshold, error)
}

// OrgLister enumerates organizations that have active tiers.
type OrgLister interface {
	OrgIDs(ctx context.Context) ([]int64, error)
}

// ThresholdsCLI checks stored threshold configuration.
type ThresholdsCLI struct {
	auditor ThresholdAuditor
	orgs    OrgLister
}

// NewThresholdsCLI constructs the helper.
func NewThresholdsCLI(auditor ThresholdAuditor, orgs OrgLister) *ThresholdsCLI {
	return &ThresholdsCLI{auditor: auditor, orgs: orgs}
}

// AuditOptions defines the flags of the thresholds audit command.
type AuditOptions struct {
	OrgID      int64
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// AuditConflict is one overlapping pair in the JSON report.
type AuditConflict struct {
	OrgID  int64  `json:"org_id"`
	First  int64  `json:"first_id"`
	Range1 string `json:"first_range"`
	Second int64  `json:"second_id"`
	Range2 string `json:"second_range"`
}

// AuditSummary is the JSON output of the audit command.
type AuditSummary struct {
	OK        bool            `json:"ok"`
	Orgs      int             `json:"orgs"`
	Conflicts []AuditConflict `json:"conflicts"`
}

// AuditCommand reports overlapping active tiers and returns 10 when any exist.
func (c *ThresholdsCLI) AuditCommand(ctx context.Context, opts AuditOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	orgIDs := []int64{opts.OrgID}
	if opts.OrgID <= 0 {
		ids, err := c.orgs.OrgIDs(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "thresholds audit: list orgs: %v\n", err)
			return 1
		}
		orgIDs = ids
	}

	summary := AuditSummary{Orgs: len(orgIDs), Conflicts: []AuditConflict{}}
	for _, orgID := range orgIDs {
		pairs, err := c.auditor.Audit(ctx, orgID)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "thresholds audit: org %d: %v\n", orgID, err)
			return 1
		}
		for _, p := range pairs {
			summary.Conflicts = append(summary.Conflicts, AuditConflict{
				OrgID:  orgID,
				First:  p[0].ID,
				Range1: p[0].Range.String(),
				Second: p[1].ID,
				Range2: p[1].Range.String(),
			})
		}
	}
	summary.OK = len(summary.Conflicts) == 0

	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "thresholds audit: encode json: %v\n", err)
			return 1
		}
	} else {
		_, _ = fmt.Fprintf(opts.Stdout, "Checked %d organization(s)\n", summary.Orgs)
		if summary.OK {
			_, _ = fmt.Fprintln(opts.Stdout, "No overlapping active thresholds.")
		}
		for _, conflict := range summary.Conflicts {
			_, _ = fmt.Fprintf(opts.Stdout, " - org %d: #%d %s overlaps #%d %s\n",
				conflict.OrgID, conflict.First, conflict.Range1, conflict.Second, conflict.Range2)
		}
	}
	if !summary.OK {
		return 10
	}
	return 0
}

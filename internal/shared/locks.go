package shared

import "fmt"

// ThresholdLockKey names the per-organization critical section for threshold edits.
func ThresholdLockKey(orgID int64) string {
	return fmt.Sprintf("procurement:thresholds:%d:lock", orgID)
}

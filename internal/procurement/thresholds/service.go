package thresholds

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/retifica-erp/retifica/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListActive(ctx context.Context, orgID int64) ([]Threshold, error)
	List(ctx context.Context, orgID int64, includeInactive bool) ([]Threshold, error)
	Get(ctx context.Context, id int64) (Threshold, error)
}

// TxRepository exposes transactional operations. Reads inside a transaction
// happen after LockOrg so that overlap checks see every tier committed by
// the previous holder of the organization lock.
type TxRepository interface {
	LockOrg(ctx context.Context, orgID int64) error
	ListActive(ctx context.Context, orgID int64) ([]Threshold, error)
	GetForUpdate(ctx context.Context, id int64) (Threshold, error)
	Insert(ctx context.Context, t Threshold) (Threshold, error)
	Update(ctx context.Context, t Threshold) (Threshold, error)
	Deactivate(ctx context.Context, id int64) error
	RecordAudit(ctx context.Context, log shared.AuditLog) error
}

// Service owns the threshold configuration of each organization and the
// invariant that active ranges never overlap.
type Service struct {
	repo      RepositoryPort
	cache     *SnapshotCache
	logger    *slog.Logger
	validator *validator.Validate
}

// NewService constructs the threshold service. cache may be nil.
func NewService(repo RepositoryPort, cache *SnapshotCache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger, validator: newValidator()}
}

// List returns thresholds of orgID ordered by MinValue.
func (s *Service) List(ctx context.Context, orgID int64, includeInactive bool) ([]Threshold, error) {
	return s.repo.List(ctx, orgID, includeInactive)
}

// Get returns one threshold, active or not.
func (s *Service) Get(ctx context.Context, id int64) (Threshold, error) {
	return s.repo.Get(ctx, id)
}

// Create validates and stores a new active threshold.
func (s *Service) Create(ctx context.Context, input Input) (Threshold, error) {
	candidate, err := s.validate(input)
	if err != nil {
		return Threshold{}, err
	}
	var created Threshold
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockOrg(ctx, candidate.OrgID); err != nil {
			return err
		}
		active, err := tx.ListActive(ctx, candidate.OrgID)
		if err != nil {
			return err
		}
		if conflict := DetectOverlap(active, candidate.Range, 0); conflict != nil {
			return overlapError(candidate.Range, *conflict)
		}
		created, err = tx.Insert(ctx, candidate)
		if err != nil {
			return err
		}
		return tx.RecordAudit(ctx, s.auditLog(ctx, "THRESHOLD_CREATE", created))
	})
	if err != nil {
		return Threshold{}, err
	}
	s.invalidate(ctx, created.OrgID)
	return created, nil
}

// Update validates and replaces an active threshold. The threshold itself is
// excluded from the overlap check so its own range may shift.
func (s *Service) Update(ctx context.Context, id int64, input Input) (Threshold, error) {
	var updated Threshold
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !current.IsActive {
			return &shared.PreconditionError{Entity: "threshold", ID: id, State: "inactive", Reason: "deactivated thresholds cannot be edited"}
		}
		if input.OrgID != 0 && input.OrgID != current.OrgID {
			return ErrNotFound
		}
		input.OrgID = current.OrgID
		candidate, err := s.validate(input)
		if err != nil {
			return err
		}
		if err := tx.LockOrg(ctx, current.OrgID); err != nil {
			return err
		}
		active, err := tx.ListActive(ctx, current.OrgID)
		if err != nil {
			return err
		}
		if conflict := DetectOverlap(active, candidate.Range, id); conflict != nil {
			return overlapError(candidate.Range, *conflict)
		}
		candidate.ID = id
		candidate.CreatedAt = current.CreatedAt
		updated, err = tx.Update(ctx, candidate)
		if err != nil {
			return err
		}
		return tx.RecordAudit(ctx, s.auditLog(ctx, "THRESHOLD_UPDATE", updated))
	})
	if err != nil {
		return Threshold{}, err
	}
	s.invalidate(ctx, updated.OrgID)
	return updated, nil
}

// Remove deactivates a threshold. Rows are never deleted so that historical
// approvals keep their tier context. Removing an inactive threshold is a no-op.
func (s *Service) Remove(ctx context.Context, id int64) error {
	var orgID int64
	changed := false
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		orgID = current.OrgID
		if !current.IsActive {
			return nil
		}
		if err := tx.LockOrg(ctx, current.OrgID); err != nil {
			return err
		}
		if err := tx.Deactivate(ctx, id); err != nil {
			return err
		}
		changed = true
		current.IsActive = false
		return tx.RecordAudit(ctx, s.auditLog(ctx, "THRESHOLD_DEACTIVATE", current))
	})
	if err != nil {
		return err
	}
	if changed {
		s.invalidate(ctx, orgID)
	}
	return nil
}

// Audit lists active overlapping pairs of an organization. It is empty unless
// rows were written outside this service.
func (s *Service) Audit(ctx context.Context, orgID int64) ([][2]Threshold, error) {
	active, err := s.repo.ListActive(ctx, orgID)
	if err != nil {
		return nil, err
	}
	sorted := activeSorted(active)
	var pairs [][2]Threshold
	for i := range sorted {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[i].Range.Overlaps(sorted[j].Range) {
				pairs = append(pairs, [2]Threshold{sorted[i], sorted[j]})
			}
		}
	}
	return pairs, nil
}

func (s *Service) invalidate(ctx context.Context, orgID int64) {
	if err := s.cache.Invalidate(ctx, orgID); err != nil {
		s.logger.Warn("invalidate threshold cache", slog.Int64("org_id", orgID), slog.Any("error", err))
	}
}

func (s *Service) auditLog(ctx context.Context, action string, t Threshold) shared.AuditLog {
	actor, _ := shared.ActorFromContext(ctx)
	maxValue := ""
	if t.Range.Max.Valid {
		maxValue = t.Range.Max.Decimal.String()
	}
	return shared.AuditLog{
		ActorID:  actor.ID,
		OrgID:    t.OrgID,
		Action:   action,
		Entity:   "approval_threshold",
		EntityID: strconv.FormatInt(t.ID, 10),
		Meta: map[string]any{
			"min_value":     t.Range.Min.String(),
			"max_value":     maxValue,
			"approval_type": string(t.Type),
			"approvers":     t.Approvers,
			"is_active":     t.IsActive,
		},
	}
}

func overlapError(candidate Range, conflict Threshold) error {
	return &shared.OverlapError{
		Candidate:  candidate.String(),
		ConflictID: conflict.ID,
		Conflict:   conflict.Range.String(),
	}
}

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/melih/lighthouse-runner/internal/core/domain"
	"github.com/melih/lighthouse-runner/internal/core/ports"
)

// Reconcile refreshes every non-terminal record from the runtime and returns
// how many of them changed status.
func (m *ContainerManager) Reconcile(ctx context.Context) (int, error) {
	records, err := m.store.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list containers: %w", err)
	}

	before := make([]domain.Status, len(records))
	for i, rec := range records {
		before[i] = rec.Status
	}
	if err := m.refreshAll(ctx, records); err != nil {
		return 0, err
	}

	changed := 0
	for i, rec := range records {
		if rec.Status != before[i] {
			changed++
		}
	}
	if changed > 0 {
		m.log.WithField("changed", changed).Info("reconciled container states")
	}
	return changed, nil
}

// Cleanup force-removes every container started before now-maxAge, marks its
// record removed and purges it from the store. Managed engine containers
// created before the cutoff that have no record at all are removed too, so a
// restart with a fresh store does not leak them.
func (m *ContainerManager) Cleanup(ctx context.Context, maxAge time.Duration) (domain.CleanupReport, error) {
	if maxAge <= 0 {
		return domain.CleanupReport{}, fmt.Errorf("%w: max age must be positive", domain.ErrInvalidArgument)
	}
	cutoff := m.now().Add(-maxAge)
	report := domain.CleanupReport{CutoffTime: cutoff}

	records, err := m.store.ListAll(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list containers: %w", err)
	}

	for _, rec := range records {
		if !rec.StartedAt.Before(cutoff) {
			continue
		}
		log := m.log.WithFields(logrus.Fields{"container_id": rec.ID, "owner": rec.Owner})

		if !isFailedID(rec.ID) {
			if err := m.runtime.RemoveContainer(ctx, rec.ID); err != nil && !errors.Is(err, ports.ErrContainerNotFound) {
				log.WithError(err).Warn("failed to remove expired container, will retry next run")
				continue
			}
		}
		if err := m.markRemoved(ctx, rec); err != nil {
			log.WithError(err).Warn("failed to mark expired container removed")
			continue
		}
		if err := m.store.Delete(ctx, rec.ID); err != nil {
			log.WithError(err).Warn("failed to purge expired container record")
			continue
		}
		report.CleanedCount++
	}
	report.CleanedCount += m.removeOrphans(ctx, cutoff)

	m.log.WithFields(logrus.Fields{
		"cleaned": report.CleanedCount,
		"cutoff":  cutoff.Format(time.RFC3339),
	}).Info("cleanup finished")
	return report, nil
}

func (m *ContainerManager) markRemoved(ctx context.Context, rec *domain.Container) error {
	for attempt := 0; attempt < casAttempts; attempt++ {
		if rec.Status == domain.StatusRemoved {
			return nil
		}
		updated, err := m.store.CompareAndSwapStatus(ctx, rec.ID, rec.Status, domain.StatusChange{
			To:     domain.StatusRemoved,
			At:     m.now(),
			Reason: "expired",
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrStatusConflict) || updated == nil {
			return err
		}
		rec = updated
	}
	return fmt.Errorf("%w: container %s", domain.ErrStatusConflict, rec.ID)
}

// removeOrphans removes managed engine containers older than cutoff that the
// store knows nothing about.
func (m *ContainerManager) removeOrphans(ctx context.Context, cutoff time.Time) int {
	engine, err := m.runtime.ListContainers(ctx)
	if err != nil {
		m.log.WithError(err).Warn("failed to list runtime containers, skipping orphan sweep")
		return 0
	}

	removed := 0
	for _, rc := range engine {
		if !rc.CreatedAt.Before(cutoff) {
			continue
		}
		log := m.log.WithFields(logrus.Fields{"container_id": rc.ID, "owner": rc.Owner})
		if _, err := m.store.Get(ctx, rc.ID); !errors.Is(err, domain.ErrNotFound) {
			if err != nil {
				log.WithError(err).Warn("failed to look up runtime container")
			}
			continue
		}
		if err := m.runtime.RemoveContainer(ctx, rc.ID); err != nil && !errors.Is(err, ports.ErrContainerNotFound) {
			log.WithError(err).Warn("failed to remove orphaned container, will retry next run")
			continue
		}
		log.Info("removed orphaned container")
		removed++
	}
	return removed
}

package machine

import (
	"context"
	"errors"
	"fmt"
)

// Maintenance operations run out-of-band (operator CLI) against the store
// directly. They bypass the engine, so a running service keeps serving any
// cached copy of the machine until its next write to that machine.

// Provision creates AVAILABLE machines at a location. IDs that already
// exist are reported through ErrMachineExists and stop the batch.
func Provision(ctx context.Context, repo Repository, locationID string, ids []string) ([]Machine, error) {
	created := make([]Machine, 0, len(ids))
	for _, id := range ids {
		m := &Machine{ID: id, LocationID: locationID, Status: StatusAvailable}
		if err := repo.Create(ctx, m); err != nil {
			return created, fmt.Errorf("provisioning %s: %w", id, err)
		}
		created = append(created, *m)
	}
	return created, nil
}

// Reset returns a faulted machine to AVAILABLE and clears its job.
//
// Without force only ERROR machines are reset. With force, RUNNING and
// AWAITING_DROPOFF machines are released too (cycle finished, drop-off
// abandoned). Resetting an AVAILABLE machine is a no-op.
func Reset(ctx context.Context, repo Repository, id string, force bool) (*Machine, error) {
	m, err := repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Status == StatusAvailable {
		return m, nil
	}
	if m.Status != StatusError && !force {
		return nil, fmt.Errorf("%w: %s is %s, use force to release it", ErrStatusConflict, id, m.Status)
	}

	err = repo.CompareAndSwap(ctx, id, Transition{
		From:     m.Status,
		To:       StatusAvailable,
		SetJobID: true,
	})
	if errors.Is(err, ErrStatusConflict) {
		return nil, fmt.Errorf("%w: %s changed while resetting, retry", ErrStatusConflict, id)
	}
	if err != nil {
		return nil, err
	}
	return repo.GetByID(ctx, id)
}

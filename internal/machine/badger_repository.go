package machine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

const (
	machineKeyPrefix = "machine:"

	// maxTxnRetries bounds retries of a badger write that lost to a
	// concurrent transaction on the same key.
	maxTxnRetries = 16
)

// BadgerRepository implements Repository on an embedded Badger database.
// Machines are stored as JSON under "machine:<id>". Listing scans the
// prefix and sorts by creation time, matching the SQLite listing order.
type BadgerRepository struct {
	db *badger.DB
}

// BadgerOptions configures OpenBadgerRepository.
type BadgerOptions struct {
	// Dir is the data directory. Ignored when InMemory is set.
	Dir string

	InMemory bool
}

// OpenBadgerRepository opens (or creates) a Badger-backed repository.
func OpenBadgerRepository(opts BadgerOptions) (*BadgerRepository, error) {
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		bopts = badger.DefaultOptions(filepath.Clean(opts.Dir))
		bopts = bopts.WithValueLogFileSize(1 << 24)
	}
	bopts.Logger = nil

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("opening badger: %w", err)
	}
	return &BadgerRepository{db: db}, nil
}

// Close closes the underlying database.
func (r *BadgerRepository) Close() error {
	return r.db.Close()
}

// HealthCheck reports whether the database is still open.
func (r *BadgerRepository) HealthCheck(context.Context) error {
	if r.db.IsClosed() {
		return errors.New("badger: database closed")
	}
	return nil
}

func machineKey(id string) []byte {
	return []byte(machineKeyPrefix + id)
}

// GetByID retrieves a machine by its unique identifier.
func (r *BadgerRepository) GetByID(_ context.Context, id string) (*Machine, error) {
	var out *Machine
	err := r.db.View(func(txn *badger.Txn) error {
		m, err := getMachine(txn, id)
		if err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// List retrieves all machines.
func (r *BadgerRepository) List(_ context.Context) ([]Machine, error) {
	return r.scan(func(*Machine) bool { return true })
}

// ListByLocation retrieves all machines at a location.
func (r *BadgerRepository) ListByLocation(_ context.Context, locationID string) ([]Machine, error) {
	return r.scan(func(m *Machine) bool { return m.LocationID == locationID })
}

// Create inserts a new machine.
func (r *BadgerRepository) Create(_ context.Context, m *Machine) error {
	if err := m.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}

	return r.update(func(txn *badger.Txn) error {
		_, err := txn.Get(machineKey(m.ID))
		switch {
		case err == nil:
			return ErrMachineExists
		case !errors.Is(err, badger.ErrKeyNotFound):
			return fmt.Errorf("checking machine exists: %w", err)
		}
		return putMachine(txn, m)
	})
}

// UpdateStatus sets the status unconditionally.
func (r *BadgerRepository) UpdateStatus(_ context.Context, id string, status Status) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return r.modify(id, func(m *Machine) error {
		m.Status = status
		return nil
	})
}

// UpdateJobID sets or clears the job ID unconditionally.
func (r *BadgerRepository) UpdateJobID(_ context.Context, id string, jobID *string) error {
	return r.modify(id, func(m *Machine) error {
		m.JobID = nil
		if jobID != nil && *jobID != "" {
			job := *jobID
			m.JobID = &job
		}
		return nil
	})
}

// CompareAndSwap applies t inside one read-write transaction. Badger's
// optimistic concurrency aborts a concurrent writer with ErrConflict, which
// is retried and then sees the new status.
func (r *BadgerRepository) CompareAndSwap(_ context.Context, id string, t Transition) error {
	if !t.From.IsValid() || !t.To.IsValid() {
		return fmt.Errorf("%w: %q -> %q", ErrInvalidStatus, t.From, t.To)
	}
	return r.modify(id, func(m *Machine) error {
		if m.Status != t.From {
			return ErrStatusConflict
		}
		m.Status = t.To
		if t.SetJobID {
			m.JobID = nil
			if t.JobID != nil && *t.JobID != "" {
				job := *t.JobID
				m.JobID = &job
			}
		}
		return nil
	})
}

// modify runs a read-modify-write of one machine.
func (r *BadgerRepository) modify(id string, fn func(*Machine) error) error {
	return r.update(func(txn *badger.Txn) error {
		m, err := getMachine(txn, id)
		if err != nil {
			return err
		}
		if err := fn(m); err != nil {
			return err
		}
		m.UpdatedAt = time.Now().UTC()
		return putMachine(txn, m)
	})
}

func (r *BadgerRepository) update(fn func(*badger.Txn) error) error {
	var err error
	for range maxTxnRetries {
		err = r.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("badger transaction kept conflicting: %w", err)
}

func (r *BadgerRepository) scan(keep func(*Machine) bool) ([]Machine, error) {
	var machines []Machine
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(machineKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var m Machine
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &m)
			}); err != nil {
				return fmt.Errorf("decoding %s: %w", it.Item().Key(), err)
			}
			if keep(&m) {
				machines = append(machines, m)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning machines: %w", err)
	}

	sort.SliceStable(machines, func(i, j int) bool {
		if machines[i].CreatedAt.Equal(machines[j].CreatedAt) {
			return machines[i].ID < machines[j].ID
		}
		return machines[i].CreatedAt.Before(machines[j].CreatedAt)
	})
	return machines, nil
}

func getMachine(txn *badger.Txn, id string) (*Machine, error) {
	item, err := txn.Get(machineKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrMachineNotFound
		}
		return nil, fmt.Errorf("reading machine: %w", err)
	}
	var m Machine
	if err := item.Value(func(v []byte) error {
		return json.Unmarshal(v, &m)
	}); err != nil {
		return nil, fmt.Errorf("decoding machine: %w", err)
	}
	return &m, nil
}

func putMachine(txn *badger.Txn, m *Machine) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding machine: %w", err)
	}
	return txn.Set(machineKey(m.ID), data)
}

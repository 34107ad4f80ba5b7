package machine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// maxAllocationRounds bounds how many times RequestAllocation re-lists a
// location after losing the claim on every candidate it saw.
const maxAllocationRounds = 8

// DeviceClient triggers the physical start cycle on a machine.
// A non-nil error means the machine did not start.
type DeviceClient interface {
	StartCycle(ctx context.Context, machineID string) error
}

// Logger defines the logging interface used by the Engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Engine runs allocation and the machine lifecycle.
//
// Every operation returns a Result. The error return is reserved for
// infrastructure failures (store unreachable, corrupt rows); domain outcomes
// such as NOT_FOUND or HARDWARE_ERROR are Results with a nil error.
//
// All public methods are thread-safe.
type Engine struct {
	repo   Repository
	cache  Cache
	device DeviceClient
	logger Logger

	observersMu sync.RWMutex
	observers   []Observer

	// starting holds the IDs with a StartMachine call in flight.
	starting sync.Map
	inflight sync.WaitGroup
}

// NewEngine creates an Engine over its collaborators.
func NewEngine(repo Repository, cache Cache, device DeviceClient) *Engine {
	return &Engine{
		repo:   repo,
		cache:  cache,
		device: device,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the engine.
func (e *Engine) SetLogger(logger Logger) {
	e.logger = logger
}

// AddObserver registers an observer for committed transitions.
func (e *Engine) AddObserver(o Observer) {
	e.observersMu.Lock()
	e.observers = append(e.observers, o)
	e.observersMu.Unlock()
}

// Drain waits for in-flight StartMachine calls to record their outcome.
// Call it once no new requests can reach the engine and before the store
// is closed.
func (e *Engine) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for machine starts: %w", ctx.Err())
	}
}

// Warm loads every machine from the store into the cache.
func (e *Engine) Warm(ctx context.Context) (int, error) {
	machines, err := e.repo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading machines: %w", err)
	}
	for i := range machines {
		e.cache.Put(machines[i].ID, &machines[i])
	}
	e.logger.Info("machine cache warmed", "count", len(machines))
	return len(machines), nil
}

// RequestAllocation assigns jobID to the first AVAILABLE machine at
// locationID, moving it to AWAITING_DROPOFF.
//
// The claim is a compare-and-swap from AVAILABLE. When a concurrent
// allocation wins a candidate first, the next candidate in listing order is
// tried, and the location is listed again once the candidates run out. A
// request that finds nothing AVAILABLE gets NOT_FOUND.
func (e *Engine) RequestAllocation(ctx context.Context, locationID, jobID string) (Result, error) {
	if locationID == "" || jobID == "" {
		return resultOf(CodeBadRequest, nil), nil
	}

	for round := 0; round < maxAllocationRounds; round++ {
		candidates, err := e.repo.ListByLocation(ctx, locationID)
		if err != nil {
			return InternalError(), fmt.Errorf("listing machines at %s: %w", locationID, err)
		}

		claimed, lost, err := e.claimFirstAvailable(ctx, candidates, jobID)
		if err != nil {
			return InternalError(), err
		}
		if claimed == nil {
			if lost == 0 {
				return resultOf(CodeNotFound, nil), nil
			}
			e.logger.Debug("allocation lost every candidate, rescanning",
				"location_id", locationID, "lost", lost, "round", round)
			continue
		}

		// The claim is committed; report it even if the caller has gone.
		fresh, err := e.commit(context.WithoutCancel(ctx), claimed, StatusAvailable)
		if err != nil {
			return InternalError(), err
		}
		e.logger.Info("machine allocated",
			"machine_id", fresh.ID, "location_id", locationID, "job_id", jobID)
		return resultOf(CodeOK, fresh), nil
	}

	return InternalError(), fmt.Errorf("%w: location %s", ErrAllocationContention, locationID)
}

// claimFirstAvailable walks candidates in order and claims the first one
// still AVAILABLE. lost counts candidates taken by someone else between the
// listing and the swap.
func (e *Engine) claimFirstAvailable(ctx context.Context, candidates []Machine, jobID string) (*Machine, int, error) {
	lost := 0
	for i := range candidates {
		m := &candidates[i]
		if m.Status != StatusAvailable {
			continue
		}

		err := e.repo.CompareAndSwap(ctx, m.ID, Transition{
			From:     StatusAvailable,
			To:       StatusAwaitingDropoff,
			SetJobID: true,
			JobID:    &jobID,
		})
		switch {
		case err == nil:
			return m, lost, nil
		case errors.Is(err, ErrStatusConflict), errors.Is(err, ErrMachineNotFound):
			lost++
		default:
			return nil, lost, fmt.Errorf("claiming machine %s: %w", m.ID, err)
		}
	}
	return nil, lost, nil
}

// GetMachine returns the cached machine, falling back to the store on a
// miss. Cached records may trail a concurrent write; a machine the store
// doesn't hold is never cached.
func (e *Engine) GetMachine(ctx context.Context, id string) (Result, error) {
	if cached, ok := e.cache.Get(id); ok {
		return resultOf(CodeOK, cached), nil
	}

	m, err := e.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrMachineNotFound) {
			return resultOf(CodeNotFound, nil), nil
		}
		return InternalError(), fmt.Errorf("reading machine %s: %w", id, err)
	}

	e.cache.Put(id, m)
	return resultOf(CodeOK, m), nil
}

// StartMachine starts the cycle on a machine that is AWAITING_DROPOFF.
//
// The device result is recorded as RUNNING (OK) or ERROR (HARDWARE_ERROR).
// Only one start per machine is in flight at a time; concurrent callers
// are rejected with BAD_REQUEST and the current snapshot, and never reach
// the device.
func (e *Engine) StartMachine(ctx context.Context, id string) (Result, error) {
	current, err := e.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrMachineNotFound) {
			return resultOf(CodeNotFound, nil), nil
		}
		return InternalError(), fmt.Errorf("reading machine %s: %w", id, err)
	}
	if current.Status != StatusAwaitingDropoff {
		return resultOf(CodeBadRequest, current), nil
	}

	if _, busy := e.starting.LoadOrStore(id, struct{}{}); busy {
		e.logger.Debug("start already in flight", "machine_id", id)
		return resultOf(CodeBadRequest, current), nil
	}
	defer e.starting.Delete(id)
	e.inflight.Add(1)
	defer e.inflight.Done()

	// A start that finished between the first read and taking the guard
	// has already committed its outcome.
	current, err = e.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrMachineNotFound) {
			return resultOf(CodeNotFound, nil), nil
		}
		return InternalError(), fmt.Errorf("re-reading machine %s: %w", id, err)
	}
	if current.Status != StatusAwaitingDropoff {
		return resultOf(CodeBadRequest, current), nil
	}

	// The outcome is recorded even if the caller goes away mid-cycle.
	ctx = context.WithoutCancel(ctx)

	code, to := CodeOK, StatusRunning
	if devErr := e.device.StartCycle(ctx, id); devErr != nil {
		e.logger.Warn("machine start failed",
			"machine_id", id, "job_id", deref(current.JobID), "error", devErr)
		code, to = CodeHardwareError, StatusError
	}

	err = e.repo.CompareAndSwap(ctx, id, Transition{From: StatusAwaitingDropoff, To: to})
	switch {
	case err == nil:
	case errors.Is(err, ErrStatusConflict):
		// Moved by a maintenance reset during the device call.
		e.logger.Warn("machine changed during start, outcome not recorded",
			"machine_id", id, "outcome", to)
		snapshot, rerr := e.repo.GetByID(ctx, id)
		if rerr != nil {
			return InternalError(), fmt.Errorf("re-reading machine %s: %w", id, rerr)
		}
		return resultOf(CodeBadRequest, snapshot), nil
	case errors.Is(err, ErrMachineNotFound):
		return resultOf(CodeNotFound, nil), nil
	default:
		e.logger.Error("recording start outcome failed", "machine_id", id, "outcome", to, "error", err)
		return InternalError(), fmt.Errorf("recording %s for machine %s: %w", to, id, err)
	}

	fresh, err := e.commit(ctx, current, StatusAwaitingDropoff)
	if err != nil {
		return InternalError(), err
	}
	e.logger.Info("machine start recorded", "machine_id", id, "status", fresh.Status)
	return resultOf(code, fresh), nil
}

// commit re-reads a machine after a successful store write, caches the
// fresh record and notifies observers.
func (e *Engine) commit(ctx context.Context, before *Machine, from Status) (*Machine, error) {
	fresh, err := e.repo.GetByID(ctx, before.ID)
	if err != nil {
		return nil, fmt.Errorf("re-reading machine %s: %w", before.ID, err)
	}
	e.cache.Put(fresh.ID, fresh)

	e.notify(ctx, Event{
		MachineID:  fresh.ID,
		LocationID: fresh.LocationID,
		JobID:      fresh.JobID,
		From:       from,
		To:         fresh.Status,
		At:         time.Now().UTC(),
	})
	return fresh, nil
}

func (e *Engine) notify(ctx context.Context, ev Event) {
	e.observersMu.RLock()
	observers := e.observers
	e.observersMu.RUnlock()

	for _, o := range observers {
		o.ObserveTransition(ctx, ev)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

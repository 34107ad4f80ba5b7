package machine

import (
	"context"
	"sort"
	"sync"
	"time"
)

// fakeRepo is an in-memory Repository with call counters and error injection.
type fakeRepo struct {
	mu       sync.Mutex
	machines map[string]*Machine
	seq      int

	getCalls    int
	listCalls   int
	casCalls    int
	updateCalls int

	getErr  error
	listErr error
	casErr  error

	// listBarrier, when set, holds the first n ListByLocation callers until
	// all n have listed.
	listBarrier *barrier

	// beforeCAS runs before each CompareAndSwap, outside the lock.
	beforeCAS func(id string)
}

func newFakeRepo(machines ...Machine) *fakeRepo {
	r := &fakeRepo{machines: make(map[string]*Machine)}
	for i := range machines {
		m := machines[i]
		r.seq++
		m.CreatedAt = time.Unix(int64(r.seq), 0).UTC()
		r.machines[m.ID] = m.DeepCopy()
	}
	return r
}

func (r *fakeRepo) GetByID(ctx context.Context, id string) (*Machine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getCalls++
	if r.getErr != nil {
		return nil, r.getErr
	}
	m, ok := r.machines[id]
	if !ok {
		return nil, ErrMachineNotFound
	}
	return m.DeepCopy(), nil
}

func (r *fakeRepo) List(_ context.Context) ([]Machine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listCalls++
	if r.listErr != nil {
		return nil, r.listErr
	}
	return r.sortedLocked(func(*Machine) bool { return true }), nil
}

func (r *fakeRepo) ListByLocation(_ context.Context, locationID string) ([]Machine, error) {
	r.mu.Lock()
	r.listCalls++
	if r.listErr != nil {
		r.mu.Unlock()
		return nil, r.listErr
	}
	out := r.sortedLocked(func(m *Machine) bool { return m.LocationID == locationID })
	r.mu.Unlock()

	if r.listBarrier != nil {
		r.listBarrier.wait()
	}
	return out, nil
}

func (r *fakeRepo) Create(_ context.Context, m *Machine) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.machines[m.ID]; ok {
		return ErrMachineExists
	}
	r.seq++
	m.CreatedAt = time.Unix(int64(r.seq), 0).UTC()
	r.machines[m.ID] = m.DeepCopy()
	return nil
}

func (r *fakeRepo) UpdateStatus(_ context.Context, id string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateCalls++
	m, ok := r.machines[id]
	if !ok {
		return ErrMachineNotFound
	}
	m.Status = status
	return nil
}

func (r *fakeRepo) UpdateJobID(_ context.Context, id string, jobID *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateCalls++
	m, ok := r.machines[id]
	if !ok {
		return ErrMachineNotFound
	}
	m.JobID = jobID
	return nil
}

func (r *fakeRepo) CompareAndSwap(_ context.Context, id string, t Transition) error {
	if r.beforeCAS != nil {
		r.beforeCAS(id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.casCalls++
	if r.casErr != nil {
		return r.casErr
	}
	m, ok := r.machines[id]
	if !ok {
		return ErrMachineNotFound
	}
	if m.Status != t.From {
		return ErrStatusConflict
	}
	m.Status = t.To
	if t.SetJobID {
		m.JobID = nil
		if t.JobID != nil {
			job := *t.JobID
			m.JobID = &job
		}
	}
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *fakeRepo) sortedLocked(keep func(*Machine) bool) []Machine {
	var out []Machine
	for _, m := range r.machines {
		if keep(m) {
			out = append(out, *m.DeepCopy())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *fakeRepo) snapshot(id string) *Machine {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.machines[id].DeepCopy()
}

func (r *fakeRepo) calls() (get, list, cas, update int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getCalls, r.listCalls, r.casCalls, r.updateCalls
}

// countingCache wraps MemoryCache with call counters.
type countingCache struct {
	*MemoryCache
	mu       sync.Mutex
	getCalls int
	putCalls int
}

func newCountingCache() *countingCache {
	return &countingCache{MemoryCache: NewMemoryCache()}
}

func (c *countingCache) Get(id string) (*Machine, bool) {
	c.mu.Lock()
	c.getCalls++
	c.mu.Unlock()
	return c.MemoryCache.Get(id)
}

func (c *countingCache) Put(id string, m *Machine) {
	c.mu.Lock()
	c.putCalls++
	c.mu.Unlock()
	c.MemoryCache.Put(id, m)
}

func (c *countingCache) calls() (get, put int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getCalls, c.putCalls
}

// fakeDevice records StartCycle calls. When block is set, each call
// signals entered and waits for release.
type fakeDevice struct {
	mu    sync.Mutex
	calls []string
	err   error

	block   bool
	entered chan struct{}
	release chan struct{}
}

func newBlockingDevice() *fakeDevice {
	return &fakeDevice{
		block:   true,
		entered: make(chan struct{}, 8),
		release: make(chan struct{}),
	}
}

func (d *fakeDevice) StartCycle(_ context.Context, machineID string) error {
	d.mu.Lock()
	d.calls = append(d.calls, machineID)
	err := d.err
	d.mu.Unlock()

	if d.block {
		d.entered <- struct{}{}
		<-d.release
	}
	return err
}

func (d *fakeDevice) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

// recordingObserver collects events.
type recordingObserver struct {
	mu     sync.Mutex
	events []Event
}

func (o *recordingObserver) ObserveTransition(_ context.Context, ev Event) {
	o.mu.Lock()
	o.events = append(o.events, ev)
	o.mu.Unlock()
}

func (o *recordingObserver) all() []Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Event(nil), o.events...)
}

// barrier releases its first n waiters together. Later callers pass through.
type barrier struct {
	mu    sync.Mutex
	n     int
	count int
	ch    chan struct{}
}

func newBarrier(n int) *barrier {
	return &barrier{n: n, ch: make(chan struct{})}
}

func (b *barrier) wait() {
	b.mu.Lock()
	b.count++
	if b.count == b.n {
		close(b.ch)
	}
	late := b.count > b.n
	b.mu.Unlock()
	if !late {
		<-b.ch
	}
}

func strPtr(s string) *string { return &s }

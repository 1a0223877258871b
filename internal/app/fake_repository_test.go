package app

import (
	"context"
	"errors"
	"sort"
	"sync"

	"callcenter_crm/internal/domain/followup"
	idb "callcenter_crm/internal/infra/database"
)

var errInjected = errors.New("injected failure")

var _ followup.Repository = (*fakeRepository)(nil)

type fakeState struct {
	statuses map[int64]followup.Status
	requests map[int64]followup.Request
	persons  map[int64]followup.Person
	entries  map[int64]followup.LogEntry
	nextID   int64
}

func (s *fakeState) clone() *fakeState {
	c := &fakeState{
		statuses: make(map[int64]followup.Status, len(s.statuses)),
		requests: make(map[int64]followup.Request, len(s.requests)),
		persons:  make(map[int64]followup.Person, len(s.persons)),
		entries:  make(map[int64]followup.LogEntry, len(s.entries)),
		nextID:   s.nextID,
	}
	for k, v := range s.statuses {
		c.statuses[k] = v
	}
	for k, v := range s.requests {
		c.requests[k] = v
	}
	for k, v := range s.persons {
		c.persons[k] = v
	}
	for k, v := range s.entries {
		c.entries[k] = v
	}
	return c
}

// fakeRepository keeps everything in memory. WithinTx works on a copy of the
// state and swaps it in only when fn succeeds.
type fakeRepository struct {
	mu    *sync.Mutex
	root  *fakeRepository
	state *fakeState
	inTx  bool

	failUpdateFor map[int64]bool // UpdateRequest fails for these request ids
	updateCalls   int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		mu: &sync.Mutex{},
		state: &fakeState{
			statuses: map[int64]followup.Status{},
			requests: map[int64]followup.Request{},
			persons:  map[int64]followup.Person{},
			entries:  map[int64]followup.LogEntry{},
			nextID:   1000,
		},
		failUpdateFor: map[int64]bool{},
	}
}

func (f *fakeRepository) addStatus(st followup.Status) {
	f.state.statuses[st.ID] = st
}

func (f *fakeRepository) addPerson(p followup.Person) {
	f.state.persons[p.ID] = p
}

func (f *fakeRepository) addRequest(r followup.Request) {
	r.Status = nil
	r.Person = nil
	f.state.requests[r.ID] = r
}

func (f *fakeRepository) addEntry(e followup.LogEntry) {
	f.state.entries[e.ID] = e
}

// request returns the committed row as stored, with Status resolved.
func (f *fakeRepository) request(id int64) followup.Request {
	r, _ := f.hydrate(f.state.requests[id])
	return *r
}

func (f *fakeRepository) currentEntries(requestID int64) []followup.LogEntry {
	var out []followup.LogEntry
	for _, e := range f.state.entries {
		if e.RequestID == requestID && e.IsCurrent {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeRepository) status(id int64) *followup.Status {
	st, ok := f.state.statuses[id]
	if !ok {
		return nil
	}
	if st.Policy != nil {
		p := *st.Policy
		st.Policy = &p
	}
	return &st
}

func (f *fakeRepository) hydrate(r followup.Request) (*followup.Request, error) {
	if r.StatusID.Valid {
		r.Status = f.status(r.StatusID.Int64)
	}
	if p, ok := f.state.persons[r.PersonID]; ok {
		r.Person = &p
	}
	return &r, nil
}

func (f *fakeRepository) GetStatus(_ context.Context, id int64) (*followup.Status, error) {
	st := f.status(id)
	if st == nil {
		return nil, idb.ErrStatusNotFound
	}
	return st, nil
}

func (f *fakeRepository) ListStatuses(_ context.Context) ([]*followup.Status, error) {
	var out []*followup.Status
	for id := range f.state.statuses {
		out = append(out, f.status(id))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRepository) FindClosureStatus(ctx context.Context) (*followup.Status, error) {
	statuses, _ := f.ListStatuses(ctx)
	for _, st := range statuses {
		if followup.IsClosureTarget(st.Name) {
			return st, nil
		}
	}
	return nil, idb.ErrStatusNotFound
}

func (f *fakeRepository) GetRequest(_ context.Context, id int64) (*followup.Request, error) {
	r, ok := f.state.requests[id]
	if !ok {
		return nil, idb.ErrRequestNotFound
	}
	return f.hydrate(r)
}

func (f *fakeRepository) GetRequestForUpdate(ctx context.Context, id int64) (*followup.Request, error) {
	return f.GetRequest(ctx, id)
}

func (f *fakeRepository) UpdateRequest(_ context.Context, r *followup.Request) error {
	f.counter().updateCalls++
	if f.counter().failUpdateFor[r.ID] {
		return errInjected
	}
	if _, ok := f.state.requests[r.ID]; !ok {
		return idb.ErrRequestNotFound
	}
	row := *r
	row.Status = nil
	row.Person = nil
	f.state.requests[r.ID] = row
	return nil
}

func (f *fakeRepository) counter() *fakeRepository {
	if f.root != nil {
		return f.root
	}
	return f
}

func (f *fakeRepository) sortedRequests() []*followup.Request {
	var out []*followup.Request
	for _, r := range f.state.requests {
		h, _ := f.hydrate(r)
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *fakeRepository) ListTrackedRequests(_ context.Context) ([]*followup.Request, error) {
	var out []*followup.Request
	for _, r := range f.sortedRequests() {
		if r.Status != nil && (r.Status.RequiresFollowUp || r.Status.Policy != nil) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRepository) ListExhaustedForAutoClose(_ context.Context) ([]*followup.Request, error) {
	var out []*followup.Request
	for _, r := range f.sortedRequests() {
		st := r.Status
		if st == nil || !st.RequiresFollowUp || st.Policy == nil || st.Policy.AutoCloseDays <= 0 {
			continue
		}
		if r.FollowUpCount >= st.Policy.MaxAttempts && r.LastFollowUpDate.Valid {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRepository) GetLogEntry(_ context.Context, id int64) (*followup.LogEntry, error) {
	e, ok := f.state.entries[id]
	if !ok {
		return nil, idb.ErrLogEntryNotFound
	}
	return &e, nil
}

func (f *fakeRepository) ListLogEntries(_ context.Context, requestID int64) ([]*followup.LogEntry, error) {
	out := make([]*followup.LogEntry, 0)
	for _, e := range f.state.entries {
		if e.RequestID == requestID {
			e := e
			out = append(out, &e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (f *fakeRepository) GetLatestLogEntry(ctx context.Context, requestID int64) (*followup.LogEntry, error) {
	entries, _ := f.ListLogEntries(ctx, requestID)
	if len(entries) == 0 {
		return nil, idb.ErrLogEntryNotFound
	}
	return entries[0], nil
}

func (f *fakeRepository) ClearCurrentLogEntries(_ context.Context, requestID int64) error {
	for id, e := range f.state.entries {
		if e.RequestID == requestID && e.IsCurrent {
			e.IsCurrent = false
			f.state.entries[id] = e
		}
	}
	return nil
}

func (f *fakeRepository) CreateLogEntry(_ context.Context, e *followup.LogEntry) error {
	f.state.nextID++
	e.ID = f.state.nextID
	f.state.entries[e.ID] = *e
	return nil
}

func (f *fakeRepository) UpdateLogEntry(_ context.Context, e *followup.LogEntry) error {
	if _, ok := f.state.entries[e.ID]; !ok {
		return idb.ErrLogEntryNotFound
	}
	f.state.entries[e.ID] = *e
	return nil
}

func (f *fakeRepository) WithinTx(ctx context.Context, fn func(repo followup.Repository) error) error {
	if f.inTx {
		return fn(f)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	tx := &fakeRepository{mu: f.mu, root: f, state: f.state.clone(), inTx: true}
	if err := fn(tx); err != nil {
		return err
	}
	f.state = tx.state
	return nil
}

package wa

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/DavidFlores79/whatsapp-ai-bridge/internal/ai"
)

// fakeProvider scripts the remote session API. Poll states are consumed
// one per GetUnit call; the last state repeats once the script runs out.
type fakeProvider struct {
	mu sync.Mutex

	createSessionErr error
	sessionSeq       int
	createdSessions  []string

	units          []ai.Unit
	listUnitsCalls int

	cancelled []string
	cancelErr error

	appendErrs  []error
	appends     []string
	appendCalls int

	createUnitErr error
	unitSeq       int
	createdUnits  []string

	pollStates   []ai.Unit
	getUnitCalls int

	submitted [][]ai.ToolOutput
	submitErr error

	entries        []ai.Entry
	listEntriesErr error

	deleted    []string
	deleteErrs map[string]error
}

func (f *fakeProvider) CreateSession(_ context.Context, _ map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createSessionErr != nil {
		return "", f.createSessionErr
	}
	f.sessionSeq++
	id := fmt.Sprintf("thread-%d", f.sessionSeq)
	f.createdSessions = append(f.createdSessions, id)
	return id, nil
}

func (f *fakeProvider) ListUnits(_ context.Context, _ string) ([]ai.Unit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listUnitsCalls++
	out := make([]ai.Unit, len(f.units))
	copy(out, f.units)
	return out, nil
}

func (f *fakeProvider) CancelUnit(_ context.Context, _ string, unitID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, unitID)
	if f.cancelErr != nil {
		return f.cancelErr
	}
	for i := range f.units {
		if f.units[i].ID == unitID {
			f.units[i].Status = ai.UnitCancelled
		}
	}
	return nil
}

func (f *fakeProvider) AppendEntry(_ context.Context, _ string, text string, _ map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appendCalls++
	if len(f.appendErrs) > 0 {
		err := f.appendErrs[0]
		f.appendErrs = f.appendErrs[1:]
		if err != nil {
			return err
		}
	}
	f.appends = append(f.appends, text)
	return nil
}

func (f *fakeProvider) CreateUnit(_ context.Context, _ string, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createUnitErr != nil {
		return "", f.createUnitErr
	}
	f.unitSeq++
	id := fmt.Sprintf("run-%d", f.unitSeq)
	f.createdUnits = append(f.createdUnits, id)
	return id, nil
}

func (f *fakeProvider) GetUnit(_ context.Context, _ string, unitID string) (ai.Unit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getUnitCalls++

	var u ai.Unit
	switch {
	case len(f.pollStates) == 0:
		u = ai.Unit{Status: ai.UnitCompleted}
	case len(f.pollStates) == 1:
		u = f.pollStates[0]
	default:
		u = f.pollStates[0]
		f.pollStates = f.pollStates[1:]
	}
	u.ID = unitID
	return u, nil
}

func (f *fakeProvider) SubmitToolOutputs(_ context.Context, _ string, _ string, outputs []ai.ToolOutput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submitted = append(f.submitted, outputs)
	return nil
}

func (f *fakeProvider) ListEntries(_ context.Context, _ string, _ int, _ string) ([]ai.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listEntriesErr != nil {
		return nil, f.listEntriesErr
	}
	out := make([]ai.Entry, len(f.entries))
	copy(out, f.entries)
	return out, nil
}

func (f *fakeProvider) DeleteEntry(_ context.Context, _ string, entryID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.deleteErrs[entryID]; ok {
		return err
	}
	f.deleted = append(f.deleted, entryID)
	return nil
}

// fakeRepo is an in-memory durable mirror.
type fakeRepo struct {
	mu        sync.Mutex
	recs      map[string]*SessionRecord
	getErr    error
	upsertErr error
	deleteErr error
	upserts   int
	gets      int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{recs: make(map[string]*SessionRecord)}
}

func (r *fakeRepo) Get(_ context.Context, userID string) (*SessionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gets++
	if r.getErr != nil {
		return nil, r.getErr
	}
	rec, ok := r.recs[userID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (r *fakeRepo) Upsert(_ context.Context, rec *SessionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts++
	if r.upsertErr != nil {
		return r.upsertErr
	}
	cp := *rec
	r.recs[rec.UserID] = &cp
	return nil
}

func (r *fakeRepo) Delete(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteErr != nil {
		return r.deleteErr
	}
	delete(r.recs, userID)
	return nil
}

type sentText struct {
	User string
	Text string
}

type sentNotice struct {
	User  string
	Class ErrorClass
}

type fakeOutbound struct {
	mu      sync.Mutex
	texts   []sentText
	notices []sentNotice
}

func (o *fakeOutbound) SendText(_ context.Context, userID string, text string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.texts = append(o.texts, sentText{User: userID, Text: text})
	return nil
}

func (o *fakeOutbound) SendErrorNotice(_ context.Context, userID string, class ErrorClass) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notices = append(o.notices, sentNotice{User: userID, Class: class})
	return nil
}

func (o *fakeOutbound) sentTexts() []sentText {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]sentText, len(o.texts))
	copy(out, o.texts)
	return out
}

func (o *fakeOutbound) sentNotices() []sentNotice {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]sentNotice, len(o.notices))
	copy(out, o.notices)
	return out
}

// fastConfig keeps every wait in the low-millisecond range so timer
// driven paths run quickly under test.
func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.DedupSweepEvery = 10 * time.Millisecond
	cfg.QuietWindow = 20 * time.Millisecond
	cfg.LockCeiling = 200 * time.Millisecond
	cfg.TurnTimeout = 2 * time.Second
	cfg.ConflictPollInterval = time.Millisecond
	cfg.ConflictPollAttempts = 3
	cfg.ConflictGrace = time.Millisecond
	cfg.AppendBackoff = time.Millisecond
	cfg.UnitPollInterval = time.Millisecond
	return cfg
}

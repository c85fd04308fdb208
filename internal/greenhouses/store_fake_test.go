package greenhouses

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const testUserID = "user-1"

var errStoreDown = errors.New("store down")

type storeCall struct {
	method string
	id     string
	patch  RecordPatch
}

type fakeStore struct {
	mu         sync.Mutex
	collection string
	records    map[string]Record
	calls      []storeCall
	created    int
	fail       func(call storeCall) error
}

func newFakeStore(records ...Record) *fakeStore {
	store := &fakeStore{
		collection: CollectionName(testUserID),
		records:    make(map[string]Record),
	}
	for _, record := range records {
		store.records[record.ID] = record
	}
	return store
}

func (s *fakeStore) record(call storeCall, collection string) error {
	s.calls = append(s.calls, call)
	if collection != s.collection {
		return fmt.Errorf("unexpected collection %q", collection)
	}
	if s.fail != nil {
		return s.fail(call)
	}
	return nil
}

func (s *fakeStore) List(_ context.Context, collection string, sort string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(storeCall{method: "list", id: sort}, collection); err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, record)
	}
	slices.SortFunc(out, func(a, b Record) int { return a.Order - b.Order })
	return out, nil
}

func (s *fakeStore) Get(_ context.Context, collection string, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(storeCall{method: "get", id: id}, collection); err != nil {
		return Record{}, err
	}
	record, ok := s.records[id]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return record, nil
}

func (s *fakeStore) Create(_ context.Context, collection string, fields RecordFields) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order := fields.Order
	if err := s.record(storeCall{method: "create", patch: RecordPatch{Order: &order}}, collection); err != nil {
		return Record{}, err
	}
	s.created++
	payload, err := json.Marshal(fields.GrafanaData)
	if err != nil {
		return Record{}, err
	}
	record := Record{
		ID:          fmt.Sprintf("rec-%d", s.created),
		Title:       fields.Title,
		Description: fields.Description,
		Order:       fields.Order,
		GrafanaData: payload,
	}
	s.records[record.ID] = record
	return record, nil
}

func (s *fakeStore) Update(_ context.Context, collection string, id string, patch RecordPatch) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(storeCall{method: "update", id: id, patch: patch}, collection); err != nil {
		return Record{}, err
	}
	record, ok := s.records[id]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	if patch.Title != nil {
		record.Title = *patch.Title
	}
	if patch.Description != nil {
		record.Description = *patch.Description
	}
	if patch.Order != nil {
		record.Order = *patch.Order
	}
	if patch.GrafanaData != nil {
		payload, err := json.Marshal(*patch.GrafanaData)
		if err != nil {
			return Record{}, err
		}
		record.GrafanaData = payload
	}
	s.records[id] = record
	return record, nil
}

func (s *fakeStore) Delete(_ context.Context, collection string, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(storeCall{method: "delete", id: id}, collection); err != nil {
		return err
	}
	if _, ok := s.records[id]; !ok {
		return ErrRecordNotFound
	}
	delete(s.records, id)
	return nil
}

func (s *fakeStore) callsSnapshot() []storeCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

func (s *fakeStore) storedOrder(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id].Order
}

type fixedIDProvider struct {
	next int
}

func (p *fixedIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("local-%d", p.next), nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (n *recordingNotifier) Notify(notice Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

func (n *recordingNotifier) last() (Notice, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.notices) == 0 {
		return Notice{}, false
	}
	return n.notices[len(n.notices)-1], true
}

type recordingObserver struct {
	outcomes []string
}

func (o *recordingObserver) ObserveOutcome(operation string, kind OutcomeKind) {
	o.outcomes = append(o.outcomes, operation+"="+string(kind))
}

type collectionFixture struct {
	collection *Collection
	store      *fakeStore
	notifier   *recordingNotifier
	observer   *recordingObserver
	logs       *observer.ObservedLogs
}

func newCollectionFixture(testContext *testing.T, records ...Record) collectionFixture {
	testContext.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	store := newFakeStore(records...)
	notifier := &recordingNotifier{}
	outcomeObserver := &recordingObserver{}
	collection, err := NewCollection(CollectionConfig{
		UserID:     testUserID,
		Store:      store,
		IDProvider: &fixedIDProvider{},
		Logger:     zap.New(core),
		Notifier:   notifier,
		Observer:   outcomeObserver,
	})
	if err != nil {
		testContext.Fatalf("new collection: %v", err)
	}
	if len(records) > 0 {
		if _, err := collection.Load(context.Background()); err != nil {
			testContext.Fatalf("load: %v", err)
		}
	}
	return collectionFixture{
		collection: collection,
		store:      store,
		notifier:   notifier,
		observer:   outcomeObserver,
		logs:       logs,
	}
}

func panelData(testContext *testing.T, panels ...PanelRecord) json.RawMessage {
	testContext.Helper()
	payload, err := json.Marshal(panels)
	if err != nil {
		testContext.Fatalf("marshal panels: %v", err)
	}
	return payload
}

func intPointer(value int) *int {
	return &value
}

func (s *fakeStore) resetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

// Package greenhouses owns a user's greenhouse collection and reconciles local
// state with the external record store.
package greenhouses

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/MarcoPoloResearchLab/greenhouse/internal/layout"
	"github.com/MarcoPoloResearchLab/greenhouse/internal/ordering"
	"go.uber.org/zap"
)

const (
	listSort    = "order"
	creationKey = "\x00create"
)

var noOpLogger = zap.NewNop()

// NoticeLevel classifies user-facing notices.
type NoticeLevel string

const (
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
)

// Notice is a user-facing message about a collection operation.
type Notice struct {
	UserID  string
	Level   NoticeLevel
	Message string
}

// Notifier receives notices emitted by collections.
type Notifier interface {
	Notify(notice Notice)
}

// OutcomeObserver receives the reconciliation tag of every mutation.
type OutcomeObserver interface {
	ObserveOutcome(operation string, kind OutcomeKind)
}

// CollectionConfig describes the dependencies of a Collection.
type CollectionConfig struct {
	UserID      string
	Store       RecordStore
	IDProvider  IDProvider
	Logger      *zap.Logger
	Notifier    Notifier
	Observer    OutcomeObserver
	PanelLimits PanelLimits
}

// Collection is the in-memory view of one user's greenhouses.
//
// The mutex is never held across a record store call. State changes happen after the
// call completes, except for the documented create and delete fallbacks.
type Collection struct {
	userID     string
	name       string
	store      RecordStore
	idProvider IDProvider
	logger     *zap.Logger
	notifier   Notifier
	observer   OutcomeObserver
	limits     PanelLimits

	mu       sync.Mutex
	items    []Greenhouse
	inFlight map[string]struct{}
	loaded   bool
}

// NewCollection validates the configuration and returns an empty collection.
func NewCollection(cfg CollectionConfig) (*Collection, error) {
	userID := strings.TrimSpace(cfg.UserID)
	if userID == "" {
		return nil, newServiceError(opCollectionNew, reasonMissingUserID, errMissingUserID)
	}
	if cfg.Store == nil {
		return nil, newServiceError(opCollectionNew, reasonMissingStore, errMissingStore)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opCollectionNew, reasonMissingProvider, errMissingIDProvider)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Collection{
		userID:     userID,
		name:       CollectionName(userID),
		store:      cfg.Store,
		idProvider: cfg.IDProvider,
		logger:     logger,
		notifier:   cfg.Notifier,
		observer:   cfg.Observer,
		limits:     cfg.PanelLimits.withDefaults(),
		items:      []Greenhouse{},
		inFlight:   make(map[string]struct{}),
	}, nil
}

// UserID returns the owning user.
func (c *Collection) UserID() string {
	return c.userID
}

// Name returns the record store collection name.
func (c *Collection) Name() string {
	return c.name
}

// List returns the greenhouses sorted by order.
func (c *Collection) List() []Greenhouse {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Greenhouse, 0, len(c.items))
	for _, item := range c.items {
		out = append(out, item.Clone())
	}
	return out
}

// Find returns the greenhouse with the identifier.
func (c *Collection) Find(id string) (Greenhouse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	index := c.indexLocked(id)
	if index < 0 {
		return Greenhouse{}, false
	}
	return c.items[index].Clone(), true
}

// AvailableOrders lists the order slots offered when editing a greenhouse.
func (c *Collection) AvailableOrders() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.items) == 0 {
		return []int{}
	}
	return ordering.AvailableOrders(ordering.NextOrder(c.items))
}

// InFlight reports whether a mutation for the identifier is outstanding.
func (c *Collection) InFlight(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, busy := c.inFlight[id]
	return busy
}

// Layout plans display rows for a greenhouse's panels.
func (c *Collection) Layout(id string, rowWidth int) ([]layout.Row, error) {
	greenhouse, found := c.Find(id)
	if !found {
		return nil, ErrGreenhouseNotFound
	}
	return layout.Compute(greenhouse.PanelSizes(), rowWidth), nil
}

// Load replaces local state with the store's full list.
func (c *Collection) Load(ctx context.Context) ([]Greenhouse, error) {
	records, err := c.store.List(ctx, c.name, listSort)
	if err != nil {
		c.logError(opLoad, reasonStoreFailed, err)
		c.notify(NoticeError, "Failed to load greenhouses")
		return nil, newServiceError(opLoad, reasonStoreFailed, err)
	}

	loaded := make([]Greenhouse, 0, len(records))
	for _, record := range records {
		loaded = append(loaded, c.fromRecord(opLoad, record))
	}

	c.mu.Lock()
	c.items = loaded
	c.loaded = true
	c.sortLocked()
	c.mu.Unlock()
	return c.List(), nil
}

// Loaded reports whether a full list has been fetched since construction.
func (c *Collection) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded
}

// Get fetches one greenhouse from the store and reconciles it into local state.
func (c *Collection) Get(ctx context.Context, id string) (Greenhouse, error) {
	record, err := c.store.Get(ctx, c.name, id)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return Greenhouse{}, fmt.Errorf("%w: %s", ErrGreenhouseNotFound, id)
		}
		c.logError(opGet, reasonStoreFailed, err, zap.String("greenhouse_id", id))
		return Greenhouse{}, newServiceError(opGet, reasonStoreFailed, err)
	}
	greenhouse := c.fromRecord(opGet, record)

	c.mu.Lock()
	if _, busy := c.inFlight[greenhouse.ID]; !busy {
		c.upsertLocked(greenhouse)
		c.sortLocked()
	}
	c.mu.Unlock()
	return greenhouse.Clone(), nil
}

// Create appends a greenhouse at the next order. A store failure still inserts the
// greenhouse locally under a generated identity.
func (c *Collection) Create(ctx context.Context, input Input) (Greenhouse, Outcome, error) {
	draft, err := buildDraft(input)
	if err != nil {
		return Greenhouse{}, Outcome{}, err
	}

	release, err := c.acquire(creationKey)
	if err != nil {
		return Greenhouse{}, Outcome{}, err
	}
	defer release()

	c.mu.Lock()
	draft.Order = ordering.NextOrder(c.items)
	c.mu.Unlock()

	record, err := c.store.Create(ctx, c.name, draft.fields())
	if err != nil {
		localID, idErr := c.idProvider.NewID()
		if idErr != nil {
			c.logError(opCreate, reasonIDFailed, idErr)
			return Greenhouse{}, Outcome{}, newServiceError(opCreate, reasonIDFailed, idErr)
		}
		draft.ID = localID
		c.mu.Lock()
		c.items = append(c.items, draft)
		c.sortLocked()
		c.mu.Unlock()

		c.logDegraded(opCreate, err, zap.String("greenhouse_id", localID))
		c.notify(NoticeError, "Failed to save to server, added locally")
		outcome := LocalOnly(backendUnavailable(err))
		c.observe(opCreate, outcome)
		return draft.Clone(), outcome, nil
	}

	created := c.fromRecord(opCreate, record)
	c.mu.Lock()
	c.upsertLocked(created)
	c.sortLocked()
	c.mu.Unlock()

	c.notify(NoticeSuccess, "Greenhouse created")
	outcome := Confirmed(record)
	c.observe(opCreate, outcome)
	return created.Clone(), outcome, nil
}

// Update applies input to a greenhouse. Moving to an order held by another greenhouse
// first moves that greenhouse to the vacated order, then updates the target. The two
// store calls are sequential and not atomic.
func (c *Collection) Update(ctx context.Context, id string, input Input) (Greenhouse, Outcome, error) {
	release, err := c.acquire(id)
	if err != nil {
		return Greenhouse{}, Outcome{}, err
	}
	defer release()

	c.mu.Lock()
	index := c.indexLocked(id)
	if index < 0 {
		c.mu.Unlock()
		return Greenhouse{}, Outcome{}, fmt.Errorf("%w: %s", ErrGreenhouseNotFound, id)
	}
	current := c.items[index].Clone()
	snapshot := slices.Clone(c.items)
	c.mu.Unlock()

	attempted, err := applyInput(current, input)
	if err != nil {
		return Greenhouse{}, Outcome{}, err
	}

	oldOrder := current.Order
	var conflict *ordering.Conflict[Greenhouse]
	if attempted.Order != oldOrder {
		if !ordering.ValidateSwap(oldOrder, attempted.Order, ordering.AvailableOrders(ordering.NextOrder(snapshot))) {
			return Greenhouse{}, Outcome{}, newValidationError("order", fmt.Sprintf("Order %d is not available.", attempted.Order))
		}
		if detected, found := ordering.DetectConflict(snapshot, id, attempted.Order); found {
			conflict = &detected
		}
	}

	if conflict != nil {
		releaseConflict, err := c.acquire(conflict.Conflicting.ID)
		if err != nil {
			return Greenhouse{}, Outcome{}, err
		}
		defer releaseConflict()

		if _, err := c.store.Update(ctx, c.name, conflict.Conflicting.ID, orderPatch(oldOrder)); err != nil {
			c.logError(opUpdate, reasonConflictFailed, err,
				zap.String("greenhouse_id", id),
				zap.String("conflict_id", conflict.Conflicting.ID))
			return c.recoverUpdate(attempted, nil, err)
		}
	}

	record, err := c.store.Update(ctx, c.name, id, attempted.fullPatch())
	if err != nil {
		return c.recoverUpdate(attempted, conflict, err)
	}

	updated := c.fromRecord(opUpdate, record)
	c.mu.Lock()
	c.upsertLocked(updated)
	if conflict != nil {
		c.setOrderLocked(conflict.Conflicting.ID, oldOrder)
	}
	c.sortLocked()
	c.mu.Unlock()

	c.notify(NoticeSuccess, "Greenhouse updated")
	outcome := Confirmed(record)
	c.observe(opUpdate, outcome)
	return updated.Clone(), outcome, nil
}

// recoverUpdate force-syncs local state to the attempted values. movedConflict is set
// when the conflicting greenhouse already reached the store at the old order.
func (c *Collection) recoverUpdate(attempted Greenhouse, movedConflict *ordering.Conflict[Greenhouse], cause error) (Greenhouse, Outcome, error) {
	reason := backendUnavailable(cause)
	c.mu.Lock()
	c.upsertLocked(attempted)
	if movedConflict != nil {
		c.setOrderLocked(movedConflict.Conflicting.ID, movedConflict.OldOrder)
		reason = fmt.Errorf("%w: %w", ErrSwapIncomplete, reason)
	}
	c.sortLocked()
	c.mu.Unlock()

	fields := []zap.Field{zap.String("greenhouse_id", attempted.ID)}
	if movedConflict != nil {
		fields = append(fields,
			zap.String("conflict_id", movedConflict.Conflicting.ID),
			zap.Int("duplicate_order", movedConflict.OldOrder))
	}
	c.logDegraded(opUpdate, cause, fields...)
	c.notify(NoticeError, "Failed to update on server, updated locally")
	outcome := LocalOnly(reason)
	c.observe(opUpdate, outcome)
	return attempted.Clone(), outcome, nil
}

// Delete removes a greenhouse locally and from the store. Remaining orders are not
// renumbered.
func (c *Collection) Delete(ctx context.Context, id string) (Outcome, error) {
	release, err := c.acquire(id)
	if err != nil {
		return Outcome{}, err
	}
	defer release()

	if _, found := c.Find(id); !found {
		return Outcome{}, fmt.Errorf("%w: %s", ErrGreenhouseNotFound, id)
	}

	storeErr := c.store.Delete(ctx, c.name, id)

	c.mu.Lock()
	if index := c.indexLocked(id); index >= 0 {
		c.items = slices.Delete(c.items, index, index+1)
	}
	c.mu.Unlock()

	if storeErr != nil {
		c.logDegraded(opDelete, storeErr, zap.String("greenhouse_id", id))
		c.notify(NoticeError, "Failed to delete from server, removed locally")
		outcome := LocalOnly(backendUnavailable(storeErr))
		c.observe(opDelete, outcome)
		return outcome, nil
	}

	c.notify(NoticeSuccess, "Greenhouse deleted")
	outcome := Confirmed(Record{ID: id})
	c.observe(opDelete, outcome)
	return outcome, nil
}

func buildDraft(input Input) (Greenhouse, error) {
	draft := Greenhouse{Panels: []Panel{}}
	return applyInput(draft, Input{
		Title:       input.Title,
		Description: input.Description,
		GrafanaURL:  input.GrafanaURL,
		Panels:      input.Panels,
	})
}

func applyInput(current Greenhouse, input Input) (Greenhouse, error) {
	title, err := validateTitle(input.Title)
	if err != nil {
		return Greenhouse{}, err
	}
	description, err := validateDescription(input.Description)
	if err != nil {
		return Greenhouse{}, err
	}

	next := current.Clone()
	next.Title = title
	next.Description = description
	if input.Order != nil {
		if *input.Order < 0 {
			return Greenhouse{}, newValidationError("order", "Order must not be negative.")
		}
		next.Order = *input.Order
	}
	if input.Panels != nil {
		panels, err := validatePanels(input.Panels)
		if err != nil {
			return Greenhouse{}, err
		}
		next.Panels = panels
	}
	if strings.TrimSpace(input.GrafanaURL) != "" {
		primaryURL, err := normalizePanelURL("grafana_url", input.GrafanaURL)
		if err != nil {
			return Greenhouse{}, err
		}
		if len(next.Panels) == 0 {
			next.Panels = append(next.Panels, Panel{
				URL:         primaryURL,
				DisplayName: DefaultPanelName(0),
				Width:       DefaultPanelWidth,
				Height:      DefaultPanelHeight,
			})
		} else {
			next.Panels[0].URL = primaryURL
		}
	}
	return next, nil
}

func (c *Collection) fromRecord(operation string, record Record) Greenhouse {
	panelRecords, err := DecodePanelRecords(record.GrafanaData)
	if err != nil {
		c.loggerOrDefault().Warn("greenhouse panel data malformed",
			zap.String("operation", operation),
			zap.String("reason", reasonPanelDecode),
			zap.String("greenhouse_id", record.ID),
			zap.Error(err))
	}
	return Greenhouse{
		ID:          record.ID,
		Title:       record.Title,
		Description: record.Description,
		Order:       max(record.Order, 0),
		Panels:      PanelsFromRecords(panelRecords),
	}
}

// acquire marks the identifiers as in flight; the returned func releases them.
func (c *Collection) acquire(ids ...string) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		if _, busy := c.inFlight[id]; busy {
			return nil, fmt.Errorf("%w: %s", ErrOperationInFlight, strings.TrimPrefix(id, creationKey))
		}
	}
	for _, id := range ids {
		c.inFlight[id] = struct{}{}
	}
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for _, id := range ids {
			delete(c.inFlight, id)
		}
	}, nil
}

func (c *Collection) indexLocked(id string) int {
	return slices.IndexFunc(c.items, func(item Greenhouse) bool {
		return item.ID == id
	})
}

func (c *Collection) upsertLocked(greenhouse Greenhouse) {
	if index := c.indexLocked(greenhouse.ID); index >= 0 {
		c.items[index] = greenhouse
		return
	}
	c.items = append(c.items, greenhouse)
}

func (c *Collection) setOrderLocked(id string, order int) {
	if index := c.indexLocked(id); index >= 0 {
		c.items[index].Order = order
	}
}

func (c *Collection) sortLocked() {
	slices.SortStableFunc(c.items, func(a, b Greenhouse) int {
		return a.Order - b.Order
	})
}

func (c *Collection) notify(level NoticeLevel, message string) {
	if c.notifier == nil {
		return
	}
	c.notifier.Notify(Notice{UserID: c.userID, Level: level, Message: message})
}

func (c *Collection) observe(operation string, outcome Outcome) {
	if c.observer == nil {
		return
	}
	c.observer.ObserveOutcome(operation, outcome.Kind())
}

func (c *Collection) loggerOrDefault() *zap.Logger {
	if c == nil || c.logger == nil {
		return noOpLogger
	}
	return c.logger
}

func (c *Collection) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.String("collection", c.name),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	c.loggerOrDefault().Error("greenhouse collection error", attrs...)
}

func (c *Collection) logDegraded(operation string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reasonStoreFailed),
		zap.String("collection", c.name),
		zap.Error(err),
	}
	attrs = append(attrs, fields...)
	c.loggerOrDefault().Warn("greenhouse kept locally", attrs...)
}

package greenhouses

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap/zapcore"
)

const (
	rawPanelURL        = "https://grafana.example.com/d/abc"
	normalizedPanelURL = "https://grafana.example.com/d/abc?from=now-24h&to=now"
)

func twoGreenhouses() []Record {
	return []Record{
		{ID: "gh0", Title: "North", Order: 0},
		{ID: "gh1", Title: "South", Order: 1},
	}
}

func listIDs(items []Greenhouse) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids
}

func listOrders(items []Greenhouse) []int {
	orders := make([]int, 0, len(items))
	for _, item := range items {
		orders = append(orders, item.Order)
	}
	return orders
}

func TestNewCollectionRequiresDependencies(testContext *testing.T) {
	store := newFakeStore()
	if _, err := NewCollection(CollectionConfig{Store: store, IDProvider: &fixedIDProvider{}}); err == nil {
		testContext.Fatalf("expected missing user error")
	}
	if _, err := NewCollection(CollectionConfig{UserID: testUserID, IDProvider: &fixedIDProvider{}}); err == nil {
		testContext.Fatalf("expected missing store error")
	}
	_, err := NewCollection(CollectionConfig{UserID: testUserID, Store: store})
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) {
		testContext.Fatalf("expected service error, got %v", err)
	}
	if serviceErr.Code() != "greenhouses.collection.new.missing_id_provider" {
		testContext.Fatalf("unexpected code %q", serviceErr.Code())
	}
}

func TestCollectionLoadSortsByOrderAndRequestsOrderSort(testContext *testing.T) {
	fixture := newCollectionFixture(testContext,
		Record{ID: "b", Title: "B", Order: 2},
		Record{ID: "a", Title: "A", Order: 0},
		Record{ID: "c", Title: "C", Order: 1},
	)
	if diff := cmp.Diff([]string{"a", "c", "b"}, listIDs(fixture.collection.List())); diff != "" {
		testContext.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
	calls := fixture.store.callsSnapshot()
	if len(calls) != 1 || calls[0].method != "list" || calls[0].id != "order" {
		testContext.Fatalf("expected single list call sorted by order, got %+v", calls)
	}
	if !fixture.collection.Loaded() {
		testContext.Fatalf("expected collection to be marked loaded")
	}
}

func TestCollectionLoadFailureNotifiesAndKeepsState(testContext *testing.T) {
	fixture := newCollectionFixture(testContext, twoGreenhouses()...)
	fixture.store.fail = func(storeCall) error { return errStoreDown }

	_, err := fixture.collection.Load(context.Background())
	if !errors.Is(err, errStoreDown) {
		testContext.Fatalf("expected wrapped store error, got %v", err)
	}
	if len(fixture.collection.List()) != 2 {
		testContext.Fatalf("expected previous state to remain")
	}
	notice, ok := fixture.notifier.last()
	if !ok || notice.Level != NoticeError || notice.Message != "Failed to load greenhouses" {
		testContext.Fatalf("unexpected notice %+v", notice)
	}
}

func TestCollectionLoadTreatsMalformedPanelsAsEmpty(testContext *testing.T) {
	fixture := newCollectionFixture(testContext,
		Record{ID: "broken", Title: "Broken", Order: 0, GrafanaData: []byte(`{"not":"a list"}`)},
	)
	greenhouse, found := fixture.collection.Find("broken")
	if !found {
		testContext.Fatalf("expected greenhouse to load")
	}
	if len(greenhouse.Panels) != 0 {
		testContext.Fatalf("expected no panels, got %d", len(greenhouse.Panels))
	}
	warnings := fixture.logs.FilterMessage("greenhouse panel data malformed").All()
	if len(warnings) != 1 || warnings[0].Level != zapcore.WarnLevel {
		testContext.Fatalf("expected single warning, got %+v", warnings)
	}
}

func TestCollectionGetReconcilesRecord(testContext *testing.T) {
	fixture := newCollectionFixture(testContext, twoGreenhouses()...)
	fixture.store.records["gh1"] = Record{ID: "gh1", Title: "Renamed", Order: 1}

	greenhouse, err := fixture.collection.Get(context.Background(), "gh1")
	if err != nil {
		testContext.Fatalf("get: %v", err)
	}
	if greenhouse.Title != "Renamed" {
		testContext.Fatalf("expected fetched title, got %q", greenhouse.Title)
	}
	local, _ := fixture.collection.Find("gh1")
	if local.Title != "Renamed" {
		testContext.Fatalf("expected local state to be reconciled, got %q", local.Title)
	}

	if _, err := fixture.collection.Get(context.Background(), "missing"); !errors.Is(err, ErrGreenhouseNotFound) {
		testContext.Fatalf("expected not found, got %v", err)
	}
}

func TestCollectionCreateAppendsAtNextOrder(testContext *testing.T) {
	fixture := newCollectionFixture(testContext)
	ctx := context.Background()

	first, outcome, err := fixture.collection.Create(ctx, Input{Title: "  First  ", GrafanaURL: rawPanelURL})
	if err != nil {
		testContext.Fatalf("create first: %v", err)
	}
	if !outcome.IsConfirmed() {
		testContext.Fatalf("expected confirmed outcome, got %s", outcome.Kind())
	}
	if first.Order != 0 || first.Title != "First" {
		testContext.Fatalf("unexpected first greenhouse %+v", first)
	}
	wantPanels := []Panel{{URL: normalizedPanelURL, DisplayName: "Primary Panel", Width: 350, Height: 200}}
	if diff := cmp.Diff(wantPanels, first.Panels); diff != "" {
		testContext.Fatalf("unexpected panels (-want +got):\n%s", diff)
	}

	second, _, err := fixture.collection.Create(ctx, Input{Title: "Second"})
	if err != nil {
		testContext.Fatalf("create second: %v", err)
	}
	if second.Order != 1 {
		testContext.Fatalf("expected order 1, got %d", second.Order)
	}
	notice, _ := fixture.notifier.last()
	if notice.Message != "Greenhouse created" || notice.Level != NoticeSuccess {
		testContext.Fatalf("unexpected notice %+v", notice)
	}
	if diff := cmp.Diff([]string{"greenhouses.create=confirmed", "greenhouses.create=confirmed"}, fixture.observer.outcomes); diff != "" {
		testContext.Fatalf("unexpected outcomes (-want +got):\n%s", diff)
	}
}

func TestCollectionCreateFallsBackToLocalIdentity(testContext *testing.T) {
	fixture := newCollectionFixture(testContext, twoGreenhouses()...)
	fixture.store.fail = func(storeCall) error { return errStoreDown }

	created, outcome, err := fixture.collection.Create(context.Background(), Input{Title: "Offline"})
	if err != nil {
		testContext.Fatalf("create: %v", err)
	}
	if outcome.Kind() != OutcomeLocalOnly {
		testContext.Fatalf("expected local-only outcome")
	}
	if !errors.Is(outcome.Reason(), ErrBackendUnavailable) {
		testContext.Fatalf("expected backend unavailable reason, got %v", outcome.Reason())
	}
	if _, ok := outcome.Record(); ok {
		testContext.Fatalf("local-only outcome must not carry a record")
	}
	if created.ID != "local-1" || created.Order != 2 {
		testContext.Fatalf("unexpected local greenhouse %+v", created)
	}
	if _, found := fixture.collection.Find("local-1"); !found {
		testContext.Fatalf("expected greenhouse to be inserted locally")
	}
	notice, _ := fixture.notifier.last()
	if notice.Message != "Failed to save to server, added locally" || notice.Level != NoticeError {
		testContext.Fatalf("unexpected notice %+v", notice)
	}
}

func TestCollectionCreateValidatesInput(testContext *testing.T) {
	fixture := newCollectionFixture(testContext)
	tests := []struct {
		name  string
		input Input
		field string
	}{
		{name: "blank title", input: Input{Title: "   "}, field: "title"},
		{name: "long description", input: Input{Title: "T", Description: strings.Repeat("é", MaxDescriptionLength+1)}, field: "description"},
		{name: "invalid url", input: Input{Title: "T", GrafanaURL: "not a url"}, field: "grafana_url"},
		{name: "blank panel url", input: Input{Title: "T", Panels: []Panel{{URL: " "}}}, field: "panels[0].url"},
	}
	for _, test := range tests {
		testContext.Run(test.name, func(t *testing.T) {
			_, _, err := fixture.collection.Create(context.Background(), test.input)
			var validationErr *ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if validationErr.Field != test.field {
				t.Fatalf("expected field %q, got %q", test.field, validationErr.Field)
			}
		})
	}
	if calls := fixture.store.callsSnapshot(); len(calls) != 0 {
		testContext.Fatalf("validation failures must not reach the store, got %+v", calls)
	}
}

func TestCollectionDescriptionAtLimitIsAccepted(testContext *testing.T) {
	fixture := newCollectionFixture(testContext)
	description := strings.Repeat("é", MaxDescriptionLength)
	created, _, err := fixture.collection.Create(context.Background(), Input{Title: "T", Description: description})
	if err != nil {
		testContext.Fatalf("create: %v", err)
	}
	if created.Description != description {
		testContext.Fatalf("expected description to be kept")
	}
}

func TestCollectionUpdateSwapsConflictingOrder(testContext *testing.T) {
	fixture := newCollectionFixture(testContext, twoGreenhouses()...)
	fixture.store.resetCalls()

	updated, outcome, err := fixture.collection.Update(context.Background(), "gh0", Input{Title: "North", Order: intPointer(1)})
	if err != nil {
		testContext.Fatalf("update: %v", err)
	}
	if !outcome.IsConfirmed() || updated.Order != 1 {
		testContext.Fatalf("unexpected result %+v %s", updated, outcome.Kind())
	}

	calls := fixture.store.callsSnapshot()
	if len(calls) != 2 {
		testContext.Fatalf("expected two store calls, got %+v", calls)
	}
	if calls[0].id != "gh1" || calls[0].patch.Order == nil || *calls[0].patch.Order != 0 || calls[0].patch.Title != nil {
		testContext.Fatalf("expected conflict to move to order 0 first, got %+v", calls[0])
	}
	if calls[1].id != "gh0" || calls[1].patch.Order == nil || *calls[1].patch.Order != 1 {
		testContext.Fatalf("expected target update second, got %+v", calls[1])
	}

	items := fixture.collection.List()
	if diff := cmp.Diff([]string{"gh1", "gh0"}, listIDs(items)); diff != "" {
		testContext.Fatalf("unexpected ids (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{0, 1}, listOrders(items)); diff != "" {
		testContext.Fatalf("unexpected orders (-want +got):\n%s", diff)
	}
	if fixture.store.storedOrder("gh0") != 1 || fixture.store.storedOrder("gh1") != 0 {
		testContext.Fatalf("expected store orders to be swapped")
	}
}

func TestCollectionUpdateWithoutOrderChangeMakesOneCall(testContext *testing.T) {
	fixture := newCollectionFixture(testContext, twoGreenhouses()...)
	fixture.store.resetCalls()

	if _, _, err := fixture.collection.Update(context.Background(), "gh1", Input{Title: "South West", Order: intPointer(1)}); err != nil {
		testContext.Fatalf("update: %v", err)
	}
	calls := fixture.store.callsSnapshot()
	if len(calls) != 1 || calls[0].id != "gh1" {
		testContext.Fatalf("expected single target update, got %+v", calls)
	}
}

func TestCollectionUpdatePartialSwapFailure(testContext *testing.T) {
	fixture := newCollectionFixture(testContext, twoGreenhouses()...)
	fixture.store.fail = func(call storeCall) error {
		if call.method == "update" && call.id == "gh0" {
			return errStoreDown
		}
		return nil
	}

	updated, outcome, err := fixture.collection.Update(context.Background(), "gh0", Input{Title: "North", Order: intPointer(1)})
	if err != nil {
		testContext.Fatalf("update: %v", err)
	}
	if outcome.Kind() != OutcomeLocalOnly {
		testContext.Fatalf("expected local-only outcome")
	}
	if !errors.Is(outcome.Reason(), ErrSwapIncomplete) || !errors.Is(outcome.Reason(), ErrBackendUnavailable) {
		testContext.Fatalf("expected incomplete swap reason, got %v", outcome.Reason())
	}
	if updated.Order != 1 {
		testContext.Fatalf("expected attempted order to be kept locally, got %d", updated.Order)
	}
	if fixture.store.storedOrder("gh0") != 0 || fixture.store.storedOrder("gh1") != 0 {
		testContext.Fatalf("expected store to hold a duplicate at the old order")
	}
	if diff := cmp.Diff([]int{0, 1}, listOrders(fixture.collection.List())); diff != "" {
		testContext.Fatalf("unexpected local orders (-want +got):\n%s", diff)
	}
	notice, _ := fixture.notifier.last()
	if notice.Message != "Failed to update on server, updated locally" {
		testContext.Fatalf("unexpected notice %+v", notice)
	}
}

func TestCollectionUpdateConflictMoveFailure(testContext *testing.T) {
	fixture := newCollectionFixture(testContext, twoGreenhouses()...)
	fixture.store.fail = func(call storeCall) error { return errStoreDown }
	fixture.store.resetCalls()

	_, outcome, err := fixture.collection.Update(context.Background(), "gh0", Input{Title: "North", Order: intPointer(1)})
	if err != nil {
		testContext.Fatalf("update: %v", err)
	}
	if outcome.Kind() != OutcomeLocalOnly || errors.Is(outcome.Reason(), ErrSwapIncomplete) {
		testContext.Fatalf("expected plain local-only outcome, got %v", outcome.Reason())
	}
	if calls := fixture.store.callsSnapshot(); len(calls) != 1 {
		testContext.Fatalf("expected target update to be skipped, got %+v", calls)
	}
	target, _ := fixture.collection.Find("gh0")
	if target.Order != 1 {
		testContext.Fatalf("expected target forced to attempted order, got %d", target.Order)
	}
}

func TestCollectionUpdateRejectsUnavailableOrder(testContext *testing.T) {
	fixture := newCollectionFixture(testContext, twoGreenhouses()...)
	fixture.store.resetCalls()

	_, _, err := fixture.collection.Update(context.Background(), "gh0", Input{Title: "North", Order: intPointer(2)})
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) || validationErr.Field != "order" {
		testContext.Fatalf("expected order validation error, got %v", err)
	}
	if calls := fixture.store.callsSnapshot(); len(calls) != 0 {
		testContext.Fatalf("expected no store calls, got %+v", calls)
	}
}

func TestCollectionUpdateReplacesPrimaryPanelURL(testContext *testing.T) {
	fixture := newCollectionFixture(testContext, Record{
		ID: "gh0", Title: "North", Order: 0,
		GrafanaData: panelData(testContext,
			PanelRecord{GrafanaURL: "https://old.example.com/a", PanelWidth: 500, PanelHeight: 300},
			PanelRecord{GrafanaURL: "https://old.example.com/b", PanelWidth: 400, PanelHeight: 250},
		),
	})
	updated, _, err := fixture.collection.Update(context.Background(), "gh0", Input{
		Title:      "North",
		GrafanaURL: `<iframe src="` + rawPanelURL + `" width="450"></iframe>`,
	})
	if err != nil {
		testContext.Fatalf("update: %v", err)
	}
	if len(updated.Panels) != 2 {
		testContext.Fatalf("expected panel count to be kept, got %d", len(updated.Panels))
	}
	if updated.Panels[0].URL != normalizedPanelURL || updated.Panels[0].Width != 500 {
		testContext.Fatalf("unexpected primary panel %+v", updated.Panels[0])
	}
	if updated.Panels[1].URL != "https://old.example.com/b" {
		testContext.Fatalf("expected secondary panel untouched, got %+v", updated.Panels[1])
	}
}

func TestCollectionRejectsConcurrentMutation(testContext *testing.T) {
	fixture := newCollectionFixture(testContext, twoGreenhouses()...)
	release, err := fixture.collection.acquire("gh1")
	if err != nil {
		testContext.Fatalf("acquire: %v", err)
	}
	if !fixture.collection.InFlight("gh1") {
		testContext.Fatalf("expected gh1 to be in flight")
	}

	if _, _, err := fixture.collection.Update(context.Background(), "gh1", Input{Title: "x"}); !errors.Is(err, ErrOperationInFlight) {
		testContext.Fatalf("expected in-flight rejection, got %v", err)
	}
	if _, _, err := fixture.collection.Update(context.Background(), "gh0", Input{Title: "North", Order: intPointer(1)}); !errors.Is(err, ErrOperationInFlight) {
		testContext.Fatalf("expected swap with busy conflict to be rejected, got %v", err)
	}
	if _, err := fixture.collection.Delete(context.Background(), "gh1"); !errors.Is(err, ErrOperationInFlight) {
		testContext.Fatalf("expected delete rejection, got %v", err)
	}
	if fixture.collection.InFlight("gh0") {
		testContext.Fatalf("expected rejected swap to release the target")
	}

	release()
	if _, _, err := fixture.collection.Update(context.Background(), "gh1", Input{Title: "x"}); err != nil {
		testContext.Fatalf("expected update after release, got %v", err)
	}
}

func TestCollectionInFlightGuardIsPerIdentity(testContext *testing.T) {
	fixture := newCollectionFixture(testContext, twoGreenhouses()...)
	release, err := fixture.collection.acquire("gh1")
	if err != nil {
		testContext.Fatalf("acquire: %v", err)
	}
	defer release()

	updated, outcome, err := fixture.collection.Update(context.Background(), "gh0", Input{Title: "North Field", Order: intPointer(0)})
	if err != nil {
		testContext.Fatalf("expected update on idle greenhouse to proceed, got %v", err)
	}
	if !outcome.IsConfirmed() || updated.Title != "North Field" {
		testContext.Fatalf("expected confirmed update, got %s %+v", outcome.Kind(), updated)
	}

	outcome, err = fixture.collection.Delete(context.Background(), "gh0")
	if err != nil {
		testContext.Fatalf("expected delete on idle greenhouse to proceed, got %v", err)
	}
	if !outcome.IsConfirmed() {
		testContext.Fatalf("expected confirmed delete, got %s", outcome.Kind())
	}
	if !fixture.collection.InFlight("gh1") {
		testContext.Fatalf("expected gh1 to stay in flight")
	}
}

func TestCollectionDeleteKeepsRemainingOrders(testContext *testing.T) {
	fixture := newCollectionFixture(testContext,
		Record{ID: "a", Title: "A", Order: 0},
		Record{ID: "b", Title: "B", Order: 1},
		Record{ID: "c", Title: "C", Order: 2},
	)
	outcome, err := fixture.collection.Delete(context.Background(), "b")
	if err != nil {
		testContext.Fatalf("delete: %v", err)
	}
	if !outcome.IsConfirmed() {
		testContext.Fatalf("expected confirmed delete")
	}
	if diff := cmp.Diff([]int{0, 2}, listOrders(fixture.collection.List())); diff != "" {
		testContext.Fatalf("unexpected orders (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{0, 1, 2}, fixture.collection.AvailableOrders()); diff != "" {
		testContext.Fatalf("unexpected available orders (-want +got):\n%s", diff)
	}
	created, _, err := fixture.collection.Create(context.Background(), Input{Title: "D"})
	if err != nil {
		testContext.Fatalf("create: %v", err)
	}
	if created.Order != 3 {
		testContext.Fatalf("expected append after gap at order 3, got %d", created.Order)
	}
}

func TestCollectionDeleteRemovesLocallyOnStoreFailure(testContext *testing.T) {
	fixture := newCollectionFixture(testContext, twoGreenhouses()...)
	fixture.store.fail = func(storeCall) error { return errStoreDown }

	outcome, err := fixture.collection.Delete(context.Background(), "gh0")
	if err != nil {
		testContext.Fatalf("delete: %v", err)
	}
	if outcome.Kind() != OutcomeLocalOnly {
		testContext.Fatalf("expected local-only outcome")
	}
	if _, found := fixture.collection.Find("gh0"); found {
		testContext.Fatalf("expected greenhouse to be removed locally")
	}
	notice, _ := fixture.notifier.last()
	if notice.Message != "Failed to delete from server, removed locally" {
		testContext.Fatalf("unexpected notice %+v", notice)
	}
	if _, err := fixture.collection.Delete(context.Background(), "gh0"); !errors.Is(err, ErrGreenhouseNotFound) {
		testContext.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestCollectionAvailableOrdersEmpty(testContext *testing.T) {
	fixture := newCollectionFixture(testContext)
	if got := fixture.collection.AvailableOrders(); len(got) != 0 {
		testContext.Fatalf("expected no orders, got %v", got)
	}
}

func TestCollectionLayout(testContext *testing.T) {
	fixture := newCollectionFixture(testContext, Record{
		ID: "gh0", Title: "North", Order: 0,
		GrafanaData: panelData(testContext,
			PanelRecord{GrafanaURL: "https://g.example.com/a", PanelWidth: 600, PanelHeight: 300},
			PanelRecord{GrafanaURL: "https://g.example.com/b", PanelWidth: 600, PanelHeight: 300},
			PanelRecord{GrafanaURL: "https://g.example.com/c", PanelWidth: 600, PanelHeight: 500},
		),
	})
	rows, err := fixture.collection.Layout("gh0", 1300)
	if err != nil {
		testContext.Fatalf("layout: %v", err)
	}
	if len(rows) != 2 || len(rows[0]) != 2 || len(rows[1]) != 1 || rows[1][0].Index != 2 {
		testContext.Fatalf("unexpected rows %+v", rows)
	}
	if _, err := fixture.collection.Layout("missing", 1300); !errors.Is(err, ErrGreenhouseNotFound) {
		testContext.Fatalf("expected not found, got %v", err)
	}
}

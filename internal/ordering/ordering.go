// Package ordering maintains the dense 0..N-1 order sequence shared by a user's
// greenhouses. The record store offers no multi-record transactions or unique
// constraints, so uniqueness is kept cooperatively through explicit swaps.
package ordering

import "slices"

// Ordered is implemented by records carrying an identity and an order slot.
type Ordered interface {
	OrderID() string
	OrderValue() int
}

// Conflict pairs a record moving into a slot with the record currently holding it.
type Conflict[T Ordered] struct {
	Moving      T
	Conflicting T
	OldOrder    int
	NewOrder    int
}

// NextOrder returns the slot for a new record: 0 for an empty set, otherwise one past
// the largest order present. Gaps are tolerated.
func NextOrder[T Ordered](items []T) int {
	if len(items) == 0 {
		return 0
	}
	highest := items[0].OrderValue()
	for _, item := range items[1:] {
		if value := item.OrderValue(); value > highest {
			highest = value
		}
	}
	return highest + 1
}

// AvailableOrders lists the slots 0..count-1.
func AvailableOrders(count int) []int {
	if count <= 0 {
		return []int{}
	}
	orders := make([]int, count)
	for index := range orders {
		orders[index] = index
	}
	return orders
}

// ValidateSwap reports whether moving from currentOrder to newOrder is allowed.
func ValidateSwap(currentOrder, newOrder int, available []int) bool {
	return newOrder != currentOrder && slices.Contains(available, newOrder)
}

// FindConflict returns the first record other than excludeID that holds targetOrder.
func FindConflict[T Ordered](items []T, excludeID string, targetOrder int) (T, bool) {
	for _, item := range items {
		if item.OrderID() != excludeID && item.OrderValue() == targetOrder {
			return item, true
		}
	}
	var zero T
	return zero, false
}

// DetectConflict describes the swap required to move movingID to newOrder. The boolean
// is false when the record is unknown, stays in place, or the slot is free.
func DetectConflict[T Ordered](items []T, movingID string, newOrder int) (Conflict[T], bool) {
	moving, found := find(items, movingID)
	if !found || moving.OrderValue() == newOrder {
		return Conflict[T]{}, false
	}
	conflicting, found := FindConflict(items, movingID, newOrder)
	if !found {
		return Conflict[T]{}, false
	}
	return Conflict[T]{
		Moving:      moving,
		Conflicting: conflicting,
		OldOrder:    moving.OrderValue(),
		NewOrder:    newOrder,
	}, true
}

// Dense reports whether the orders of items are exactly 0..len(items)-1.
func Dense[T Ordered](items []T) bool {
	seen := make([]bool, len(items))
	for _, item := range items {
		value := item.OrderValue()
		if value < 0 || value >= len(items) || seen[value] {
			return false
		}
		seen[value] = true
	}
	return true
}

func find[T Ordered](items []T, id string) (T, bool) {
	for _, item := range items {
		if item.OrderID() == id {
			return item, true
		}
	}
	var zero T
	return zero, false
}

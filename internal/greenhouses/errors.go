package greenhouses

import (
	"errors"
	"fmt"
)

var (
	// ErrGreenhouseNotFound indicates the collection holds no greenhouse with the identifier.
	ErrGreenhouseNotFound = errors.New("greenhouses: greenhouse not found")
	// ErrPanelNotFound indicates a panel index outside the greenhouse's panel list.
	ErrPanelNotFound = errors.New("greenhouses: panel not found")
	// ErrOperationInFlight rejects a mutation while another one for the same identity is outstanding.
	ErrOperationInFlight = errors.New("greenhouses: operation already in flight")
	// ErrBackendUnavailable wraps record store failures recovered locally.
	ErrBackendUnavailable = errors.New("greenhouses: record store unavailable")
	// ErrSwapIncomplete marks an order swap whose first step reached the store but whose
	// second did not; the store holds two greenhouses at the old order until corrected.
	ErrSwapIncomplete = errors.New("greenhouses: order swap incomplete")

	errMissingStore      = errors.New("record store is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingUserID     = errors.New("user identifier is required")
)

// ServiceError tags a failure with the operation and reason that produced it.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the dotted operation.reason identifier.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opCollectionNew = "greenhouses.collection.new"
	opLoad          = "greenhouses.load"
	opGet           = "greenhouses.get"
	opCreate        = "greenhouses.create"
	opUpdate        = "greenhouses.update"
	opDelete        = "greenhouses.delete"
	opAddPanel      = "greenhouses.add_panel"
	opEditPanel     = "greenhouses.edit_panel"
	opResizePanel   = "greenhouses.resize_panel"
	opRemovePanel   = "greenhouses.remove_panel"

	reasonStoreFailed     = "store_failed"
	reasonConflictFailed  = "conflict_move_failed"
	reasonIDFailed        = "id_generation_failed"
	reasonPanelDecode     = "panel_decode_failed"
	reasonMissingStore    = "missing_store"
	reasonMissingProvider = "missing_id_provider"
	reasonMissingUserID   = "missing_user_id"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

func backendUnavailable(cause error) error {
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, cause)
}

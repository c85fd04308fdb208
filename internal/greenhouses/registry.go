package greenhouses

import (
	"strings"
	"sync"

	"go.uber.org/zap"
)

// RegistryConfig carries the dependencies shared by every user's collection.
type RegistryConfig struct {
	Store       RecordStore
	IDProvider  IDProvider
	Logger      *zap.Logger
	Notifier    Notifier
	Observer    OutcomeObserver
	PanelLimits PanelLimits
}

// Registry holds one collection per authenticated user.
type Registry struct {
	config      RegistryConfig
	mu          sync.Mutex
	collections map[string]*Collection
}

// NewRegistry validates the shared dependencies.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opCollectionNew, reasonMissingStore, errMissingStore)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opCollectionNew, reasonMissingProvider, errMissingIDProvider)
	}
	return &Registry{
		config:      cfg,
		collections: make(map[string]*Collection),
	}, nil
}

// ForUser returns the user's collection, creating an empty one on first use.
func (r *Registry) ForUser(userID string) (*Collection, error) {
	key := strings.TrimSpace(userID)
	r.mu.Lock()
	defer r.mu.Unlock()
	if collection, ok := r.collections[key]; ok {
		return collection, nil
	}
	collection, err := NewCollection(CollectionConfig{
		UserID:      key,
		Store:       r.config.Store,
		IDProvider:  r.config.IDProvider,
		Logger:      r.config.Logger,
		Notifier:    r.config.Notifier,
		Observer:    r.config.Observer,
		PanelLimits: r.config.PanelLimits,
	})
	if err != nil {
		return nil, err
	}
	r.collections[key] = collection
	return collection, nil
}

// Forget drops the user's collection, typically on logout.
func (r *Registry) Forget(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.collections, strings.TrimSpace(userID))
}

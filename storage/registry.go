package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/kbukum/imgflow/logger"
)

// Opener builds a backend from the neutral config and the provider's own
// config section, which may be nil.
type Opener func(ctx context.Context, cfg Config, section any) (Storage, error)

var (
	openersMu sync.RWMutex
	openers   = map[string]Opener{}
)

// Register makes a provider available to Open. Backend packages call it from
// init, so they must be imported for effect.
func Register(provider string, open Opener) {
	openersMu.Lock()
	defer openersMu.Unlock()
	openers[provider] = open
}

// Open builds the backend selected by cfg.Provider.
func Open(ctx context.Context, cfg Config, section any, log *logger.Logger) (Storage, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	openersMu.RLock()
	open, ok := openers[cfg.Provider]
	openersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("storage: provider %q is not linked in", cfg.Provider)
	}

	s, err := open(ctx, cfg, section)
	if err != nil {
		return nil, fmt.Errorf("storage %s: %w", cfg.Name, err)
	}
	if log == nil {
		log = logger.Default()
	}
	log.WithComponent("storage").Info("Store opened", map[string]interface{}{
		"store":    cfg.Name,
		"provider": cfg.Provider,
	})
	return s, nil
}

// Section returns the provider section as *T, or a zero T when section is
// nil. Validation is left to the caller.
func Section[T any](section any) (*T, error) {
	if section == nil {
		return new(T), nil
	}
	t, ok := section.(*T)
	if !ok {
		return nil, fmt.Errorf("expected %T section, got %T", t, section)
	}
	c := *t
	return &c, nil
}

package translator

import (
	"sort"
	"strings"
	"sync"

	"pptx-translator/internal/types"
)

// Constructor builds an engine from backend settings
type Constructor func(settings Settings) (Engine, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Constructor{
		"dummy":  func(Settings) (Engine, error) { return NewDummyEngine(), nil },
		"openai": func(s Settings) (Engine, error) { return engineOrNil(NewOpenAIEngine(s)) },
		"vertex": func(s Settings) (Engine, error) { return engineOrNil(NewVertexEngine(s)) },
		"ollama": func(s Settings) (Engine, error) { return engineOrNil(NewOllamaEngine(s)) },
	}
)

// engineOrNil keeps a failed constructor from returning a non-nil interface
// that wraps a nil pointer
func engineOrNil[E Engine](e E, err error) (Engine, error) {
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Register adds or replaces a named engine constructor
func Register(name string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(name)] = ctor
}

// Names returns the registered engine names in sorted order
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the engine registered under name. An unknown name is a configuration error.
func New(name string, settings Settings) (Engine, error) {
	registryMu.RLock()
	ctor, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	registryMu.RUnlock()
	if !ok {
		return nil, types.NewAppErrorWithDetails(
			types.ErrConfig,
			"unknown translation backend",
			name+" (available: "+strings.Join(Names(), ", ")+")",
			nil,
		)
	}
	return ctor(settings)
}

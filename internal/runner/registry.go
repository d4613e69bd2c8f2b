package runner

import (
	"fmt"
	"sort"
	"sync"
)

// Registry — реестр типов обработчиков стадий.
//
// Позволяет регистрировать и получать реализации Handler по типу.
// Потокобезопасен.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register регистрирует обработчик в реестре.
// Если обработчик с таким типом уже существует, он будет перезаписан.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Type()] = h
}

// Get возвращает обработчик по типу.
// Возвращает ErrHandlerNotFound, если обработчик не найден.
func (r *Registry) Get(handlerType string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, exists := r.handlers[handlerType]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, handlerType)
	}

	return h, nil
}

// Has проверяет, зарегистрирован ли обработчик.
func (r *Registry) Has(handlerType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.handlers[handlerType]
	return exists
}

// Types возвращает список всех зарегистрированных типов.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Package artifact содержит in-memory хранилище артефактов одного run.
//
// Артефакт — это непрозрачный локатор содержимого (путь, URI) плюс
// метаданные происхождения. Store не читает содержимое по локатору:
// интерпретация локатора — дело обработчиков стадий.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shaiso/Modelflow/internal/domain"
)

var (
	// ErrDuplicateArtifact — артефакт с таким именем уже записан.
	// Слоты артефактов внутри run иммутабельны.
	ErrDuplicateArtifact = errors.New("artifact already exists")

	// ErrArtifactNotFound — артефакт с таким именем не найден.
	ErrArtifactNotFound = errors.New("artifact not found")
)

// Store — хранилище артефактов одного run.
//
// Каждый run получает собственный Store; после завершения run
// хранилище становится частью записи аудита.
type Store struct {
	mu   sync.RWMutex
	refs map[string]domain.ArtifactRef
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{
		refs: make(map[string]domain.ArtifactRef),
	}
}

// Seed регистрирует внешний входной артефакт (produced_by = "seed").
func (s *Store) Seed(name, location string) error {
	return s.put(domain.ArtifactRef{
		Name:       name,
		Location:   location,
		Digest:     digest(location),
		ProducedBy: "seed",
		CreatedAt:  time.Now(),
	})
}

// Put регистрирует артефакт, произведённый стадией.
// Если digest пуст, он вычисляется от локатора.
func (s *Store) Put(ref domain.ArtifactRef) error {
	if ref.Digest == "" {
		ref.Digest = digest(ref.Location)
	}
	if ref.CreatedAt.IsZero() {
		ref.CreatedAt = time.Now()
	}
	return s.put(ref)
}

func (s *Store) put(ref domain.ArtifactRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.refs[ref.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateArtifact, ref.Name)
	}
	s.refs[ref.Name] = ref
	return nil
}

// Resolve возвращает артефакт по имени слота.
func (s *Store) Resolve(name string) (domain.ArtifactRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ref, exists := s.refs[name]
	if !exists {
		return domain.ArtifactRef{}, fmt.Errorf("%w: %s", ErrArtifactNotFound, name)
	}
	return ref, nil
}

// ResolveAll возвращает артефакты для списка слотов.
// Ошибка — при первом отсутствующем слоте.
func (s *Store) ResolveAll(names []string) (map[string]domain.ArtifactRef, error) {
	out := make(map[string]domain.ArtifactRef, len(names))
	for _, name := range names {
		ref, err := s.Resolve(name)
		if err != nil {
			return nil, err
		}
		out[name] = ref
	}
	return out, nil
}

// List возвращает все артефакты, отсортированные по имени слота.
func (s *Store) List() []domain.ArtifactRef {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ArtifactRef, 0, len(s.refs))
	for _, ref := range s.refs {
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}

// Len возвращает количество артефактов.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.refs)
}

// digest вычисляет sha256-дайджест локатора.
// Содержимое по локатору не читается.
func digest(location string) string {
	sum := sha256.Sum256([]byte(location))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Package catalog содержит каталог групп витрины и состояние выбора пользователя.
package catalog

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mmeshcher/storefront-system/internal/model"
)

// ErrInvalidCatalog возвращается при попытке загрузить некорректный список групп.
var ErrInvalidCatalog = errors.New("invalid catalog")

// Store хранит снимок каталога и множество выбранных групп.
// Снимок неизменяем между загрузками; выбор меняется только явными
// действиями Toggle и Clear.
type Store struct {
	mu       sync.Mutex
	items    map[string]model.CatalogItem
	order    []string
	selected []string
}

// NewStore создаёт пустой каталог.
func NewStore() *Store {
	return &Store{
		items: make(map[string]model.CatalogItem),
	}
}

// Load заменяет снимок каталога. При некорректном списке (пустой или
// повторяющийся идентификатор) каталог остаётся пустым, а не частично
// загруженным. Выбранные идентификаторы, отсутствующие в новом снимке,
// удаляются из выбора.
func (s *Store) Load(items []model.CatalogItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]model.CatalogItem, len(items))
	order := make([]string, 0, len(items))

	for _, it := range items {
		if it.ID == "" {
			s.items = make(map[string]model.CatalogItem)
			s.order = nil
			s.selected = nil
			return fmt.Errorf("%w: item without id", ErrInvalidCatalog)
		}
		if _, ok := next[it.ID]; ok {
			s.items = make(map[string]model.CatalogItem)
			s.order = nil
			s.selected = nil
			return fmt.Errorf("%w: duplicate id %q", ErrInvalidCatalog, it.ID)
		}
		next[it.ID] = it
		order = append(order, it.ID)
	}

	s.items = next
	s.order = order

	kept := s.selected[:0]
	for _, id := range s.selected {
		if _, ok := next[id]; ok {
			kept = append(kept, id)
		}
	}
	s.selected = kept

	return nil
}

// Toggle переключает членство идентификатора в выборе.
// Неизвестный идентификатор молча игнорируется.
func (s *Store) Toggle(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return
	}

	for i, sel := range s.selected {
		if sel == id {
			s.selected = append(s.selected[:i], s.selected[i+1:]...)
			return
		}
	}

	s.selected = append(s.selected, id)
}

// Clear сбрасывает выбор.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.selected = nil
}

// SelectedIDs возвращает выбранные идентификаторы в порядке добавления.
func (s *Store) SelectedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := make([]string, len(s.selected))
	copy(res, s.selected)
	return res
}

// Items возвращает снимок каталога в порядке загрузки.
func (s *Store) Items() []model.CatalogItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := make([]model.CatalogItem, 0, len(s.order))
	for _, id := range s.order {
		res = append(res, s.items[id])
	}
	return res
}

// Item возвращает группу каталога по идентификатору.
func (s *Store) Item(id string) (model.CatalogItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[id]
	return it, ok
}

// Contains сообщает, присутствует ли идентификатор в текущем снимке каталога.
func (s *Store) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.items[id]
	return ok
}

package devserver

import (
	"context"
	"slices"
	"sync"
)

// MemoryRepository keeps games in creation order for the life of the process.
type MemoryRepository struct {
	mu     sync.Mutex
	games  []Game
	nextID int
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{nextID: 1}
}

func (m *MemoryRepository) List(context.Context) ([]Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Game, len(m.games))
	for i, g := range m.games {
		out[i] = g.clone()
	}
	return out, nil
}

func (m *MemoryRepository) Create(_ context.Context, g Game) (Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g = g.clone()
	g.ID = m.nextID
	m.nextID++
	m.games = append(m.games, g)
	return g.clone(), nil
}

func (m *MemoryRepository) Update(_ context.Context, id int, fn func(*Game) error) (Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.index(id)
	if i < 0 {
		return Game{}, ErrNotFound
	}
	next := m.games[i].clone()
	if err := fn(&next); err != nil {
		return Game{}, err
	}
	m.games[i] = next
	return next.clone(), nil
}

func (m *MemoryRepository) Delete(_ context.Context, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.index(id)
	if i < 0 {
		return ErrNotFound
	}
	m.games = slices.Delete(m.games, i, i+1)
	return nil
}

func (m *MemoryRepository) index(id int) int {
	return slices.IndexFunc(m.games, func(g Game) bool { return g.ID == id })
}

package wardrobe

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-process Store used by tests and local runs without a
// database file.
type MemoryStore struct {
	mu      sync.Mutex
	users   map[string]User
	clothes map[int64]Cloth
	nextID  int64

	// Err, when set, is returned by every call.
	Err error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: map[string]User{}, clothes: map[int64]Cloth{}}
}

func (m *MemoryStore) UpsertUser(_ context.Context, u User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return nil
}

func (m *MemoryStore) AddCloth(_ context.Context, c Cloth) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == 0 {
		m.nextID++
		c.ID = m.nextID
	} else if c.ID > m.nextID {
		m.nextID = c.ID
	}
	m.clothes[c.ID] = c
	return c.ID, nil
}

func (m *MemoryStore) GetUser(_ context.Context, userID string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return User{}, m.Err
	}
	u, ok := m.users[userID]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (m *MemoryStore) SetUserSex(_ context.Context, userID, sex string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Sex = sex
	m.users[userID] = u
	return nil
}

func (m *MemoryStore) ListClothes(_ context.Context, userID string, f ClothFilter) ([]Cloth, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []Cloth
	for _, c := range m.clothes {
		if c.UserID != userID || !matches(c, f) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func matches(c Cloth, f ClothFilter) bool {
	if f.Type != "" && !strings.Contains(c.Type, f.Type) {
		return false
	}
	if f.Color != "" && !strings.Contains(c.Color, f.Color) {
		return false
	}
	if f.Style != "" && !strings.Contains(c.Style, f.Style) {
		return false
	}
	if f.Season != "" && !strings.Contains(c.Season, f.Season) {
		return false
	}
	if f.Favorite != nil && c.Favorite != *f.Favorite {
		return false
	}
	return true
}

func (m *MemoryStore) GetCloth(_ context.Context, clothID int64) (Cloth, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return Cloth{}, m.Err
	}
	c, ok := m.clothes[clothID]
	if !ok {
		return Cloth{}, ErrNotFound
	}
	return c, nil
}

func (m *MemoryStore) UpdateCloth(_ context.Context, clothID int64, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	c, ok := m.clothes[clothID]
	if !ok {
		return ErrNotFound
	}
	for k, v := range fields {
		switch k {
		case "name":
			c.Name = v
		case "type":
			c.Type = v
		case "color":
			c.Color = v
		case "style":
			c.Style = v
		case "season":
			c.Season = v
		case "material":
			c.Material = v
		}
	}
	m.clothes[clothID] = c
	return nil
}

func (m *MemoryStore) SetFavorite(_ context.Context, clothID int64, favorite bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	c, ok := m.clothes[clothID]
	if !ok {
		return ErrNotFound
	}
	c.Favorite = favorite
	m.clothes[clothID] = c
	return nil
}

func (m *MemoryStore) DeleteCloth(_ context.Context, clothID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if _, ok := m.clothes[clothID]; !ok {
		return ErrNotFound
	}
	delete(m.clothes, clothID)
	return nil
}

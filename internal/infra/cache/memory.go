package cache

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// ItemDetail описывает ключ in-memory кэша и оставшееся время жизни.
type ItemDetail struct {
	Key string  `json:"key"`
	TTL float64 `json:"ttl"`
}

// Memory — кэш процесса с TTL. Просроченные ключи удаляются при чтении
// и периодически фоновой горутиной.
type Memory struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	now   func() time.Time
	stop  chan struct{}
	once  sync.Once
}

// NewMemory создаёт кэш. При cleanup > 0 запускается фоновая очистка.
func NewMemory(cleanup time.Duration) *Memory {
	m := &Memory{
		items: make(map[string]memoryItem),
		now:   time.Now,
		stop:  make(chan struct{}),
	}
	if cleanup > 0 {
		go m.janitor(cleanup)
	}
	return m
}

func (m *Memory) janitor(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.deleteExpired()
		}
	}
}

func (m *Memory) deleteExpired() {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, item := range m.items {
		if !item.expiresAt.After(now) {
			delete(m.items, key)
		}
	}
}

// Close останавливает фоновую очистку.
func (m *Memory) Close() {
	m.once.Do(func() { close(m.stop) })
}

// Get возвращает копию значения или ErrMiss.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	item, ok := m.items[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrMiss
	}
	if !item.expiresAt.After(m.now()) {
		m.mu.Lock()
		if cur, ok := m.items[key]; ok && !cur.expiresAt.After(m.now()) {
			delete(m.items, key)
		}
		m.mu.Unlock()
		return nil, ErrMiss
	}
	out := make([]byte, len(item.value))
	copy(out, item.value)
	return out, nil
}

// Set сохраняет копию значения.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	m.mu.Lock()
	m.items[key] = memoryItem{value: stored, expiresAt: m.now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

// Delete удаляет ключ.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}

// Detail возвращает живые ключи с префиксом prefix и их оставшийся TTL в секундах.
func (m *Memory) Detail(prefix string) []ItemDetail {
	now := m.now()
	m.mu.RLock()
	items := make([]ItemDetail, 0, len(m.items))
	for key, item := range m.items {
		if !strings.HasPrefix(key, prefix) || !item.expiresAt.After(now) {
			continue
		}
		ttl := item.expiresAt.Sub(now).Seconds()
		items = append(items, ItemDetail{Key: key, TTL: float64(int(ttl*100)) / 100})
	}
	m.mu.RUnlock()
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	return items
}

package cache

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Имена бэкендов кэша.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Open создаёт хранилище кэша по имени бэкенда. Для memory возвращается *Memory
// с фоновой очисткой раз в cleanup, для redis нужен клиент.
func Open(backend string, client *redis.Client, cleanup time.Duration) (Store, error) {
	switch backend {
	case "", BackendMemory:
		return NewMemory(cleanup), nil
	case BackendRedis:
		if client == nil {
			return nil, fmt.Errorf("cache backend %q requires REDIS_ADDR", backend)
		}
		return NewRedis(client), nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", backend)
}

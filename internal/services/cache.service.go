package services

import (
	"sync"
	"time"

	"monsoon/internal/models"
)

// MetricsCache holds the one-off host reads with a TTL
type MetricsCache struct {
	mu              sync.RWMutex
	memoryCache     *models.MemoryStatus
	memoryCacheTime time.Time
	hostCache       *models.HostInfo
	hostCacheTime   time.Time
	ttl             time.Duration
}

var metricsCache = &MetricsCache{
	ttl: 1 * time.Second,
}

// SetCacheTTL sets the cache time-to-live
func SetCacheTTL(duration time.Duration) {
	metricsCache.mu.Lock()
	defer metricsCache.mu.Unlock()
	metricsCache.ttl = duration
}

func (mc *MetricsCache) isCacheValid(cacheTime time.Time) bool {
	return time.Since(cacheTime) < mc.ttl
}

// GetCachedMemory returns cached memory data if valid, otherwise fetches fresh
func GetCachedMemory() (*models.MemoryStatus, error) {
	metricsCache.mu.RLock()
	if metricsCache.isCacheValid(metricsCache.memoryCacheTime) && metricsCache.memoryCache != nil {
		defer metricsCache.mu.RUnlock()
		return metricsCache.memoryCache, nil
	}
	metricsCache.mu.RUnlock()

	memory, err := GetMemoryStatus()
	if err != nil {
		return nil, err
	}

	metricsCache.mu.Lock()
	metricsCache.memoryCache = memory
	metricsCache.memoryCacheTime = time.Now()
	metricsCache.mu.Unlock()

	return memory, nil
}

// GetCachedHostInfo returns cached host info if valid, otherwise fetches fresh
func GetCachedHostInfo() (*models.HostInfo, error) {
	metricsCache.mu.RLock()
	if metricsCache.isCacheValid(metricsCache.hostCacheTime) && metricsCache.hostCache != nil {
		defer metricsCache.mu.RUnlock()
		return metricsCache.hostCache, nil
	}
	metricsCache.mu.RUnlock()

	info, err := GetHostInfo()
	if err != nil {
		return nil, err
	}

	metricsCache.mu.Lock()
	metricsCache.hostCache = info
	metricsCache.hostCacheTime = time.Now()
	metricsCache.mu.Unlock()

	return info, nil
}

// ClearCache clears all cached values
func ClearCache() {
	metricsCache.mu.Lock()
	defer metricsCache.mu.Unlock()

	metricsCache.memoryCache = nil
	metricsCache.hostCache = nil
}

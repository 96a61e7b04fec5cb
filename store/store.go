package store

import (
	"sync"
	"time"

	"github.com/cfipros/acstracker/internal/profile"
	"github.com/cfipros/acstracker/store/cache"
)

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver

	// Cache settings
	cacheConfig cache.Config

	// Caches
	sessionCache cache.Layer

	// Per-session mutation locks
	locksMu      sync.Mutex
	sessionLocks map[string]*sync.Mutex
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	// Default cache settings
	cacheConfig := cache.Config{
		DefaultTTL:      10 * time.Minute,
		CleanupInterval: 5 * time.Minute,
		MaxItems:        1000,
	}

	var sessionCache cache.Layer = cache.New(cacheConfig)
	if profile.CacheRedisAddr != "" {
		sessionCache = cache.NewTiered(cacheConfig, cache.RedisConfig{
			Addr:     profile.CacheRedisAddr,
			Password: profile.CacheRedisPassword,
			TTL:      cacheConfig.DefaultTTL,
			Decode:   decodeSessionJSON,
		})
	}

	store := &Store{
		driver:       driver,
		profile:      profile,
		cacheConfig:  cacheConfig,
		sessionCache: sessionCache,
		sessionLocks: make(map[string]*sync.Mutex),
	}

	return store
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	// Stop cache cleanup goroutines before closing the driver.
	if err := s.sessionCache.Close(); err != nil {
		return err
	}
	return s.driver.Close()
}

// sessionLock returns the mutation lock for the given session UID,
// creating it on first use.
func (s *Store) sessionLock(uid string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	lock, ok := s.sessionLocks[uid]
	if !ok {
		lock = &sync.Mutex{}
		s.sessionLocks[uid] = lock
	}
	return lock
}

func (s *Store) removeSessionLock(uid string) {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	delete(s.sessionLocks, uid)
}

package storage

import (
	"fmt"
	"sync"
)

// BackendFactory is a function that creates a new Backend instance
type BackendFactory func(config map[string]interface{}) (Backend, error)

var (
	factoryMu      sync.RWMutex
	backendFactory = make(map[string]BackendFactory)
)

// RegisterBackend registers a backend constructor under a name. This
// registers constructors, not live instances; backends themselves are
// built once and passed explicitly to the components that use them.
func RegisterBackend(name string, factory BackendFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	backendFactory[name] = factory
}

// NewBackend creates a backend instance by name
func NewBackend(name string, config map[string]interface{}) (Backend, error) {
	factoryMu.RLock()
	factory, exists := backendFactory[name]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown backend type: %s", name)
	}

	return factory(config)
}

// ListBackends returns all registered backend types
func ListBackends() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	names := make([]string, 0, len(backendFactory))
	for name := range backendFactory {
		names = append(names, name)
	}
	return names
}

// init registers built-in backends
func init() {
	RegisterBackend("jsonfile", func(config map[string]interface{}) (Backend, error) {
		baseDir, ok := config["base_dir"].(string)
		if !ok {
			baseDir = "data"
		}

		return NewJSONFileBackend(baseDir)
	})

	RegisterBackend("sqlite", func(config map[string]interface{}) (Backend, error) {
		dbPath, ok := config["db_path"].(string)
		if !ok {
			dbPath = "strata.db"
		}

		sqliteConfig := SQLiteConfig{
			DBPath:      dbPath,
			EnableWAL:   true,
			CacheSize:   2000, // 2MB
			BusyTimeout: 5000, // 5 seconds
		}

		if wal, ok := config["enable_wal"].(bool); ok {
			sqliteConfig.EnableWAL = wal
		}
		if cache, ok := config["cache_size"].(int); ok {
			sqliteConfig.CacheSize = cache
		}
		if timeout, ok := config["busy_timeout"].(int); ok {
			sqliteConfig.BusyTimeout = timeout
		}

		return NewSQLiteBackend(dbPath, sqliteConfig)
	})
}

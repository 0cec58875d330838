// Package storage provides an in-memory implementation of the store.Store
// persistence contracts.
//
// MemoryStore keeps every entity in maps guarded by a single RWMutex and
// hands out copies, so callers can never mutate stored records in place.
// It is used by tests and by `hookd serve --storage memory`, where captures
// are discarded on exit.
package storage

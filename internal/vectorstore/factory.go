package vectorstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/codecontext/internal/provider"
	"github.com/dshills/codecontext/internal/storage"
)

// ErrUnsupportedStore is returned for an unknown vector store name.
var ErrUnsupportedStore = errors.New("unsupported vector store")

// OptDBPath selects the database file when no shared store is supplied.
const OptDBPath = "db_path"

// Factory returns the provider factory for a vector store name. The sqlite
// factory hands out shared when it is set, so rebuilding the handle never
// opens a second database.
func Factory(name string, shared *storage.SQLiteStorage) (provider.Factory, error) {
	switch strings.ToLower(name) {
	case ProviderMemory:
		return func(provider.Options) (any, error) {
			return NewMemoryStore(), nil
		}, nil
	case ProviderSQLite:
		return func(opts provider.Options) (any, error) {
			if shared != nil {
				return shared, nil
			}
			return storage.NewSQLiteStorage(opts.Get(OptDBPath, ":memory:"))
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedStore, name)
	}
}

// Registration builds the startup registration for one configured store.
func Registration(desc provider.Descriptor, shared *storage.SQLiteStorage) (provider.Registration, error) {
	desc.Capability = provider.CapabilityVectorStore
	f, err := Factory(desc.Name, shared)
	if err != nil {
		return provider.Registration{}, err
	}
	return provider.Registration{Descriptor: desc, Factory: f}, nil
}

package storefakes

import (
	"context"
	"sync"

	"github.com/lessonhub/go-authclient/credstore"
)

var _ credstore.Store = (*FakeStore)(nil)

// FakeStore is an in-memory credstore.Store for tests. Individual operations
// can be made to fail to exercise storage-failure paths.
type FakeStore struct {
	values map[string]string
	lock   sync.RWMutex

	// Error overrides, returned by the matching operation when non-nil.
	GetErr    error
	SetErr    error
	RemoveErr error
}

func NewFakeStore() *FakeStore {
	return &FakeStore{values: make(map[string]string)}
}

func (fs *FakeStore) Get(_ context.Context, key string) (string, error) {
	fs.lock.RLock()
	defer fs.lock.RUnlock()

	if fs.GetErr != nil {
		return "", fs.GetErr
	}
	value, ok := fs.values[key]
	if !ok {
		return "", credstore.ErrNotFound
	}
	return value, nil
}

func (fs *FakeStore) MultiGet(_ context.Context, keys ...string) (map[string]string, error) {
	fs.lock.RLock()
	defer fs.lock.RUnlock()

	if fs.GetErr != nil {
		return nil, fs.GetErr
	}
	values := make(map[string]string, len(keys))
	for _, key := range keys {
		if value, ok := fs.values[key]; ok {
			values[key] = value
		}
	}
	return values, nil
}

func (fs *FakeStore) MultiSet(_ context.Context, pairs map[string]string) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	if fs.SetErr != nil {
		return fs.SetErr
	}
	for key, value := range pairs {
		fs.values[key] = value
	}
	return nil
}

func (fs *FakeStore) MultiRemove(_ context.Context, keys ...string) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	for _, key := range keys {
		delete(fs.values, key)
	}
	if fs.RemoveErr != nil {
		return fs.RemoveErr
	}
	return nil
}

// Len reports how many keys are currently stored.
func (fs *FakeStore) Len() int {
	fs.lock.RLock()
	defer fs.lock.RUnlock()
	return len(fs.values)
}

// Seed stores pairs directly, bypassing error overrides.
func (fs *FakeStore) Seed(pairs map[string]string) {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	for key, value := range pairs {
		fs.values[key] = value
	}
}

package storefake

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/jrsteele09/go-wallet-refresh/credential"
)

var _ credential.Store = (*FakeCredentialStore)(nil)

type FakeCredentialStore struct {
	creds map[string]credential.Credential
	lock  sync.RWMutex

	// Deletes records every id passed to Delete, for assertions.
	Deletes []string
}

func NewFakeCredentialStore(seed ...credential.Credential) *FakeCredentialStore {
	s := &FakeCredentialStore{creds: make(map[string]credential.Credential)}
	for _, c := range seed {
		s.creds[c.Ref().ID] = c
	}
	return s
}

func (s *FakeCredentialStore) List(_ context.Context) ([]credential.Credential, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	creds := make([]credential.Credential, 0, len(s.creds))
	for _, c := range s.creds {
		creds = append(creds, c)
	}
	sort.Slice(creds, func(i, j int) bool {
		return creds[i].Ref().CreatedAt.Before(creds[j].Ref().CreatedAt)
	})
	return creds, nil
}

func (s *FakeCredentialStore) Save(_ context.Context, cred credential.Credential) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.creds[cred.Ref().ID] = cred
	return nil
}

func (s *FakeCredentialStore) Delete(_ context.Context, id string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.creds[id]; !ok {
		return errors.New("not found")
	}
	delete(s.creds, id)
	s.Deletes = append(s.Deletes, id)
	return nil
}

func (s *FakeCredentialStore) UpdateRefreshMetadata(_ context.Context, id string, meta *credential.RefreshMetadata) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	c, ok := s.creds[id]
	if !ok {
		return errors.New("not found")
	}
	if c.RefreshMetadata() == nil {
		return errors.New("no refresh metadata on record")
	}
	*c.RefreshMetadata() = *meta
	return nil
}

// Has reports whether a record with id exists.
func (s *FakeCredentialStore) Has(id string) bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	_, ok := s.creds[id]
	return ok
}

// Get returns the stored record for id, or nil.
func (s *FakeCredentialStore) Get(id string) credential.Credential {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.creds[id]
}

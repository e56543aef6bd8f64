package credential

import (
	"context"
)

// Store is the wallet's encrypted record store, owned by the host application.
// This subsystem never performs storage I/O beyond calling these methods; record
// encryption and persistence format belong to the collaborator behind it.
type Store interface {
	// List returns every long-lived credential eligible for a refresh pass.
	List(ctx context.Context) ([]Credential, error)
	// Save persists a credential record, inserting or overwriting by id.
	Save(ctx context.Context, cred Credential) error
	// Delete removes a credential record by id.
	Delete(ctx context.Context, id string) error
	// UpdateRefreshMetadata persists a metadata mutation for an existing record.
	UpdateRefreshMetadata(ctx context.Context, id string, meta *RefreshMetadata) error
}

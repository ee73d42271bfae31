package bolt

import "context"

// StoredDevice is the persisted representation of an enrolled device,
// independent of any particular backing store.
type StoredDevice struct {
	UID    string
	Name   string
	Vendor string
	Policy Policy
	Key    []byte
}

// Store is the persistence contract the manager depends on. Implementations
// never see a *Device directly, so the manager's in-memory lifecycle stays
// decoupled from whatever survives a restart.
//
// All methods must be safe to call concurrently: the manager calls them
// from the goroutine that runs Start (loading stored records) and from
// whichever goroutine calls Enroll or Forget (e.g. an HTTP handler).
type Store interface {
	// ListUIDs returns every persisted uid, for the startup reconciliation
	// pass.
	ListUIDs(ctx context.Context) ([]string, error)

	// Get loads one persisted record. Returns a *StoreError wrapping
	// StoreNotFound if uid has no record.
	Get(ctx context.Context, uid string) (StoredDevice, error)

	// Put creates or overwrites the record for uid.
	Put(ctx context.Context, rec StoredDevice) error

	// Delete removes the record for uid, if any. Deleting an absent uid is
	// not an error.
	Delete(ctx context.Context, uid string) error
}

package persistence

// IArtifactStore persists built merkle trees so proofs can be regenerated and
// claims verified long after the generation run that produced them.
// All implementations must be thread-safe.
//
// The interface supports:
// - Tree record management (save, load by id or root, list, delete)
// - Latest tree tracking (which tree the tooling serves by default)
// - Lifecycle management (close, health check)
type IArtifactStore interface {
	// Tree Records

	// SaveTree persists a tree record keyed by its ID and indexes it by root.
	// Saving a record with an existing ID overwrites it.
	SaveTree(record *TreeRecord) error

	// LoadTree retrieves a tree record by ID.
	// Returns nil if the record doesn't exist, error only on storage failure.
	LoadTree(id string) (*TreeRecord, error)

	// LoadTreeByRoot retrieves the most recently saved record committing to root.
	// The root is matched case-insensitively, with or without the 0x prefix.
	// Returns nil if no record matches, error only on storage failure.
	LoadTreeByRoot(root string) (*TreeRecord, error)

	// ListTrees returns all records sorted by creation time (ascending).
	// Returns empty slice if none exist, error only on storage failure.
	ListTrees() ([]*TreeRecord, error)

	// DeleteTree removes a tree record and its root index entry.
	// Idempotent - returns nil if the record doesn't exist.
	DeleteTree(id string) error

	// Latest Tree Tracking

	// SetLatestTree records which tree ID is current. An empty ID clears it.
	SetLatestTree(id string) error

	// GetLatestTree returns the current tree ID, or "" if none is set.
	GetLatestTree() (string, error)

	// Lifecycle Management

	// Close cleanly shuts down the store.
	// Idempotent - safe to call multiple times.
	// After Close(), all other operations return errors.
	Close() error

	// HealthCheck verifies the store is operational.
	HealthCheck() error
}

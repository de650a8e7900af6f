package deeb

import (
	"errors"
	"fmt"
	"strings"

	"github.com/maruel/deeb/internal/index"
	"github.com/maruel/deeb/internal/storage"
	"github.com/maruel/deeb/query"
)

var (
	// ErrNotFound is returned when a single-row operation matched no document.
	ErrNotFound = errors.New("not found")
	// ErrNotUnique is returned when a single-row operation matched more than
	// one document, or when a write collides with an existing identity or a
	// unique index key.
	ErrNotUnique = errors.New("not unique")
	// ErrInvalidQuery is returned for malformed queries and unresolvable
	// associations.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrLockTimeout is returned when an instance's writer lock could not be
	// acquired within Options.LockTimeout.
	ErrLockTimeout = errors.New("lock timeout")
	// ErrDurability is returned for I/O failures while loading or persisting.
	ErrDurability = errors.New("durability error")
	// ErrConfiguration is returned for invalid or conflicting registrations and
	// for references to unregistered entities.
	ErrConfiguration = errors.New("configuration error")
	// ErrInvalidDocument is returned when a payload is not a JSON object or
	// lacks its primary key.
	ErrInvalidDocument = errors.New("invalid document")
	// ErrTxDone is returned when using a committed or rolled back transaction.
	ErrTxDone = errors.New("transaction already committed or rolled back")
)

// CommitError is returned by Tx.Commit when an instance could not be
// committed. Instances listed in Persisted were durably written before the
// failure and keep their new state: atomicity holds per instance only.
type CommitError struct {
	// Instance is the name of the instance that failed.
	Instance string
	// Persisted lists the instances committed before the failure.
	Persisted []string
	Err       error
}

func (e *CommitError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "commit failed on instance %q: %v", e.Instance, e.Err)
	if len(e.Persisted) > 0 {
		fmt.Fprintf(&sb, " (already persisted: %s)", strings.Join(e.Persisted, ", "))
	}
	return sb.String()
}

func (e *CommitError) Unwrap() error { return e.Err }

// classify maps errors of the lower layers onto the package taxonomy.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, index.ErrNotUnique):
		return fmt.Errorf("%w: %w", ErrNotUnique, err)
	case errors.Is(err, query.ErrInvalid):
		return fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	case errors.Is(err, storage.ErrLockTimeout):
		return fmt.Errorf("%w: %w", ErrLockTimeout, err)
	default:
		return err
	}
}

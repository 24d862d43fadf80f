package engine

import (
	"fmt"

	"github.com/edc/edc/internal/domain/metadata"
)

// ConfigurationError marks a fatal mismatch between the data and the visit
// schedule or form bindings. It aborts the triggering transaction and is
// never retried.
type ConfigurationError struct {
	Msg string
	Err error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Msg, e.Err)
	}
	return fmt.Sprintf("configuration error: %s", e.Msg)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// DeleteMetadataError guards against data loss: visit-scoped metadata may
// not be deleted while a KEYED record's source still exists. The caller
// must delete the source form first, which resets its metadata.
type DeleteMetadataError struct {
	Key    metadata.VisitKey
	Target string
}

func (e *DeleteMetadataError) Error() string {
	return fmt.Sprintf("cannot delete metadata for %s: %s is KEYED and its source record still exists", e.Key, e.Target)
}

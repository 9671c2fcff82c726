package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by how the owning component must react to it.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindTransientIO
	KindSchemaViolation
	KindVersionConflict
	KindPartialBatchFailure
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindTransientIO:
		return "transient_io"
	case KindSchemaViolation:
		return "schema_violation"
	case KindVersionConflict:
		return "version_conflict"
	case KindPartialBatchFailure:
		return "partial_batch_failure"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches bare sentinels (no Op, no Err) by kind only.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrTransientIO     = &Error{Kind: KindTransientIO}
	ErrSchemaViolation = &Error{Kind: KindSchemaViolation}
	ErrVersionConflict = &Error{Kind: KindVersionConflict}
	ErrPartialBatch    = &Error{Kind: KindPartialBatchFailure}
	ErrNotFound        = &Error{Kind: KindNotFound}
)

// E wraps err with a kind and the operation that produced it.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the outermost kind found in err's chain.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

func IsRetryable(err error) bool {
	return err != nil && KindOf(err) == KindTransientIO
}

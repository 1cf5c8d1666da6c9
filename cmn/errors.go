package cmn

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Error taxonomy on the wire (§7). Compare with errors.Is; wrap with WrapIO etc. so a
// caller can still walk the chain back to one of these sentinels with errors.Is while the
// logged message keeps the original context.
var (
	ErrOutOfStorage = errors.New("out-of-storage")
	ErrIO           = errors.New("io-error")
	ErrKeyNotFound  = errors.New("key-does-not-exist")
	ErrUnsupported  = errors.New("unsupported")

	// ErrMiss tags a getter's ordinary cache/backend miss — deliberately a different
	// sentinel from ErrKeyNotFound (§7: that tag is reserved for remove on an absent
	// UID), so a caller can't conflate "I explicitly removed something that wasn't
	// there" with "this was a normal miss on a might-not-exist-yet path".
	ErrMiss = errors.New("miss")
)

// WrapIO wraps an underlying I/O failure so errors.Is(err, cmn.ErrIO) holds while
// preserving the original error's message and call stack via pkg/errors.
func WrapIO(cause error, format string, args ...interface{}) error {
	return &taggedError{tag: ErrIO, cause: pkgerrors.Wrapf(cause, format, args...)}
}

// WrapOutOfStorage tags an allocator failure as out-of-storage (§7).
func WrapOutOfStorage(format string, args ...interface{}) error {
	return &taggedError{tag: ErrOutOfStorage, cause: fmt.Errorf(format, args...)}
}

// WrapNotFound tags a remove-of-absent-uid failure (§7: used only by remove).
func WrapNotFound(format string, args ...interface{}) error {
	return &taggedError{tag: ErrKeyNotFound, cause: fmt.Errorf(format, args...)}
}

// WrapMiss tags a getter's ordinary miss (§7: getters return none rather than the
// key-does-not-exist taxonomy tag for a missed-but-creatable path).
func WrapMiss(format string, args ...interface{}) error {
	return &taggedError{tag: ErrMiss, cause: fmt.Errorf(format, args...)}
}

type taggedError struct {
	tag   error
	cause error
}

func (e *taggedError) Error() string { return e.cause.Error() }
func (e *taggedError) Unwrap() error { return e.cause }
func (e *taggedError) Is(target error) bool {
	return target == e.tag
}

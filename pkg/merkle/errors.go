package merkle

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Sentinel errors. Every typed error below unwraps to one of these so callers
// can match with errors.Is.
var (
	ErrEncoding      = errors.New("invalid leaf encoding")
	ErrDuplicateLeaf = errors.New("duplicate leaf")
	ErrEmptyTree     = errors.New("cannot build merkle tree from empty leaf set")
	ErrLeafNotFound  = errors.New("leaf not found in tree")
	ErrCorruptDump   = errors.New("corrupt tree dump")
)

// EncodingError reports a leaf field that cannot be represented in its declared type.
// Field is -1 when the problem is with the encoding itself rather than a value.
type EncodingError struct {
	Field  int
	Type   string
	Reason string
}

func (e *EncodingError) Error() string {
	if e.Field < 0 {
		return fmt.Sprintf("%s: %s", ErrEncoding, e.Reason)
	}
	return fmt.Sprintf("%s: field %d (%s): %s", ErrEncoding, e.Field, e.Type, e.Reason)
}

func (e *EncodingError) Unwrap() error { return ErrEncoding }

// DuplicateLeafError is returned when two input values hash to the same leaf.
// First and Second are positions in the caller's input slice.
type DuplicateLeafError struct {
	Hash   [32]byte
	First  int
	Second int
}

func (e *DuplicateLeafError) Error() string {
	return fmt.Sprintf("%s: values %d and %d both hash to %s", ErrDuplicateLeaf, e.First, e.Second, hexutil.Encode(e.Hash[:]))
}

func (e *DuplicateLeafError) Unwrap() error { return ErrDuplicateLeaf }

// LeafNotFoundError is returned when a proof is requested for a value that is not committed.
type LeafNotFoundError struct {
	Hash [32]byte
}

func (e *LeafNotFoundError) Error() string {
	return fmt.Sprintf("%s: %s", ErrLeafNotFound, hexutil.Encode(e.Hash[:]))
}

func (e *LeafNotFoundError) Unwrap() error { return ErrLeafNotFound }

// CorruptDumpError is returned by Load when a dump fails re-derivation.
type CorruptDumpError struct {
	Reason string
}

func (e *CorruptDumpError) Error() string {
	return fmt.Sprintf("%s: %s", ErrCorruptDump, e.Reason)
}

func (e *CorruptDumpError) Unwrap() error { return ErrCorruptDump }

func corruptf(format string, args ...interface{}) error {
	return &CorruptDumpError{Reason: fmt.Sprintf(format, args...)}
}

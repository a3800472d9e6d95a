package classifier

import (
	"errors"
	"fmt"

	"github.com/tupleflow/classifier/flow"
)

var (
	// ErrDuplicate is returned by Insert when a rule with the same mask,
	// value and priority is already visible.
	ErrDuplicate = errors.New("duplicate rule")

	// ErrTooManySegments is returned when more staged-lookup boundaries are
	// configured than the classifier supports.
	ErrTooManySegments = errors.New("too many flow segments")

	// ErrTooManyTries is returned when more prefix-trie fields are
	// configured than the classifier supports.
	ErrTooManyTries = errors.New("too many prefix fields")
)

// ErrInvalidSegments indicates staged-lookup boundaries that are not
// strictly increasing within the flow layout.
type ErrInvalidSegments struct {
	Boundaries []int
}

func (e *ErrInvalidSegments) Error() string {
	return fmt.Sprintf("invalid flow segments: %v", e.Boundaries)
}

// ErrInvalidTrieField indicates a prefix-trie field that is unknown or not
// trie-capable.
type ErrInvalidTrieField struct {
	Field flow.FieldID
}

func (e *ErrInvalidTrieField) Error() string {
	return fmt.Sprintf("field not usable for prefix tracking: %v", e.Field)
}

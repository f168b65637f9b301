package loader

import (
	"fmt"
	"strings"
)

// MalformedFragmentError reports a document that cannot be turned into the typed
// model. Composition never starts when one is returned.
type MalformedFragmentError struct {
	Source     string
	FragmentID string
	Field      string
	Reason     string
}

func (e *MalformedFragmentError) Error() string {
	var b strings.Builder
	b.WriteString("malformed fragment")
	if e.FragmentID != "" {
		fmt.Fprintf(&b, " %q", e.FragmentID)
	}
	if e.Source != "" {
		fmt.Fprintf(&b, " (%s)", e.Source)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, ": %s", e.Field)
	}
	fmt.Fprintf(&b, ": %s", e.Reason)
	return b.String()
}

// docContext carries the identity of the document being decoded so every error
// names its source.
type docContext struct {
	source string
	id     string
}

func (c docContext) fail(field string, err error) error {
	return &MalformedFragmentError{Source: c.source, FragmentID: c.id, Field: field, Reason: err.Error()}
}

func (c docContext) failf(field, format string, args ...any) error {
	return &MalformedFragmentError{Source: c.source, FragmentID: c.id, Field: field, Reason: fmt.Sprintf(format, args...)}
}

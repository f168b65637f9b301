package emit

import (
	"fmt"

	"github.com/pmezard/go-difflib/difflib"
)

// Diff returns a unified diff between two emitted documents, or "" when they are
// identical.
func Diff(aName string, a []byte, bName string, b []byte) (string, error) {
	if string(a) == string(b) {
		return "", nil
	}
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(a)),
		B:        difflib.SplitLines(string(b)),
		FromFile: aName,
		ToFile:   bName,
		Context:  3,
	}
	out, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return "", fmt.Errorf("diff %s %s: %w", aName, bName, err)
	}
	return out, nil
}

package testutil

import (
	"strings"

	"github.com/andreyvit/diff"
)

// DiffLines returns an empty string if got and want have the same lines
// (ignoring trailing whitespace), otherwise a line diff.
func DiffLines(got, want string) string {
	got = diff.TrimLinesInString(got)
	want = diff.TrimLinesInString(want)
	if got == want {
		return ""
	}
	return strings.TrimRight(diff.LineDiff(want, got), "\n")
}

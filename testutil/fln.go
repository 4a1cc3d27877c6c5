package testutil

import (
	"fmt"
	"path/filepath"
	"runtime"
)

// FileLineNumber marks the source line of a case in a table driven test.
type FileLineNumber struct {
	File string
	Line int
}

func (fln FileLineNumber) String() string {
	if fln.File == "" || fln.Line == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d: ", filepath.Base(fln.File), fln.Line)
}

// CallerFileLineNumber returns the location skip frames above its caller.
func CallerFileLineNumber(skip int) FileLineNumber {
	_, fn, ln, ok := runtime.Caller(skip + 1)
	if !ok {
		return FileLineNumber{}
	}
	return FileLineNumber{
		File: fn,
		Line: ln,
	}
}

// MakeFileLineNumber is called from a package local fln() helper, and returns
// the location which called that helper.
func MakeFileLineNumber() FileLineNumber {
	return CallerFileLineNumber(2)
}

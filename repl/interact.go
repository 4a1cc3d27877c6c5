package repl

import (
	"fmt"
	"os"

	"github.com/peterh/liner"
)

const (
	chaindbHistory = ".chaindb_history"
)

type lineReader struct {
	line *liner.State
}

func (lr lineReader) ReadLine() (string, error) {
	s, err := lr.line.Prompt("chaindb: ")
	if err == liner.ErrPromptAborted {
		return "", nil
	} else if err != nil {
		return "", err
	}
	lr.line.AppendHistory(s)
	return s, nil
}

// Interact runs commands typed at the console with line editing and history.
func Interact(run func(lr LineReader) error) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	if f, err := os.Open(chaindbHistory); err == nil {
		line.ReadHistory(f)
		f.Close()
	}

	err := run(lineReader{line: line})

	if f, ferr := os.Create(chaindbHistory); ferr != nil {
		fmt.Fprintf(os.Stderr, "chaindb: error writing history file, %s: %s", chaindbHistory, ferr)
	} else {
		line.WriteHistory(f)
		f.Close()
	}
	return err
}

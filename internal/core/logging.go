package core

import (
	"fmt"
	"log"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
)

// NewLogger returns a stderr logger. Debug output (V(1)) is only emitted when
// verbose is true.
func NewLogger(verbose bool) logr.Logger {
	if verbose {
		stdr.SetVerbosity(1)
	} else {
		stdr.SetVerbosity(0)
	}
	return stdr.New(log.New(os.Stderr, "", log.LstdFlags)).WithName("localekit")
}

// ProgressPrint writes msg to stderr unless quiet is true.
func ProgressPrint(msg string, quiet bool) {
	if !quiet {
		fmt.Fprintln(os.Stderr, msg)
	}
}

package panicerr

import (
	"github.com/sourcegraph/conc/panics"
)

// Safe wraps fn so that a panic inside it is recovered and returned as an error.
func Safe(fn func() error) func() error {
	return func() error {
		var (
			catcher panics.Catcher
			err     error
		)
		catcher.Try(func() {
			err = fn()
		})
		if err != nil {
			return err
		}
		return catcher.Recovered().AsError()
	}
}

package bencode

import "github.com/pkg/errors"

// ErrMalformed is the sentinel all decode failures wrap. Callers match it
// with errors.Is to classify a failure as the MalformedInput error kind.
var ErrMalformed = errors.New("bencode: malformed input")

func malformedf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrMalformed, format, args...)
}

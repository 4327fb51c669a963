package errext

import "errors"

// HasHint is a wrapper around an error with an attached user hint, such as a
// suggestion on how to fix a configuration problem.
type HasHint interface {
	error
	Hint() string
}

// WithHint attaches hint to err. If err already had a hint the result reads
// "new hint (old hint)". A nil error stays nil.
func WithHint(err error, hint string) error {
	if err == nil {
		return nil
	}
	return withHint{err, hint}
}

type withHint struct {
	error
	hint string
}

func (wh withHint) Unwrap() error {
	return wh.error
}

func (wh withHint) Hint() string {
	hint := wh.hint
	var oldhint HasHint
	if errors.As(wh.error, &oldhint) {
		hint = hint + " (" + oldhint.Hint() + ")"
	}
	return hint
}

var _ HasHint = withHint{}

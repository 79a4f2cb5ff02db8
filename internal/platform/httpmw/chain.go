package httpmw

import "net/http"

type Middleware func(http.Handler) http.Handler

// Chain is an ordered list of middleware; the first element is outermost.
// Nil entries are skipped.
type Chain []Middleware

// Then wraps h in the chain.
func (c Chain) Then(h http.Handler) http.Handler {
	for i := len(c) - 1; i >= 0; i-- {
		if mw := c[i]; mw != nil {
			h = mw(h)
		}
	}
	return h
}

// Append returns a copy of c with mw added as the innermost entries.
func (c Chain) Append(mw ...Middleware) Chain {
	return append(c[:len(c):len(c)], mw...)
}

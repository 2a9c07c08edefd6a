package mcp

import "testing"

func TestErrorRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  *Error
		want bool
	}{
		{"nil error", nil, false},
		{"parse error", &Error{Code: JSONRPCParseError}, true},
		{"internal error", &Error{Code: JSONRPCInternalError}, true},
		{"invalid params", &Error{Code: JSONRPCInvalidParams}, false},
		{"method not found", &Error{Code: JSONRPCMethodNotFound}, false},
		{"invalid request", &Error{Code: JSONRPCInvalidRequest}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.err.Retryable(); got != c.want {
				t.Errorf("Retryable() = %v, want %v", got, c.want)
			}
		})
	}
}

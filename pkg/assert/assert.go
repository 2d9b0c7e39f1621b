// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package assert

import "fmt"

// Assertf panics and prints the appended message if the cond is false.
//
// It is reserved for broken contracts inside the process, never for conditions a caller is expected to handle.
func Assertf(cond bool, format string, a ...any) {
	if !cond {
		msg := fmt.Sprintf(format, a...)
		panic(msg)
	}
}

// Assert panics with msg if the cond is false.
func Assert(cond bool, msg string) {
	if !cond {
		panic(msg)
	}
}

package monitoring

import "log"

// Logf receives progress blocks and run-level notices. It defaults to
// log.Printf; the CLIs redirect it alongside the interferometer log streams.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces Logf. Passing nil mutes progress output.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

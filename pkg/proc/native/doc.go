// Package native pauses and inspects threads of a live process on Linux
// using ptrace(2).
//
// Threads are attached one at a time with Attach, which returns an
// Attachment that must be released on every path. ThreadIDs lists the
// threads of a process.
package native

// Package trace collects the stack traces of every thread of a process
// and prints them.
//
// Threads are paused one at a time, so the traces of different threads
// are not taken at the same instant.
package trace

// Package unwind walks the call stack of a stopped thread.
//
// The frame walking itself is delegated to a Backend, a narrow capability
// modelled after remote unwinding libraries: an address space created once
// per process, a per thread argument and a cursor that can report
// registers, name the current procedure and step to the caller. Walk drives
// the cursor and bounds the walk to MaxFrames frames.
package unwind

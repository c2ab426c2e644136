// Package remote implements unwind.Backend for a thread of another process
// using the call frame information (.eh_frame and .debug_frame) of the
// modules mapped in it. Frames not covered by call frame information are
// walked following the frame pointer chain.
package remote

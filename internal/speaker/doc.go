// Package speaker holds the process-wide registry of known speakers.
//
// The registry is the single writer for speaker entries. It consumes
// discovery events (create, retarget, retire) and session events (state
// and connectivity updates) on one run loop goroutine, so every mutation
// of the speaker map is serialised and the view handed to callers is
// always internally consistent.
//
// Consumers read through snapshots: ListSpeakers returns copies, and
// Subscribe returns a lossless subscription that receives every event
// published after the subscription was made. Slow subscribers queue
// without bounding; dropping or coalescing updates is a presentation
// decision that belongs at the delivery edge, not here.
package speaker

// Package presence tracks which identity is connected on which gateway
// connection and routes point-to-point messages to live recipients.
//
// Registry is the bidirectional identity/connection map, Lifecycle moves a
// connection through its join and leave transitions, Router delivers message
// events, and Hub serializes all three behind a single goroutine. Registry
// state can optionally be mirrored to external storage through MirrorQueue.
package presence

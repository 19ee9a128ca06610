// Package process launches a celer-geo style child and drives it over a
// JSON-lines request/response protocol on its stdin/stdout.
//
// Lifecycle:
//   - Launch resolves <prefix_path>/bin/<executable>, overlays the settings
//     environment, and starts the child with the single argument "-".
//   - Communicate writes one line and reads one line back. CommunicateModel
//     layers JSON encoding and typed decoding on top, turning exception
//     payloads into *protocol.RemoteError.
//   - Close asks the child to exit by sending "null", then escalates
//     SIGINT → SIGTERM → SIGKILL with a bounded wait per level, drains
//     trailing output, reaps the child, and releases both pipes.
//
// Deadlock warning:
//
// The protocol is strictly one request, one response line. Communicate blocks
// until the child writes a full line or exits. A child that never answers and
// never exits blocks the caller forever unless the context carries a deadline
// or is cancelled, in which case the child is killed to unblock the read and
// the handle is left exited. Sending a request the child does not expect is
// the usual way to hit this.
//
// Concurrency:
//   - A Handle serializes exchanges internally; concurrent callers take turns
//     and never interleave a write with another caller's read.
//   - One reaper goroutine per child waits for exit; it never touches the pipes.
//   - Kill may be called while an exchange is blocked and will unblock it.
package process

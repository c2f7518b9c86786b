// Package transport owns the byte-stream endpoint.
//
// Ownership boundary:
//   - unix domain socket IO with SCM_RIGHTS fd passing
//   - the WAYLAND_DISPLAY / XDG_RUNTIME_DIR / WAYLAND_SOCKET environment
//     contract for locating (or inheriting) the socket
//   - buffered endpoints that frame complete messages out of the stream
//
// The transport never interprets messages beyond their headers; decoding
// against signatures is the wire package's job, invoked from here only to
// carve complete frames.
package transport

// Package pushover builds and dispatches Pushover notification requests:
// field rules (required/optional, truncation, boolean coercion), bounded
// attachment fetching, and the single-POST simple/multipart transport.
package pushover

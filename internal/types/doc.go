// Package types holds the closed value types shared by the rendering core:
// rendering methods, stages, error types, document types, the immutable
// RenderError and the ProgressState snapshot.
//
// Every enum is a small integer type with a String form used on the wire.
// Values outside the declared set are representable (for robustness against
// malformed input) but are never produced by this module; functions that
// receive them treat them as unknown.
package types

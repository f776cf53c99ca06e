// Package chunk splits document text into bounded, overlapping windows.
//
// Splitting prefers paragraph breaks, then line breaks, then spaces, and
// finally cuts characters, so windows end on the largest natural boundary
// that keeps them under the target size. Every window is cleaned of
// newlines, tabs and quotes before it is returned.
package chunk

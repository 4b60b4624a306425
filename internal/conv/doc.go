// Package conv provides safe integer type conversion utilities.
//
// Used when decoding sizes and shapes from checkpoint headers and raw label dumps,
// where values come from untrusted bytes.
package conv

// Package sanitizer normalizes caller-supplied strings before validation.
//
// All functions are idempotent: applying them twice gives the same result as
// applying them once. They never fail; input that normalizes to nothing comes
// back as an empty string and is left to the validator to reject.
package sanitizer

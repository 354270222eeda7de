// Package ir provides the canonical value representation used to seed
// operation fingerprints.
//
// Operations describe the state they captured at construction time (the
// amount an Add operation adds, the value a Set operation writes, a model
// parameter) as an Object. The object is encoded canonically and hashed
// with a domain tag, so two operations with the same logic and the same
// captured state always produce the same seed digest.
//
// ir imports nothing internal. Every other package may import it.
package ir

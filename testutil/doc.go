// Package testutil provides testing utilities for casefs.
//
// This package is intended for use in tests and benchmarks only.
// It provides a seeded random source for generating ensemble keys and
// record payloads.
//
// # Keys
//
//	rng := testutil.NewRNG(seed)
//	keys := rng.Keys(names, realizations, steps)
//
// # Payloads
//
//	payload := rng.Payload(4096)       // incompressible bytes
//	grid := rng.FieldPayload(64 * 64)  // little-endian float32 grid
package testutil

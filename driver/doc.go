// Package driver defines the pluggable persistence contract of a storage
// area.
//
// A driver stores opaque values under opaque string keys in a directory it
// owns. It knows nothing about locking, reference counting or the structure
// of keys; those concerns live in the casefs package.
//
// Each implementation is described by a [Factory] identified by a [Kind].
// Factories are registered in a [Table] that is passed explicitly to the
// code that needs it, so tests can build isolated tables:
//
//	t := driver.NewTable(block.Factory{}, plain.Factory{})
//	f, err := t.Lookup("block")
//
// The kind and [Config] chosen when an area is created are persisted with
// the area; opening it later reconstructs the same driver without hints.
package driver

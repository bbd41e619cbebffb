package marker

import "errors"

var (
	// ErrNotFound is returned when a directory has no marker.
	ErrNotFound = errors.New("marker not found")

	// ErrExists is returned by Publish when an area already occupies the path.
	ErrExists = errors.New("area already exists")

	// ErrMalformed is returned when a marker cannot be decoded.
	ErrMalformed = errors.New("malformed marker")

	// ErrIncompatibleVersion is returned when the marker version is not supported.
	ErrIncompatibleVersion = errors.New("incompatible marker version")
)

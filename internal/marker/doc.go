// Package marker reads and writes MOUNT_INFO, the metadata file whose
// presence makes a directory a storage area, and publishes new areas
// atomically.
//
// A new area is laid out in a hidden staging directory next to its final
// location and renamed into place only once the driver layout and the marker
// are durable. Readers therefore see either no area or a complete one.
package marker

// Package fs provides the filesystem abstraction used by storage areas.
//
// Two interfaces are defined:
//
//   - [File]: an open file with read/write/sync capabilities
//   - [FileSystem]: directory-level operations (open, remove, rename, ...)
//
// # Implementations
//
//   - [LocalFS]: production implementation on top of the os package
//   - [FaultyFS]: test utility that injects write, sync, close and rename
//     failures so torn writes and disk-full conditions can be simulated
//
// Production code uses fs.Default:
//
//	f, err := fs.Default.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
//
// Tests wrap it:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("data-000001.blk", fs.Fault{FailAfterBytes: 64})
//
// Operations carry no context.Context. Local filesystem calls are short and
// cannot be interrupted at the syscall level.
package fs

// Package fs provides filesystem abstractions for testability and fault injection.
//
//   - [LocalFS]: production implementation using the os package
//   - [FaultyFS]: test wrapper that fails opens, writes, syncs, closes or renames
//     of files whose name matches a rule
//
// Tests inject a [FaultyFS] into the local blob store or the checkpoint writer:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("_embeds", fs.Fault{FailAfterBytes: 1024})
//
// The interfaces carry no context.Context. Local file operations are not interruptible
// at the syscall level.
package fs

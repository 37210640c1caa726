// Package backend contains the generation backends that turn a staged image
// into candidate GLB files in a scratch directory.
//
// Three implementations share the Backend contract:
//   - Billboard synthesizes a thin textured box in-process.
//   - Subprocess runs an external image-to-3D tool as
//     "<command> [args...] <input-path> --output-dir <scratch-dir>".
//   - Remote posts the image to a hosted inference endpoint and saves the
//     response body as "<stem>.glb".
//
// Subprocess timeout handling:
//   - The tool runs in its own process group
//   - When the context is done, SIGTERM is sent to the whole group
//   - After the termination grace period, SIGKILL is sent to the group
//   - The process is always reaped before Generate returns
//
// Stdout and stderr are captured, keeping the last 64KB of each.
package backend

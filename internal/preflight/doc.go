// Package preflight provides readiness checks for the filesystem paths that
// mediaindex depends on.
//
// These checks run in two contexts:
//   - The daemon runtime calls RunAll before starting and refuses to start
//     when any check fails.
//   - The CLI "mediaindex status" command shows the same results next to a
//     backlog snapshot of the intake directories.
package preflight

// Package fileutil moves and copies local files between the intake
// directories.
package fileutil

// Package textutil cleans names that come from the media service before they
// touch the local filesystem.
package textutil

// Package upload implements the first pipeline stage: it moves a source file
// into a new storage-encrypted input asset and then strips the asset's
// content key so the uploaded bytes stay unreadable until indexing begins.
//
// Asset creation and key capture run under a single mutex owned by the
// Uploader; the byte transfer itself runs outside it so uploads overlap.
package upload

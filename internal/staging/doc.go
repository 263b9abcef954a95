// Package staging reclaims partial downloads that interrupted runs leave in
// the output directory.
package staging

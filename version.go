// Package avlrun runs test scripts and judges them by the failure marker
// in their output.
package avlrun

// Version is the avlrun release version.
const Version = "0.1.0"

// Package graph defines the patch graph edited by the user and the
// structural validator that classifies its problems. The graph is owned by
// the caller and passed by value; nothing in this package retains it
// between calls.
package graph

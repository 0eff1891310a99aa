// Package process tears down browser processes launched for native
// rendering.
package process

// Package stats provides the numeric building blocks shared by the
// optimizers: a generic ring buffer, a concurrent sliding Window with
// summary statistics, and ordinary least squares regression.
package stats

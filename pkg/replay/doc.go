// Package replay holds the bounded experience buffer models are trained from.
package replay

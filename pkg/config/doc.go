// Package config loads the cadence YAML configuration.
//
// A document only needs the keys it overrides; everything else keeps the
// value from Default. Decoding is strict, so misspelled keys fail loudly.
package config

// Package generation sits between a transport and the text producers. It
// validates raw request fields, decides between the local Markov engine and
// an optional remote model, and merges both into a single event stream that
// always ends with exactly one terminal event.
package generation

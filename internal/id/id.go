// Package id generates opaque identifiers for toasts, requests and push
// envelopes.
package id

import (
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Generate returns a 24-character nanoid using an alphanumeric alphabet.
func Generate() string {
	id, err := gonanoid.Generate(alphabet, 24)
	if err != nil {
		panic(fmt.Sprintf("generate nanoid: %v", err))
	}
	return id
}

// Prefixed returns Generate() with a short type prefix, e.g. "req_...".
func Prefixed(prefix string) string {
	return prefix + "_" + Generate()
}

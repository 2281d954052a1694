// Package crypt owns all key material and artifact encryption. Each
// appointment gets its own data key, stored only in wrapped form under
// the master key; plaintext keys live in memory for the duration of a
// single encrypt or decrypt call and are zeroed afterwards.
package crypt

// Package logs reads the daemon log file in offset-addressed pages so
// the API can serve log tails to the CLI without holding the file open.
package logs

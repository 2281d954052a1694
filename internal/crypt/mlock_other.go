//go:build !linux

package crypt

func lockMemory(b []byte) {}

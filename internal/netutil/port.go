// Package netutil picks the listen address for the titler API.
package netutil

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"
)

// ErrNoBindAddr is returned when neither the preferred address nor any
// fallback can be listened on.
var ErrNoBindAddr = errors.New("no free api bind address")

// SelectBindAddr returns preferred when it is free. Otherwise, with
// autoFallback, it returns the first free candidate. Blank and repeated
// addresses are skipped.
func SelectBindAddr(preferred string, candidates []string, autoFallback bool) (string, error) {
	preferred = strings.TrimSpace(preferred)
	var tried []string
	if preferred != "" {
		ok, err := IsAddrAvailable(preferred)
		if err != nil {
			return "", err
		}
		if ok {
			return preferred, nil
		}
		if !autoFallback {
			return "", fmt.Errorf("api bind address %s is in use", preferred)
		}
		tried = append(tried, preferred)
	}

	for _, addr := range candidates {
		addr = strings.TrimSpace(addr)
		if addr == "" || slices.Contains(tried, addr) {
			continue
		}
		tried = append(tried, addr)
		ok, err := IsAddrAvailable(addr)
		if err != nil {
			return "", err
		}
		if ok {
			return addr, nil
		}
	}
	return "", fmt.Errorf("%w (tried %s)", ErrNoBindAddr, strings.Join(tried, ", "))
}

// IsAddrAvailable reports whether addr can be listened on right now.
func IsAddrAvailable(addr string) (bool, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return false, nil
	}
	if err := ln.Close(); err != nil {
		return false, err
	}
	return true, nil
}

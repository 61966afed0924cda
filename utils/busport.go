package utils

import (
	"net"
	"strconv"

	"github.com/cockroachdb/errors"
)

// BusPortOffset separates a node's admin bus from its service port.
const BusPortOffset = 10000

// BumpPort moves the port of addr by delta, keeping the host.
func BumpPort(addr string, delta int) (string, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", errors.Wrapf(err, "invalid addr %q", addr)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", errors.Wrapf(err, "invalid port %q", portStr)
	}

	bumped := port + delta
	if bumped < 0 || bumped > 0xFFFF {
		return "", errors.Newf("port %d moved by %d is out of range", port, delta)
	}
	return net.JoinHostPort(host, strconv.Itoa(bumped)), nil
}

// BusAddr is the admin bus address that goes with a service address.
func BusAddr(addr string) (string, error) {
	return BumpPort(addr, BusPortOffset)
}

package core

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/mdlayher/vsock"
)

// Endpoint is a validated TCP or VSOCK address.
//
// The set of implementations is closed: only *TCPEndpoint and *VsockEndpoint
// satisfy it, and both are created by ParseTCP, ParseVsock or Parse.
type Endpoint interface {
	Network() string
	String() string

	// Listen binds a listener on the endpoint.
	Listen() (net.Listener, error)

	// Dial opens one outbound connection to the endpoint.
	Dial(context.Context) (net.Conn, error)

	endpoint()
}

// Parse dispatches to ParseTCP or ParseVsock depending on network.
func Parse(network, text string) (Endpoint, error) {
	switch network {
	case "tcp":
		e, err := ParseTCP(text)
		if err != nil {
			return nil, err
		}
		return e, nil
	case "vsock":
		e, err := ParseVsock(text)
		if err != nil {
			return nil, err
		}
		return e, nil
	}

	return nil, &AddressError{Kind: InvalidFormat, Text: text, Err: fmt.Errorf("unknown network %q", network)}
}

type TCPEndpoint struct {
	Host string
	Port uint16
}

// ParseTCP parses a host:port string. IPv6 hosts must be enclosed
// in square brackets.
func ParseTCP(text string) (*TCPEndpoint, error) {
	host, port, err := net.SplitHostPort(text)
	if err != nil {
		return nil, &AddressError{Kind: InvalidFormat, Text: text, Err: err}
	}

	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return nil, &AddressError{Kind: InvalidPort, Field: "port", Text: text, Err: err}
	}

	return &TCPEndpoint{Host: host, Port: uint16(p)}, nil
}

func (e *TCPEndpoint) Network() string { return "tcp" }

func (e *TCPEndpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.FormatUint(uint64(e.Port), 10))
}

func (e *TCPEndpoint) Listen() (net.Listener, error) {
	l, err := net.Listen("tcp", e.String())
	if err != nil {
		return nil, &BindError{Endpoint: e, Err: err}
	}

	return l, nil
}

func (e *TCPEndpoint) Dial(ctx context.Context) (net.Conn, error) {
	var d net.Dialer

	conn, err := d.DialContext(ctx, "tcp", e.String())
	if err != nil {
		return nil, &ConnectError{Endpoint: e, Err: err}
	}

	return conn, nil
}

func (e *TCPEndpoint) endpoint() {}

type VsockEndpoint struct {
	ContextID uint32
	Port      uint32
}

// ParseVsock parses a cid:port string where both parts are
// unsigned 32-bit decimal integers.
func ParseVsock(text string) (*VsockEndpoint, error) {
	cidStr, portStr, ok := strings.Cut(text, ":")
	if !ok {
		return nil, &AddressError{Kind: InvalidFormat, Text: text, Err: fmt.Errorf("missing port in address")}
	}

	cid, err := strconv.ParseUint(cidStr, 10, 32)
	if err != nil {
		return nil, &AddressError{Kind: InvalidPort, Field: "cid", Text: text, Err: err}
	}

	port, err := strconv.ParseUint(portStr, 10, 32)
	if err != nil {
		return nil, &AddressError{Kind: InvalidPort, Field: "port", Text: text, Err: err}
	}

	return &VsockEndpoint{ContextID: uint32(cid), Port: uint32(port)}, nil
}

func (e *VsockEndpoint) Network() string { return "vsock" }

func (e *VsockEndpoint) String() string {
	return fmt.Sprintf("%d:%d", e.ContextID, e.Port)
}

func (e *VsockEndpoint) Listen() (net.Listener, error) {
	prepareVsockTransport(transportModule(true, e.ContextID))

	l, err := vsock.ListenContextID(e.ContextID, e.Port, nil)
	if err != nil {
		return nil, &BindError{Endpoint: e, Err: err}
	}

	return l, nil
}

// Dial ignores ctx: AF_VSOCK connect is not cancelable through
// the vsock package.
func (e *VsockEndpoint) Dial(_ context.Context) (net.Conn, error) {
	prepareVsockTransport(transportModule(false, e.ContextID))

	conn, err := vsock.Dial(e.ContextID, e.Port, nil)
	if err != nil {
		return nil, &ConnectError{Endpoint: e, Err: err}
	}

	return conn, nil
}

func (e *VsockEndpoint) endpoint() {}

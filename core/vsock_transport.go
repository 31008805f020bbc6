package core

import (
	"github.com/mdlayher/vsock"
)

const (
	guestTransportModule = "vmw_vsock_virtio_transport"
	hostTransportModule  = "vhost_vsock"
)

// transportModule returns the kernel module that provides AF_VSOCK
// for the side of the hypervisor boundary the endpoint implies.
//
// Listening on the host CID or dialing a VM (CID above the host one)
// means we run on the host. Anything else, including VMADDR_CID_ANY,
// is treated as the guest side.
func transportModule(listen bool, cid uint32) string {
	const cidAny = ^uint32(0)

	switch {
	case listen && cid == vsock.Host:
		return hostTransportModule
	case !listen && cid > vsock.Host && cid != cidAny:
		return hostTransportModule
	}

	return guestTransportModule
}

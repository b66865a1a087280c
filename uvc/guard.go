package uvc

import usb "github.com/corevid/uvccore"

// vcInterfaceGuard is the scoped kernel-driver-detach acquisition described
// in spec §4.2/§9 Design Notes: acquiring it detaches any kernel driver
// bound to the VC interface; releasing it reattaches the driver and issues a
// USB reset, exactly mirroring the teacher's defer-based handle cleanup in
// cmd/browse-uvc. Release is idempotent so it is safe to defer unconditionally
// and also call explicitly on the success path.
type vcInterfaceGuard struct {
	handle   *usb.DeviceHandle
	ifaceNum uint8
	detached bool
	released bool
}

// acquireVCInterfaceGuard detaches iface's kernel driver if autoDetach is
// true and a driver is currently bound. When autoDetach is false the guard
// is a no-op whose Release never resets the device.
func acquireVCInterfaceGuard(handle *usb.DeviceHandle, ifaceNum uint8, autoDetach bool) (*vcInterfaceGuard, error) {
	g := &vcInterfaceGuard{handle: handle, ifaceNum: ifaceNum}
	if !autoDetach {
		return g, nil
	}

	active, err := handle.KernelDriverActive(ifaceNum)
	if err != nil {
		return nil, err
	}
	if !active {
		return g, nil
	}

	if err := handle.DetachKernelDriver(ifaceNum); err != nil {
		return nil, err
	}
	g.detached = true
	return g, nil
}

// Release reattaches the kernel driver and resets the device if this guard
// detached one, per spec §5's close ordering (stop stream, release
// interfaces, reset if a driver was detached). Safe to call multiple times.
func (g *vcInterfaceGuard) Release() error {
	if g.released || !g.detached {
		g.released = true
		return nil
	}
	g.released = true

	if err := g.handle.AttachKernelDriver(g.ifaceNum); err != nil {
		return err
	}
	return g.handle.ResetDevice()
}

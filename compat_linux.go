package usb

// Adapter methods satisfying DeviceHandleInterface's naming, which differs
// slightly from the lower-level methods implemented in device.go and
// transfer.go (SetInterfaceAltSetting vs SetAltSetting, GetDescriptor vs
// GetDeviceDescriptor, etc).

// SetAltSetting sets the alternate setting for an interface.
func (h *DeviceHandle) SetAltSetting(iface, altSetting uint8) error {
	return h.SetInterfaceAltSetting(iface, altSetting)
}

// GetDeviceDescriptor returns the device descriptor.
func (h *DeviceHandle) GetDeviceDescriptor() (*DeviceDescriptor, error) {
	desc := h.GetDescriptor()
	return &desc, nil
}

// GetConfigDescriptor gets a parsed configuration descriptor by index.
func (h *DeviceHandle) GetConfigDescriptor(index uint8) (*ConfigDescriptor, error) {
	return h.GetParsedConfigDescriptor(index)
}

// GetActiveConfigDescriptor gets the descriptor for the currently active configuration.
func (h *DeviceHandle) GetActiveConfigDescriptor() (*ConfigDescriptor, error) {
	config, err := h.GetConfiguration()
	if err != nil {
		return nil, err
	}

	if config > 0 {
		return h.GetParsedConfigDescriptor(uint8(config - 1))
	}

	return h.GetParsedConfigDescriptor(0)
}

// Descriptor is an alias for GetDescriptor.
func (h *DeviceHandle) Descriptor() DeviceDescriptor {
	return h.GetDescriptor()
}

// StringDescriptor reads a string descriptor by index.
func (h *DeviceHandle) StringDescriptor(index uint8) (string, error) {
	return h.GetStringDescriptor(index)
}

// KernelDriverActive reports whether a kernel driver is bound to iface.
//
// usbfs has no direct query ioctl for this; we infer it from sysfs, which is
// the same source device.go's fast-path descriptor load already reads.
func (h *DeviceHandle) KernelDriverActive(iface uint8) (bool, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return false, ErrDeviceNotFound
	}

	return sysfsInterfaceHasDriver(h.device.Bus, h.device.Address, iface)
}

var _ DeviceHandleInterface = (*DeviceHandle)(nil)

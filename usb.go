package usb

import (
	"errors"
	"strconv"
	"strings"
	"sync"
)

var (
	ErrDeviceNotFound     = errors.New("device not found")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrDeviceBusy         = errors.New("device busy")
	ErrInvalidParameter   = errors.New("invalid parameter")
	ErrIO                 = errors.New("I/O error")
	ErrNotSupported       = errors.New("operation not supported")
	ErrTimeout            = errors.New("operation timed out")
	ErrPipe               = errors.New("pipe error")
	ErrInterrupted        = errors.New("interrupted")
	ErrNoMemory           = errors.New("out of memory")
	ErrOther              = errors.New("unknown error")
)

// USB descriptor types not already covered by types_common.go's table
const (
	USB_DT_INTERFACE_ASSOC        = 0x0B
	USB_DT_SECURITY               = 0x0C
	USB_DT_KEY                    = 0x0D
	USB_DT_ENCRYPTION_TYPE        = 0x0E
	USB_DT_WIRELESS_ENDPOINT_COMP = 0x11
	USB_DT_WIRE_ADAPTER           = 0x21
	USB_DT_RPIPE                  = 0x22
	USB_DT_CS_RADIO_CONTROL       = 0x23
	USB_DT_SS_ENDPOINT_COMP       = 0x30
)

// USB feature selector not already covered by types_common.go's table
const (
	USB_ENDPOINT_HALT = 0x00
)

// USB test modes
const (
	USB_TEST_J              = 0x01
	USB_TEST_K              = 0x02
	USB_TEST_SE0_NAK        = 0x03
	USB_TEST_PACKET         = 0x04
	USB_TEST_FORCE_ENABLE   = 0x05
)

type EndpointDirection uint8

const (
	EndpointDirectionOut EndpointDirection = 0
	EndpointDirectionIn  EndpointDirection = 0x80
)

type Context struct {
	mu      sync.RWMutex
	devices []*Device
	debug   bool
}

func NewContext() (*Context, error) {
	return &Context{
		devices: make([]*Device, 0),
		debug:   false,
	}, nil
}

func (c *Context) SetDebug(debug bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.debug = debug
}

func (c *Context) GetDeviceList() ([]*Device, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Use sysfs enumerator for fast device discovery
	enumerator := NewSysfsEnumerator()
	sysfsDevices, err := enumerator.EnumerateDevices()
	if err != nil {
		return nil, err
	}
	
	devices := make([]*Device, 0, len(sysfsDevices))
	for _, sysfsDevice := range sysfsDevices {
		device := sysfsDevice.ToUSBDevice(c)
		devices = append(devices, device)
	}
	
	c.devices = devices
	return devices, nil
}

func (c *Context) OpenDevice(vendorID, productID uint16) (*DeviceHandle, error) {
	devices, err := c.GetDeviceList()
	if err != nil {
		return nil, err
	}
	
	for _, dev := range devices {
		if dev.Descriptor.VendorID == vendorID && dev.Descriptor.ProductID == productID {
			return dev.Open()
		}
	}
	
	return nil, ErrDeviceNotFound
}

// OpenDeviceWithSerial opens the first device matching vendorID and
// productID whose iSerialNumber string descriptor equals serial. It opens
// and closes every same-VID/PID candidate handle in turn to read the
// string; the serial cached from sysfs enumeration is not consulted.
func (c *Context) OpenDeviceWithSerial(vendorID, productID uint16, serial string) (*DeviceHandle, error) {
	devices, err := c.GetDeviceList()
	if err != nil {
		return nil, err
	}

	for _, dev := range devices {
		if dev.Descriptor.VendorID != vendorID || dev.Descriptor.ProductID != productID {
			continue
		}
		handle, err := dev.Open()
		if err != nil {
			continue
		}
		if dev.Descriptor.SerialNumberIndex == 0 {
			handle.Close()
			continue
		}
		s, err := handle.GetStringDescriptor(dev.Descriptor.SerialNumberIndex)
		if err != nil || s != serial {
			handle.Close()
			continue
		}
		return handle, nil
	}

	return nil, ErrDeviceNotFound
}

func (c *Context) OpenDeviceWithPath(path string) (*DeviceHandle, error) {
	devices, err := c.GetDeviceList()
	if err != nil {
		return nil, err
	}
	
	for _, dev := range devices {
		if dev.Path == path {
			return dev.Open()
		}
	}
	
	return nil, ErrDeviceNotFound
}

func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Close all device handles
	for _, dev := range c.devices {
		if dev.handle != nil {
			dev.handle.Close()
		}
	}

	c.devices = nil
	return nil
}

func GetVersion() string {
	return "1.0.0"
}

// Version is an alias for GetVersion kept for callers that prefer the
// shorter package-level name.
func Version() string {
	return GetVersion()
}

func GetCapabilities() map[string]bool {
	return map[string]bool{
		"has_capability":                true,
		"has_hotplug":                   false,
		"has_hid_access":                true,
		"supports_detach_kernel_driver": true,
	}
}

var (
	defaultContext     *Context
	defaultContextOnce sync.Once
	defaultContextErr  error
)

func defaultCtx() (*Context, error) {
	defaultContextOnce.Do(func() {
		defaultContext, defaultContextErr = NewContext()
	})
	return defaultContext, defaultContextErr
}

// DeviceList enumerates USB devices using a lazily-initialized package-level
// Context, for callers that don't need explicit Context lifecycle control.
func DeviceList() ([]*Device, error) {
	ctx, err := defaultCtx()
	if err != nil {
		return nil, err
	}
	return ctx.GetDeviceList()
}

// GetDeviceList is an alias for DeviceList.
func GetDeviceList() ([]*Device, error) {
	return DeviceList()
}

// OpenDevice opens the first device matching the given vendor/product ID
// using the package-level default Context.
func OpenDevice(vendorID, productID uint16) (*DeviceHandle, error) {
	ctx, err := defaultCtx()
	if err != nil {
		return nil, err
	}
	return ctx.OpenDevice(vendorID, productID)
}

// OpenDeviceWithPath opens the device at the given devfs path using the
// package-level default Context.
func OpenDeviceWithPath(path string) (*DeviceHandle, error) {
	ctx, err := defaultCtx()
	if err != nil {
		return nil, err
	}
	return ctx.OpenDeviceWithPath(path)
}

func IsValidDevicePath(path string) bool {
	if !strings.HasPrefix(path, "/dev/bus/usb/") {
		return false
	}
	
	parts := strings.Split(path, "/")
	if len(parts) != 6 {
		return false
	}
	
	busNum, err := strconv.Atoi(parts[4])
	if err != nil || busNum < 0 || busNum > 255 {
		return false
	}
	
	devNum, err := strconv.Atoi(parts[5])
	if err != nil || devNum < 0 || devNum > 255 {
		return false
	}
	
	return true
}
// Command uvcinfo opens a UVC camera and prints its Video Control/Video
// Streaming descriptor tree and the control set ValidateControls confirmed
// present, the way cmd/browse-uvc used to walk raw descriptor bytes by hand.
package main

import (
	"flag"
	"fmt"
	"log"
	"sort"

	usb "github.com/corevid/uvccore"
	"github.com/corevid/uvccore/uvc"
)

// GET_INFO capability bits (UVC 4.1.2), duplicated here the same way
// cmd/browse-uvc hand-duplicated the class constants it needed.
const (
	capGet  = 0x01
	capSet  = 0x02
	capAuto = 0x08
)

func main() {
	var (
		vendorID  = flag.String("vid", "", "USB Vendor ID in hex (e.g., 046d)")
		productID = flag.String("pid", "", "USB Product ID in hex (e.g., 08e5)")
		serial    = flag.String("serial", "", "match a specific device by serial number")
		list      = flag.Bool("list", false, "list all UVC video devices and exit")
	)
	flag.Parse()

	if *list {
		listUVCDevices()
		return
	}

	var vid, pid uint16
	if *vendorID != "" && *productID != "" {
		if _, err := fmt.Sscanf(*vendorID, "%x", &vid); err != nil {
			log.Fatalf("invalid -vid %q: %v", *vendorID, err)
		}
		if _, err := fmt.Sscanf(*productID, "%x", &pid); err != nil {
			log.Fatalf("invalid -pid %q: %v", *productID, err)
		}
	} else {
		d, err := findFirstWebcam()
		if err != nil {
			log.Fatal(err)
		}
		vid, pid = d.Descriptor.VendorID, d.Descriptor.ProductID
	}

	cfg := uvc.DefaultConfig()
	cfg.VendorID, cfg.ProductID, cfg.SerialNumber = vid, pid, *serial

	session, err := uvc.Open(cfg)
	if err != nil {
		log.Fatalf("open %04x:%04x: %v", vid, pid, err)
	}
	defer session.Close()

	fmt.Printf("USB Video Class device %04x:%04x\n", vid, pid)
	printVC(session.VC())
	printVS(session.VS())
	printControls(session)
}

func printVC(vc *uvc.VCInterface) {
	fmt.Printf("\nVideo Control interface %d (UVC %x.%02x)\n", vc.Number, vc.BcdUVC>>8, vc.BcdUVC&0xFF)
	for _, unit := range vc.Units {
		switch u := unit.(type) {
		case *uvc.CameraTerminal:
			fmt.Printf("  [%d] camera terminal, type=0x%04x\n", u.UnitID(), u.TerminalType)
		case *uvc.OutputTerminal:
			fmt.Printf("  [%d] output terminal, type=0x%04x, source=%d\n", u.UnitID(), u.TerminalType, u.SourceID)
		case *uvc.ProcessingUnit:
			fmt.Printf("  [%d] processing unit, source=%d\n", u.UnitID(), u.SourceID)
		case *uvc.SelectorUnit:
			fmt.Printf("  [%d] selector unit, sources=%v\n", u.UnitID(), u.SourceIDs)
		case *uvc.ExtensionUnit:
			fmt.Printf("  [%d] extension unit, guid=%s\n", u.UnitID(), u.GUID)
			for selector, name := range u.Names {
				fmt.Printf("        selector 0x%02x: %s (%s)\n", selector, name.Name, name.Kind)
			}
		}
	}
}

func printVS(interfaces []*uvc.VSInterface) {
	for _, vs := range interfaces {
		fmt.Printf("\nVideo Streaming interface %d\n", vs.Number)
		for _, f := range vs.Formats {
			fmt.Printf("  format %d: %s\n", f.FormatIndex, f.FourCC)
			for _, fr := range f.Frames {
				fmt.Printf("    %dx%d, default interval %.2f fps\n", fr.Width, fr.Height, 10000000.0/float64(fr.DefaultFrameInterval))
			}
		}
	}
}

func printControls(session *uvc.Session) {
	fmt.Println("\nValidated controls:")
	controls := session.Controls()
	sort.Slice(controls, func(i, j int) bool {
		if controls[i].UnitID != controls[j].UnitID {
			return controls[i].UnitID < controls[j].UnitID
		}
		return controls[i].Selector < controls[j].Selector
	})
	for _, c := range controls {
		fmt.Printf("  unit %d selector 0x%02x:", c.UnitID, c.Selector)
		if c.Capabilities&capGet != 0 {
			fmt.Print(" GET")
		}
		if c.Capabilities&capSet != 0 {
			fmt.Print(" SET")
		}
		if c.Capabilities&capAuto != 0 {
			fmt.Print(" AUTO")
		}
		fmt.Println()
	}
}

func findFirstWebcam() (*usb.Device, error) {
	devices, err := usb.GetDeviceList()
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if isWebcam(d) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("no UVC webcam found; use -vid/-pid or -list")
}

func isWebcam(d *usb.Device) bool {
	if d.Descriptor.DeviceClass == 0x0E {
		return true
	}
	return d.Descriptor.DeviceClass == 0xEF && d.Descriptor.DeviceSubClass == 0x02 && d.Descriptor.DeviceProtocol == 0x01
}

func listUVCDevices() {
	devices, err := usb.GetDeviceList()
	if err != nil {
		log.Fatalf("failed to get device list: %v", err)
	}

	found := false
	for _, d := range devices {
		if !isWebcam(d) {
			continue
		}
		found = true
		fmt.Printf("Device: VID=%04x PID=%04x", d.Descriptor.VendorID, d.Descriptor.ProductID)
		if vendor := usb.VendorName(d.Descriptor.VendorID); vendor != "" {
			fmt.Printf(" (%s)", vendor)
		}
		fmt.Println()

		handle, err := d.Open()
		if err != nil {
			if product := usb.ProductName(d.Descriptor.VendorID, d.Descriptor.ProductID); product != "" {
				fmt.Printf("  Product: %s (from usb.ids, device busy)\n", product)
			}
			continue
		}
		product, err := handle.GetStringDescriptor(d.Descriptor.ProductIndex)
		if err != nil {
			product = usb.ProductName(d.Descriptor.VendorID, d.Descriptor.ProductID)
		}
		if product != "" {
			fmt.Printf("  Product: %s\n", product)
		}
		if serial, err := handle.GetStringDescriptor(d.Descriptor.SerialNumberIndex); err == nil {
			fmt.Printf("  Serial: %s\n", serial)
		}
		handle.Close()
	}

	if !found {
		fmt.Println("No UVC video devices found.")
	}
}

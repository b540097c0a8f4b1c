//go:build cgo

package sl3

import (
	"fmt"

	"github.com/nvgeele/sl3/hid"
	"github.com/nvgeele/sl3/transport"
)

// Open finds the SL3 on the bus, claims its interfaces and runs the
// initialization handshake.
func Open(opts *Options) (*Device, error) {
	tr, err := transport.OpenLibusb(transport.LibusbConfig{
		VendorID:  hid.VendorID,
		ProductID: hid.ProductID,
		Interfaces: []transport.InterfaceSetting{
			{Number: 1, AltSetting: 1},
			{Number: 2, AltSetting: 1},
			{Number: 3, AltSetting: 0},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sl3: open device: %w", err)
	}
	dev, err := New(tr, opts)
	if err != nil {
		tr.Close()
		return nil, err
	}
	return dev, nil
}

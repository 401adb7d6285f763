package native

import (
	"errors"

	"tinygo.org/x/bluetooth"
)

var errNoPeripheral = errors.New("native: peripheral role not supported by CoreBluetooth backend")

type noAdvertisement struct{}

func (noAdvertisement) Configure(bluetooth.AdvertisementOptions) error { return errNoPeripheral }
func (noAdvertisement) Start() error                                   { return errNoPeripheral }
func (noAdvertisement) Stop() error                                    { return nil }

func defaultAdvertisement(*bluetooth.Adapter) func() advertisement {
	return func() advertisement { return noAdvertisement{} }
}

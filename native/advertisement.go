//go:build !darwin

package native

import "tinygo.org/x/bluetooth"

func defaultAdvertisement(adapter *bluetooth.Adapter) func() advertisement {
	return func() advertisement {
		return adapter.DefaultAdvertisement()
	}
}

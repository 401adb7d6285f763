package beacon

// Platform is the host's Bluetooth stack.
type Platform interface {
	// Advertiser returns the LE advertiser. It returns ErrUnsupported (or an
	// error wrapping it) when the device has none.
	Advertiser() (Advertiser, error)
}

// Advertiser mirrors the native start/stop advertising calls.
//
// StartAdvertising returns an error only for failures detected before the
// request is submitted, such as ErrPermissionDenied. Everything else is
// reported later through cb, possibly on another goroutine.
type Advertiser interface {
	StartAdvertising(settings Settings, data AdvertiseData, cb AdvertiseCallback) error
	StopAdvertising(cb AdvertiseCallback) error
}

// AdvertiseCallback receives the platform's verdict on a start request.
type AdvertiseCallback interface {
	OnStartSuccess(settingsInEffect Settings)
	OnStartFailure(reason Reason)
}

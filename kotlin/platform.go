package kotlin

import (
	"errors"
	"fmt"
	"sync"

	"github.com/user/pal-beacon/beacon"
)

// Platform exposes a simulated Android adapter as a beacon.Platform.
type Platform struct {
	adapter *BluetoothAdapter

	mu    sync.Mutex
	shims map[beacon.AdvertiseCallback]*callbackShim
}

func NewPlatform(adapter *BluetoothAdapter) *Platform {
	return &Platform{
		adapter: adapter,
		shims:   make(map[beacon.AdvertiseCallback]*callbackShim),
	}
}

// Advertiser returns beacon.ErrUnsupported when the adapter has no LE
// advertiser, mirroring getBluetoothLeAdvertiser() returning null.
func (p *Platform) Advertiser() (beacon.Advertiser, error) {
	adv := p.adapter.GetBluetoothLeAdvertiser()
	if adv == nil {
		return nil, beacon.ErrUnsupported
	}
	return &sessionAdvertiser{platform: p, adv: adv}, nil
}

type sessionAdvertiser struct {
	platform *Platform
	adv      *BluetoothLeAdvertiser
}

func (s *sessionAdvertiser) StartAdvertising(settings beacon.Settings, data beacon.AdvertiseData, cb beacon.AdvertiseCallback) error {
	androidSettings := &AdvertiseSettings{
		AdvertiseMode: advertiseMode(settings.Mode),
		TxPowerLevel:  txPowerLevel(settings.TxPower),
		Connectable:   settings.Connectable,
	}
	androidData := &AdvertiseData{
		IncludeDeviceName: false,
		ManufacturerData:  map[int][]byte{int(data.CompanyID): data.Payload},
	}

	shim := s.platform.shimFor(cb)
	if err := s.adv.StartAdvertising(androidSettings, androidData, nil, shim); err != nil {
		s.platform.release(cb)
		if errors.Is(err, ErrSecurity) {
			return fmt.Errorf("%w: %w", beacon.ErrPermissionDenied, err)
		}
		return err
	}
	return nil
}

func (s *sessionAdvertiser) StopAdvertising(cb beacon.AdvertiseCallback) error {
	s.platform.mu.Lock()
	shim, ok := s.platform.shims[cb]
	s.platform.mu.Unlock()
	if !ok {
		return nil
	}

	if err := s.adv.StopAdvertising(shim); err != nil {
		if errors.Is(err, ErrSecurity) {
			return fmt.Errorf("%w: %w", beacon.ErrPermissionDenied, err)
		}
		return err
	}
	s.platform.release(cb)
	return nil
}

func (p *Platform) shimFor(cb beacon.AdvertiseCallback) *callbackShim {
	p.mu.Lock()
	defer p.mu.Unlock()
	shim, ok := p.shims[cb]
	if !ok {
		shim = &callbackShim{platform: p, target: cb}
		p.shims[cb] = shim
	}
	return shim
}

func (p *Platform) release(cb beacon.AdvertiseCallback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.shims, cb)
}

// callbackShim turns Android error codes into beacon reasons.
type callbackShim struct {
	platform *Platform
	target   beacon.AdvertiseCallback
}

func (c *callbackShim) OnStartSuccess(settingsInEffect *AdvertiseSettings) {
	c.target.OnStartSuccess(beacon.Settings{
		Mode:        beaconMode(settingsInEffect.AdvertiseMode),
		TxPower:     beaconTxPower(settingsInEffect.TxPowerLevel),
		Connectable: settingsInEffect.Connectable,
	})
}

func (c *callbackShim) OnStartFailure(errorCode int) {
	// A duplicate start leaves the original set on air.
	if errorCode != ADVERTISE_FAILED_ALREADY_STARTED {
		c.platform.release(c.target)
	}
	c.target.OnStartFailure(FailureReason(errorCode))
}

// FailureReason maps an ADVERTISE_FAILED_* code to the beacon taxonomy.
func FailureReason(errorCode int) beacon.Reason {
	switch errorCode {
	case ADVERTISE_FAILED_DATA_TOO_LARGE:
		return beacon.ReasonPayloadTooLarge
	case ADVERTISE_FAILED_TOO_MANY_ADVERTISERS:
		return beacon.ReasonTooManyConcurrentAdvertisers
	case ADVERTISE_FAILED_ALREADY_STARTED:
		return beacon.ReasonAlreadyActive
	case ADVERTISE_FAILED_INTERNAL_ERROR:
		return beacon.ReasonInternalPlatformError
	case ADVERTISE_FAILED_FEATURE_UNSUPPORTED:
		return beacon.ReasonFeatureUnsupported
	default:
		return beacon.ReasonUnknown
	}
}

func advertiseMode(m beacon.AdvertiseMode) int {
	switch m {
	case beacon.ModeLowLatency:
		return ADVERTISE_MODE_LOW_LATENCY
	case beacon.ModeBalanced:
		return ADVERTISE_MODE_BALANCED
	default:
		return ADVERTISE_MODE_LOW_POWER
	}
}

func beaconMode(mode int) beacon.AdvertiseMode {
	switch mode {
	case ADVERTISE_MODE_LOW_LATENCY:
		return beacon.ModeLowLatency
	case ADVERTISE_MODE_BALANCED:
		return beacon.ModeBalanced
	default:
		return beacon.ModeLowPower
	}
}

func txPowerLevel(p beacon.TxPower) int {
	switch p {
	case beacon.TxPowerUltraLow:
		return ADVERTISE_TX_POWER_ULTRA_LOW
	case beacon.TxPowerLow:
		return ADVERTISE_TX_POWER_LOW
	case beacon.TxPowerHigh:
		return ADVERTISE_TX_POWER_HIGH
	default:
		return ADVERTISE_TX_POWER_MEDIUM
	}
}

func beaconTxPower(level int) beacon.TxPower {
	switch level {
	case ADVERTISE_TX_POWER_ULTRA_LOW:
		return beacon.TxPowerUltraLow
	case ADVERTISE_TX_POWER_LOW:
		return beacon.TxPowerLow
	case ADVERTISE_TX_POWER_HIGH:
		return beacon.TxPowerHigh
	default:
		return beacon.TxPowerMedium
	}
}

package beacon

import "time"

// AdvertiseMode trades advertising interval against power.
type AdvertiseMode int

const (
	ModeLowPower   AdvertiseMode = iota // ~1000ms
	ModeBalanced                        // ~250ms
	ModeLowLatency                      // ~100ms
)

// Interval is the nominal advertising interval for the mode.
func (m AdvertiseMode) Interval() time.Duration {
	switch m {
	case ModeLowLatency:
		return 100 * time.Millisecond
	case ModeBalanced:
		return 250 * time.Millisecond
	default:
		return 1000 * time.Millisecond
	}
}

func (m AdvertiseMode) String() string {
	switch m {
	case ModeLowLatency:
		return "low-latency"
	case ModeBalanced:
		return "balanced"
	default:
		return "low-power"
	}
}

// TxPower is a coarse transmit power level.
type TxPower int

const (
	TxPowerUltraLow TxPower = iota
	TxPowerLow
	TxPowerMedium
	TxPowerHigh
)

// DBm is the typical radiated power for the level.
func (p TxPower) DBm() int8 {
	switch p {
	case TxPowerUltraLow:
		return -21
	case TxPowerLow:
		return -15
	case TxPowerHigh:
		return 1
	default:
		return -7
	}
}

// Settings is the broadcast configuration handed to the platform.
type Settings struct {
	Mode        AdvertiseMode
	TxPower     TxPower
	Connectable bool
}

// DefaultSettings is what every session advertises with: fast, loud and
// not connectable.
func DefaultSettings() Settings {
	return Settings{
		Mode:        ModeLowLatency,
		TxPower:     TxPowerHigh,
		Connectable: false,
	}
}

// AdvertiseData is the manufacturer-specific field to broadcast. Service
// UUIDs and the device name are never included.
type AdvertiseData struct {
	CompanyID uint16
	Payload   []byte
}

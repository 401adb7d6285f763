package kotlin

import "time"

// SimulationConfig controls how the simulated Android Bluetooth stack
// behaves. The defaults model a current phone that accepts the request.
type SimulationConfig struct {
	// Device capability: false makes getBluetoothLeAdvertiser() return null
	AdvertisingSupported bool

	// Number of advertising sets the controller can run at once.
	// Android reports ADVERTISE_FAILED_TOO_MANY_ADVERTISERS beyond it.
	MaxAdvertisers int

	// Delay before onStartSuccess / onStartFailure is delivered
	StartDelay time.Duration

	// Forces every start to fail with this ADVERTISE_FAILED_* code (0 = off)
	FailureCode int

	// Never deliver a start callback, like a wedged Bluetooth stack
	Unresponsive bool

	// Emit the on-air PDU to the broadcast listener at the advertise interval
	EmitFrames bool
}

// DefaultSimulationConfig returns realistic behavior: a 10ms callback delay
// and the four advertising sets most controllers expose.
func DefaultSimulationConfig() *SimulationConfig {
	return &SimulationConfig{
		AdvertisingSupported: true,
		MaxAdvertisers:       4,
		StartDelay:           10 * time.Millisecond,
		EmitFrames:           true,
	}
}

// PerfectSimulationConfig is DefaultSimulationConfig without delays.
func PerfectSimulationConfig() *SimulationConfig {
	config := DefaultSimulationConfig()
	config.StartDelay = 0
	return config
}

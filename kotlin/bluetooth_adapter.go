package kotlin

import (
	"sync"

	"github.com/google/uuid"
)

// BluetoothAdapter matches Android's BluetoothAdapter, reduced to what LE
// advertising needs: radio state, runtime permission and the advertiser.
type BluetoothAdapter struct {
	id         string
	deviceName string
	config     *SimulationConfig

	mu         sync.RWMutex
	enabled    bool
	permission bool
	advertiser *BluetoothLeAdvertiser
}

// NewBluetoothAdapter returns an enabled adapter whose app already holds
// BLUETOOTH_ADVERTISE.
func NewBluetoothAdapter(deviceName string, config *SimulationConfig) *BluetoothAdapter {
	if config == nil {
		config = DefaultSimulationConfig()
	}
	a := &BluetoothAdapter{
		id:         uuid.NewString(),
		deviceName: deviceName,
		config:     config,
		enabled:    true,
		permission: true,
	}
	a.advertiser = newBluetoothLeAdvertiser(a, config)
	return a
}

// GetName matches: bluetoothAdapter.getName()
func (a *BluetoothAdapter) GetName() string {
	return a.deviceName
}

// IsEnabled matches: bluetoothAdapter.isEnabled()
func (a *BluetoothAdapter) IsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// SetEnabled turns the radio on or off. Turning it off drops every
// advertising set, as Android does.
func (a *BluetoothAdapter) SetEnabled(enabled bool) {
	a.mu.Lock()
	a.enabled = enabled
	a.mu.Unlock()

	if !enabled {
		a.advertiser.mu.Lock()
		for cb, set := range a.advertiser.sets {
			delete(a.advertiser.sets, cb)
			close(set.stop)
		}
		a.advertiser.mu.Unlock()
	}
}

// SetPermissionGranted simulates the user granting or revoking
// BLUETOOTH_ADVERTISE in system settings.
func (a *BluetoothAdapter) SetPermissionGranted(granted bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.permission = granted
}

// HasPermission reports whether advertising calls will be allowed.
func (a *BluetoothAdapter) HasPermission() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.permission
}

// GetBluetoothLeAdvertiser matches: bluetoothAdapter.getBluetoothLeAdvertiser()
// It returns nil when the radio is off or the chipset cannot advertise.
func (a *BluetoothAdapter) GetBluetoothLeAdvertiser() *BluetoothLeAdvertiser {
	if !a.config.AdvertisingSupported || !a.IsEnabled() {
		return nil
	}
	return a.advertiser
}

package kotlin

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/user/pal-beacon/logger"
	"github.com/user/pal-beacon/wire/advertising"
)

// AdvertiseCallback matches Android's AdvertiseCallback interface
type AdvertiseCallback interface {
	OnStartSuccess(settingsInEffect *AdvertiseSettings)
	OnStartFailure(errorCode int)
}

// AdvertiseSettings matches Android's AdvertiseSettings class
type AdvertiseSettings struct {
	AdvertiseMode int // ADVERTISE_MODE_LOW_POWER, BALANCED, LOW_LATENCY
	Connectable   bool
	Timeout       int // milliseconds, 0 = no timeout
	TxPowerLevel  int // ADVERTISE_TX_POWER_ULTRA_LOW, LOW, MEDIUM, HIGH
}

// AdvertiseSettings modes
const (
	ADVERTISE_MODE_LOW_POWER   = 0 // 1000ms interval
	ADVERTISE_MODE_BALANCED    = 1 // 250ms interval
	ADVERTISE_MODE_LOW_LATENCY = 2 // 100ms interval
)

// AdvertiseSettings TX power levels
const (
	ADVERTISE_TX_POWER_ULTRA_LOW = 0 // -21 dBm
	ADVERTISE_TX_POWER_LOW       = 1 // -15 dBm
	ADVERTISE_TX_POWER_MEDIUM    = 2 // -7 dBm
	ADVERTISE_TX_POWER_HIGH      = 3 // 1 dBm
)

// AdvertiseCallback error codes
const (
	ADVERTISE_FAILED_DATA_TOO_LARGE       = 1
	ADVERTISE_FAILED_TOO_MANY_ADVERTISERS = 2
	ADVERTISE_FAILED_ALREADY_STARTED      = 3
	ADVERTISE_FAILED_INTERNAL_ERROR       = 4
	ADVERTISE_FAILED_FEATURE_UNSUPPORTED  = 5
)

// ErrSecurity stands in for the SecurityException thrown when the app lacks
// BLUETOOTH_ADVERTISE.
var ErrSecurity = errors.New("SecurityException: missing android.permission.BLUETOOTH_ADVERTISE")

// ErrIllegalArgument stands in for IllegalArgumentException.
var ErrIllegalArgument = errors.New("IllegalArgumentException")

// AdvertiseData matches Android's AdvertiseData class
type AdvertiseData struct {
	ServiceUUIDs        []string
	ManufacturerData    map[int][]byte // Company ID -> data
	IncludeTxPowerLevel bool
	IncludeDeviceName   bool
}

type advertisingSet struct {
	settings *AdvertiseSettings
	frame    []byte
	started  bool
	stop     chan struct{}
}

// BluetoothLeAdvertiser matches Android's BluetoothLeAdvertiser class.
// Sets are keyed by callback, as on Android.
type BluetoothLeAdvertiser struct {
	adapter *BluetoothAdapter
	config  *SimulationConfig
	address [advertising.BLEAddressLen]byte

	mu       sync.Mutex
	sets     map[AdvertiseCallback]*advertisingSet
	listener func(frame []byte)
	starts   int
	stops    int
}

func newBluetoothLeAdvertiser(adapter *BluetoothAdapter, config *SimulationConfig) *BluetoothLeAdvertiser {
	a := &BluetoothLeAdvertiser{
		adapter: adapter,
		config:  config,
		sets:    make(map[AdvertiseCallback]*advertisingSet),
	}
	// Static random address: two top bits set
	id := uuid.New()
	copy(a.address[:], id[:advertising.BLEAddressLen])
	a.address[0] |= 0xC0
	return a
}

func (a *BluetoothLeAdvertiser) tag() string {
	return fmt.Sprintf("%s Android", a.adapter.id[:8])
}

// SetBroadcastListener receives every emitted advertising PDU, standing in
// for the air between this phone and nearby scanners.
func (a *BluetoothLeAdvertiser) SetBroadcastListener(fn func(frame []byte)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listener = fn
}

// StartAdvertising starts advertising with the specified settings and data
// Matches: bluetoothLeAdvertiser.startAdvertising(settings, advertiseData, scanResponse, callback)
//
// Synchronous errors correspond to exceptions thrown by the Android call;
// everything else is delivered to callback.
func (a *BluetoothLeAdvertiser) StartAdvertising(
	settings *AdvertiseSettings,
	advertiseData *AdvertiseData,
	scanResponse *AdvertiseData,
	callback AdvertiseCallback,
) error {
	if callback == nil {
		return fmt.Errorf("%w: callback cannot be null", ErrIllegalArgument)
	}
	if !a.adapter.HasPermission() {
		return ErrSecurity
	}
	if settings == nil {
		settings = &AdvertiseSettings{
			AdvertiseMode: ADVERTISE_MODE_LOW_POWER,
			Connectable:   true,
			TxPowerLevel:  ADVERTISE_TX_POWER_MEDIUM,
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.starts++

	if _, exists := a.sets[callback]; exists {
		a.fail(callback, ADVERTISE_FAILED_ALREADY_STARTED)
		return nil
	}
	if len(a.sets) >= a.config.MaxAdvertisers {
		a.fail(callback, ADVERTISE_FAILED_TOO_MANY_ADVERTISERS)
		return nil
	}

	advData, err := a.buildPayload(settings, advertiseData, true)
	if err != nil {
		if errors.Is(err, advertising.ErrDataTooLarge) {
			a.fail(callback, ADVERTISE_FAILED_DATA_TOO_LARGE)
			return nil
		}
		return err
	}
	if scanResponse != nil {
		if _, err := a.buildPayload(settings, scanResponse, false); err != nil {
			if errors.Is(err, advertising.ErrDataTooLarge) {
				a.fail(callback, ADVERTISE_FAILED_DATA_TOO_LARGE)
				return nil
			}
			return err
		}
	}
	if a.config.FailureCode != 0 {
		a.fail(callback, a.config.FailureCode)
		return nil
	}

	pduType := byte(advertising.PDUTypeAdvNonconnInd)
	if settings.Connectable {
		pduType = advertising.PDUTypeAdvInd
	}
	pdu := &advertising.AdvertisingPDU{PDUType: pduType, AdvA: a.address, AdvData: advData}
	frame, err := pdu.Encode()
	if err != nil {
		a.fail(callback, ADVERTISE_FAILED_INTERNAL_ERROR)
		return nil
	}

	set := &advertisingSet{settings: settings, frame: frame, stop: make(chan struct{})}
	a.sets[callback] = set
	logger.TraceHex(a.tag(), advertising.PDUTypeName(pduType), frame)

	if a.config.Unresponsive {
		logger.Debug(a.tag(), "Advertising request accepted, callback withheld")
		return nil
	}

	go a.run(callback, set)
	return nil
}

// run delivers onStartSuccess after the configured delay, then keeps the set
// on air until it is stopped or its timeout elapses.
func (a *BluetoothLeAdvertiser) run(callback AdvertiseCallback, set *advertisingSet) {
	if a.config.StartDelay > 0 {
		select {
		case <-time.After(a.config.StartDelay):
		case <-set.stop:
			return
		}
	}

	a.mu.Lock()
	if a.sets[callback] != set {
		a.mu.Unlock()
		return
	}
	set.started = true
	a.mu.Unlock()

	logger.Info(a.tag(), "📡 Started Advertising")
	callback.OnStartSuccess(set.settings)

	var timeout <-chan time.Time
	if set.settings.Timeout > 0 {
		timeout = time.After(time.Duration(set.settings.Timeout) * time.Millisecond)
	}
	ticker := time.NewTicker(modeInterval(set.settings.AdvertiseMode))
	defer ticker.Stop()

	for {
		select {
		case <-set.stop:
			return
		case <-timeout:
			a.mu.Lock()
			if a.sets[callback] == set {
				delete(a.sets, callback)
			}
			a.mu.Unlock()
			logger.Info(a.tag(), "📡 Advertising timed out")
			return
		case <-ticker.C:
			if !a.config.EmitFrames {
				continue
			}
			a.mu.Lock()
			listener := a.listener
			a.mu.Unlock()
			if listener != nil {
				listener(set.frame)
			}
		}
	}
}

// fail must be called with mu held.
func (a *BluetoothLeAdvertiser) fail(callback AdvertiseCallback, errorCode int) {
	logger.Warn(a.tag(), "⚠️  Advertising failed with errorCode=%d", errorCode)
	delay := a.config.StartDelay
	go func() {
		// Android never calls back on the caller's stack
		time.Sleep(delay)
		callback.OnStartFailure(errorCode)
	}()
}

// StopAdvertising stops the set started with callback
// Matches: bluetoothLeAdvertiser.stopAdvertising(callback)
func (a *BluetoothLeAdvertiser) StopAdvertising(callback AdvertiseCallback) error {
	if !a.adapter.HasPermission() {
		return ErrSecurity
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.stops++

	set, ok := a.sets[callback]
	if !ok {
		return nil
	}
	delete(a.sets, callback)
	close(set.stop)

	logger.Info(a.tag(), "📡 Stopped Advertising")
	return nil
}

// IsAdvertising reports whether any set is on air.
func (a *BluetoothLeAdvertiser) IsAdvertising() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, set := range a.sets {
		if set.started {
			return true
		}
	}
	return false
}

// Calls returns how many start and stop requests reached the advertiser.
func (a *BluetoothLeAdvertiser) Calls() (starts, stops int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.starts, a.stops
}

// buildPayload lays out AD structures the way the Android stack does:
// flags first for connectable advertising, then service UUIDs, name, tx
// power and manufacturer data.
func (a *BluetoothLeAdvertiser) buildPayload(settings *AdvertiseSettings, data *AdvertiseData, primary bool) ([]byte, error) {
	var p advertising.Payload
	if primary && settings.Connectable {
		p = append(p, advertising.NewFlagsAD(advertising.FlagLEGeneralDiscoverableMode|advertising.FlagBREDRNotSupported))
	}
	if data == nil {
		return p.Bytes()
	}

	if len(data.ServiceUUIDs) > 0 {
		uuids := make([][16]byte, 0, len(data.ServiceUUIDs))
		for _, s := range data.ServiceUUIDs {
			u, err := uuid.Parse(s)
			if err != nil {
				return nil, fmt.Errorf("%w: service uuid %q: %v", ErrIllegalArgument, s, err)
			}
			uuids = append(uuids, u)
		}
		p = append(p, advertising.NewComplete128BitServiceUUIDsAD(uuids))
	}
	if data.IncludeDeviceName {
		p = append(p, advertising.NewCompleteLocalNameAD(a.adapter.GetName()))
	}
	if data.IncludeTxPowerLevel {
		p = append(p, advertising.NewTxPowerLevelAD(beaconTxPower(settings.TxPowerLevel).DBm()))
	}

	companyIDs := make([]int, 0, len(data.ManufacturerData))
	for id := range data.ManufacturerData {
		companyIDs = append(companyIDs, id)
	}
	sort.Ints(companyIDs)
	for _, id := range companyIDs {
		if id < 0 || id > 0xFFFF {
			return nil, fmt.Errorf("%w: manufacturer id %d", ErrIllegalArgument, id)
		}
		p = append(p, advertising.NewManufacturerSpecificDataAD(uint16(id), data.ManufacturerData[id]))
	}
	return p.Bytes()
}

func modeInterval(mode int) time.Duration {
	switch mode {
	case ADVERTISE_MODE_LOW_LATENCY:
		return 100 * time.Millisecond
	case ADVERTISE_MODE_BALANCED:
		return 250 * time.Millisecond
	default:
		return 1000 * time.Millisecond
	}
}

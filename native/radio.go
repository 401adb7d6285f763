// Package native drives the host Bluetooth controller through
// tinygo.org/x/bluetooth: BlueZ over D-Bus on Linux, WinRT on Windows and
// CoreBluetooth on macOS, where only scanning is available.
package native

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/user/pal-beacon/beacon"
	"github.com/user/pal-beacon/logger"
	"github.com/user/pal-beacon/proximity"
	"tinygo.org/x/bluetooth"
)

const tag = "Native"

// Radio wraps one adapter. It is both a beacon.Platform and a
// proximity.Source.
type Radio struct {
	adapter *bluetooth.Adapter

	enableOnce sync.Once
	enableErr  error

	// advertisement defaults to the adapter's default advertisement.
	advertisement func() advertisement

	mu         sync.Mutex
	current    beacon.AdvertiseCallback
	configured *beacon.AdvertiseData
}

// advertisement is the part of *bluetooth.Advertisement the radio drives.
type advertisement interface {
	Configure(bluetooth.AdvertisementOptions) error
	Start() error
	Stop() error
}

// errReconfigure reports a second identifier in one process. The host stack
// cannot replace a configured advertisement.
var errReconfigure = errors.New("native: configured advertisement cannot be replaced (not supported)")

// NewRadio uses adapter, or bluetooth.DefaultAdapter when nil.
func NewRadio(adapter *bluetooth.Adapter) *Radio {
	if adapter == nil {
		adapter = bluetooth.DefaultAdapter
	}
	r := &Radio{adapter: adapter}
	r.advertisement = defaultAdvertisement(adapter)
	return r
}

func (r *Radio) enable() error {
	r.enableOnce.Do(func() {
		r.enableErr = r.adapter.Enable()
	})
	return r.enableErr
}

// Advertiser enables the adapter on first use. An adapter that cannot be
// enabled is reported as unsupported unless the OS refused access.
func (r *Radio) Advertiser() (beacon.Advertiser, error) {
	if err := r.enable(); err != nil {
		if isPermissionError(err) {
			return nil, fmt.Errorf("%w: %w", beacon.ErrPermissionDenied, err)
		}
		return nil, fmt.Errorf("%w: %w", beacon.ErrUnsupported, err)
	}
	return r, nil
}

// advertisementOptions builds the non-connectable manufacturer data
// advertisement. BlueZ exports it as a broadcast advertisement.
func advertisementOptions(settings beacon.Settings, data beacon.AdvertiseData) bluetooth.AdvertisementOptions {
	return bluetooth.AdvertisementOptions{
		Interval: bluetooth.NewDuration(settings.Mode.Interval()),
		ManufacturerData: []bluetooth.ManufacturerDataElement{
			{CompanyID: data.CompanyID, Data: data.Payload},
		},
	}
}

// configure sets up the default advertisement. The host stack allows a
// single configuration per process, so a repeat of the same data is skipped
// and different data is refused.
func (r *Radio) configure(adv advertisement, settings beacon.Settings, data beacon.AdvertiseData) (err error) {
	if r.configured != nil {
		if r.configured.CompanyID == data.CompanyID && bytes.Equal(r.configured.Payload, data.Payload) {
			return nil
		}
		return errReconfigure
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", errReconfigure, p)
		}
	}()
	if err := adv.Configure(advertisementOptions(settings, data)); err != nil {
		return err
	}
	r.configured = &beacon.AdvertiseData{
		CompanyID: data.CompanyID,
		Payload:   bytes.Clone(data.Payload),
	}
	return nil
}

// StartAdvertising configures the default advertisement and starts it. The
// host stack answers synchronously, so the verdict is handed to cb from a
// new goroutine to keep the asynchronous contract. Only non-connectable
// advertising is available.
func (r *Radio) StartAdvertising(settings beacon.Settings, data beacon.AdvertiseData, cb beacon.AdvertiseCallback) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		go cb.OnStartFailure(beacon.ReasonAlreadyActive)
		return nil
	}
	if settings.Connectable {
		logger.Warn(tag, "⚠️  Connectable advertising is not available on this host")
		go cb.OnStartFailure(beacon.ReasonFeatureUnsupported)
		return nil
	}

	adv := r.advertisement()
	err := r.configure(adv, settings, data)
	if err == nil {
		err = adv.Start()
	}
	if err != nil {
		if isPermissionError(err) {
			return fmt.Errorf("%w: %w", beacon.ErrPermissionDenied, err)
		}
		reason := classify(err)
		logger.Warn(tag, "⚠️  Advertising failed: %v (%s)", err, reason)
		go cb.OnStartFailure(reason)
		return nil
	}

	r.current = cb
	logger.Info(tag, "📡 Advertising company 0x%04X, %d bytes", data.CompanyID, len(data.Payload))
	go cb.OnStartSuccess(settings)
	return nil
}

// StopAdvertising stops the advertisement started with cb. Other callbacks
// are ignored.
func (r *Radio) StopAdvertising(cb beacon.AdvertiseCallback) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil || r.current != cb {
		return nil
	}
	if err := r.advertisement().Stop(); err != nil {
		if isPermissionError(err) {
			return fmt.Errorf("%w: %w", beacon.ErrPermissionDenied, err)
		}
		return fmt.Errorf("native: stop advertisement: %w", err)
	}
	r.current = nil
	logger.Info(tag, "📡 Advertising stopped")
	return nil
}

// Scan reports every advertisement heard until ctx is done.
func (r *Radio) Scan(ctx context.Context, fn func(proximity.Sighting)) error {
	if err := r.enable(); err != nil {
		return fmt.Errorf("native: enable adapter: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- r.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			fn(toSighting(result))
		})
	}()

	select {
	case <-ctx.Done():
		if err := r.adapter.StopScan(); err != nil {
			logger.Warn(tag, "⚠️  StopScan: %v", err)
		}
		<-done
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func toSighting(result bluetooth.ScanResult) proximity.Sighting {
	s := proximity.Sighting{
		Address:          result.Address.String(),
		RSSI:             int(result.RSSI),
		LocalName:        result.LocalName(),
		ManufacturerData: make(map[uint16][]byte),
		At:               time.Now(),
	}
	for _, md := range result.ManufacturerData() {
		s.ManufacturerData[md.CompanyID] = md.Data
	}
	return s
}

func isPermissionError(err error) bool {
	if errors.Is(err, os.ErrPermission) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "NotPermitted") ||
		strings.Contains(msg, "AccessDenied") ||
		strings.Contains(msg, "NotAuthorized") ||
		strings.Contains(msg, "unauthorized")
}

// classify maps BlueZ/CoreBluetooth error text onto the beacon taxonomy.
func classify(err error) beacon.Reason {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "InvalidLength"), strings.Contains(msg, "too large"), strings.Contains(msg, "too long"):
		return beacon.ReasonPayloadTooLarge
	case strings.Contains(msg, "MaxAdvertisements"), strings.Contains(msg, "No more advertising"):
		return beacon.ReasonTooManyConcurrentAdvertisers
	case strings.Contains(msg, "AlreadyExists"), strings.Contains(msg, "already"):
		return beacon.ReasonAlreadyActive
	case strings.Contains(msg, "NotSupported"), strings.Contains(msg, "not supported"):
		return beacon.ReasonFeatureUnsupported
	case strings.Contains(msg, "Failed"), strings.Contains(msg, "InProgress"):
		return beacon.ReasonInternalPlatformError
	}
	return beacon.ReasonUnknown
}

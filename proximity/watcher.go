package proximity

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/user/pal-beacon/logger"
	"github.com/user/pal-beacon/wire/advertising"
)

const tag = "Proximity"

// Sighting is one received advertisement.
type Sighting struct {
	Address   string
	RSSI      int
	LocalName string
	// Manufacturer data keyed by company id, payload without the id.
	ManufacturerData map[uint16][]byte
	At               time.Time
}

// SightingFromPDU decodes a legacy advertising PDU heard at rssi.
func SightingFromPDU(frame []byte, rssi int) (Sighting, error) {
	pdu, err := advertising.DecodeAdvertisingPDU(frame)
	if err != nil {
		return Sighting{}, err
	}
	payload, err := advertising.ParsePayload(pdu.AdvData)
	if err != nil {
		return Sighting{}, err
	}

	s := Sighting{
		Address:          formatAddress(pdu.AdvA),
		RSSI:             rssi,
		LocalName:        payload.LocalName(),
		ManufacturerData: make(map[uint16][]byte),
		At:               time.Now(),
	}
	if flags, ok := payload.Flags(); ok {
		logger.Trace(tag, "%s from %s, flags 0x%02X", advertising.PDUTypeName(pdu.PDUType), s.Address, flags)
	}
	for _, ad := range payload {
		logger.Trace(tag, "  AD %s (%d bytes)", advertising.ADTypeName(ad.Type), len(ad.Data))
		if ad.Type != advertising.ADTypeManufacturerSpecificData || len(ad.Data) < advertising.CompanyIDLen {
			continue
		}
		companyID := uint16(ad.Data[0]) | uint16(ad.Data[1])<<8
		s.ManufacturerData[companyID] = ad.Data[advertising.CompanyIDLen:]
	}
	return s, nil
}

func formatAddress(a [advertising.BLEAddressLen]byte) string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[0], a[1], a[2], a[3], a[4], a[5])
}

// Source produces sightings until ctx is done.
type Source interface {
	Scan(ctx context.Context, fn func(Sighting)) error
}

// Config for a Watcher.
type Config struct {
	CompanyID uint16
	// Threshold is the weakest RSSI, in dBm, counted as close. -58 dBm is
	// roughly half a metre.
	Threshold int
	// ConsecutiveHits strong sightings in a row confirm a SID.
	ConsecutiveHits int
}

func DefaultConfig() Config {
	return Config{
		CompanyID:       0x1234,
		Threshold:       -58,
		ConsecutiveHits: 3,
	}
}

// Watcher confirms a SID once it has been heard strongly enough, often
// enough, without a weak sighting in between. Each SID is confirmed once.
type Watcher struct {
	config Config
	onSID  func(sid string)

	mu        sync.Mutex
	good      map[string]int
	confirmed map[string]bool
}

// NewWatcher calls onSID for every newly confirmed SID. onSID may be nil.
func NewWatcher(config Config, onSID func(sid string)) *Watcher {
	if config.ConsecutiveHits < 1 {
		config.ConsecutiveHits = 1
	}
	return &Watcher{
		config:    config,
		onSID:     onSID,
		good:      make(map[string]int),
		confirmed: make(map[string]bool),
	}
}

// Observe feeds one sighting and reports whether it confirmed a SID.
func (w *Watcher) Observe(s Sighting) (string, bool) {
	raw, ok := s.ManufacturerData[w.config.CompanyID]
	if !ok || len(raw) == 0 {
		return "", false
	}
	sid := strings.TrimSpace(asciiOnly(raw))
	if sid == "" {
		return "", false
	}
	logger.Trace(tag, "adv addr=%s RSSI=%d sid=%s", s.Address, s.RSSI, sid)

	w.mu.Lock()
	if s.RSSI < w.config.Threshold {
		if w.good[sid] > 0 {
			logger.Debug(tag, "❌ Weak signal (%d dBm) for SID=%s, counter reset", s.RSSI, sid)
		}
		delete(w.good, sid)
		w.mu.Unlock()
		return sid, false
	}

	w.good[sid]++
	hits := w.good[sid]
	logger.Debug(tag, "✅ Strong signal %d dBm for SID=%s (%d/%d)", s.RSSI, sid, hits, w.config.ConsecutiveHits)
	if hits < w.config.ConsecutiveHits || w.confirmed[sid] {
		w.mu.Unlock()
		return sid, false
	}
	w.confirmed[sid] = true
	w.good[sid] = 0
	w.mu.Unlock()

	logger.Info(tag, "📶 Confirmed nearby SID=%s", sid)
	if w.onSID != nil {
		w.onSID(sid)
	}
	return sid, true
}

// Run observes everything src reports until ctx is done.
func (w *Watcher) Run(ctx context.Context, src Source) error {
	logger.Info(tag, "🔍 Scanner started, threshold=%d dBm", w.config.Threshold)
	defer logger.Info(tag, "🛑 Scanner stopped")

	err := src.Scan(ctx, func(s Sighting) { w.Observe(s) })
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("proximity: scan: %w", err)
	}
	return nil
}

// asciiOnly drops bytes outside 7-bit ASCII, the way a lenient decoder
// would.
func asciiOnly(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		if c < 0x80 {
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

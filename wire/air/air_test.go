package air

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/pal-beacon/proximity"
	"github.com/user/pal-beacon/wire/advertising"
)

func TestGenerateRSSI(t *testing.T) {
	sim := NewSimulator(PerfectConfig())

	assert.Equal(t, -50, sim.GenerateRSSI(1))
	assert.Equal(t, -70, sim.GenerateRSSI(10))
	assert.Equal(t, -30, sim.GenerateRSSI(0), "distance floors at 10cm")
	assert.Equal(t, -100, sim.GenerateRSSI(100000), "clamped to -100 dBm")
}

func TestGenerateRSSIVariance(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Deterministic = true
	cfg.Seed = 7
	sim := NewSimulator(cfg)

	for i := 0; i < 200; i++ {
		rssi := sim.GenerateRSSI(1)
		assert.GreaterOrEqual(t, rssi, -56)
		assert.LessOrEqual(t, rssi, -44)
	}
}

func TestPacketLoss(t *testing.T) {
	cfg := PerfectConfig()
	cfg.PacketLossRate = 1
	assert.False(t, NewSimulator(cfg).ShouldPacketSucceed())
	assert.True(t, NewSimulator(PerfectConfig()).ShouldPacketSucceed())
}

func testFrame(t *testing.T, sid string) []byte {
	t.Helper()
	advData, err := advertising.Payload{advertising.NewManufacturerSpecificDataAD(0x1234, []byte(sid))}.Bytes()
	require.NoError(t, err)
	frame, err := (&advertising.AdvertisingPDU{
		PDUType: advertising.PDUTypeAdvNonconnInd,
		AdvA:    [6]byte{0xC0, 1, 2, 3, 4, 5},
		AdvData: advData,
	}).Encode()
	require.NoError(t, err)
	return frame
}

func TestChannelDeliversToScanners(t *testing.T) {
	ch := NewChannel(PerfectConfig())
	assert.Equal(t, 1.0, ch.Distance(), "sender starts one metre away")
	ch.SetDistance(10)
	assert.Equal(t, 10.0, ch.Distance())

	ctx, cancel := context.WithCancel(context.Background())
	heard := make(chan proximity.Sighting, 1)
	done := make(chan error, 1)
	go func() { done <- ch.Scan(ctx, func(s proximity.Sighting) { heard <- s }) }()

	require.Eventually(t, func() bool {
		ch.mu.Lock()
		defer ch.mu.Unlock()
		return len(ch.scanners) == 1
	}, time.Second, 5*time.Millisecond)

	ch.Transmit(testFrame(t, "ABCDEF123456"))
	select {
	case s := <-heard:
		assert.Equal(t, -70, s.RSSI)
		assert.Equal(t, []byte("ABCDEF123456"), s.ManufacturerData[0x1234])
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for sighting")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	ch.Transmit(testFrame(t, "ABCDEF123456"))
	assert.Empty(t, heard, "unregistered after cancel")
}

func TestChannelWithWatcher(t *testing.T) {
	ch := NewChannel(PerfectConfig())
	confirmed := make(chan string, 1)
	w := proximity.NewWatcher(proximity.DefaultConfig(), func(sid string) { confirmed <- sid })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx, ch)
	require.Eventually(t, func() bool {
		ch.mu.Lock()
		defer ch.mu.Unlock()
		return len(ch.scanners) == 1
	}, time.Second, 5*time.Millisecond)

	frame := testFrame(t, "abc123")
	ch.SetDistance(5) // -64 dBm, too far
	for i := 0; i < 5; i++ {
		ch.Transmit(frame)
	}
	assert.Empty(t, confirmed)

	ch.SetDistance(0.5) // -44 dBm
	for i := 0; i < 3; i++ {
		ch.Transmit(frame)
	}
	select {
	case sid := <-confirmed:
		assert.Equal(t, "abc123", sid)
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for confirmation")
	}
}

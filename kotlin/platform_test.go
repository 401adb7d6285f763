package kotlin

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/pal-beacon/beacon"
)

func waitFor(t *testing.T, s *beacon.Session) (beacon.State, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return s.Wait(ctx)
}

func TestPlatform_SessionLifecycle(t *testing.T) {
	adapter := NewBluetoothAdapter("Pixel 8 Pro", DefaultSimulationConfig())
	session := beacon.NewSession(NewPlatform(adapter), beacon.Config{})
	defer session.Close()

	require.NoError(t, session.Start("ABCDEF123456"))
	assert.Equal(t, beacon.StateStarting, session.State())

	state, err := waitFor(t, session)
	require.NoError(t, err)
	assert.Equal(t, beacon.StateActive, state)
	assert.True(t, adapter.GetBluetoothLeAdvertiser().IsAdvertising())

	require.NoError(t, session.Stop())
	assert.Equal(t, beacon.StateStopped, session.State())
	assert.False(t, adapter.GetBluetoothLeAdvertiser().IsAdvertising())

	_, stops := adapter.GetBluetoothLeAdvertiser().Calls()
	require.NoError(t, session.Stop())
	_, again := adapter.GetBluetoothLeAdvertiser().Calls()
	assert.Equal(t, stops, again, "second stop is a no-op")
}

func TestPlatform_FailureCodesMapToReasons(t *testing.T) {
	cases := map[int]beacon.Reason{
		ADVERTISE_FAILED_DATA_TOO_LARGE:       beacon.ReasonPayloadTooLarge,
		ADVERTISE_FAILED_TOO_MANY_ADVERTISERS: beacon.ReasonTooManyConcurrentAdvertisers,
		ADVERTISE_FAILED_ALREADY_STARTED:      beacon.ReasonAlreadyActive,
		ADVERTISE_FAILED_INTERNAL_ERROR:       beacon.ReasonInternalPlatformError,
		ADVERTISE_FAILED_FEATURE_UNSUPPORTED:  beacon.ReasonFeatureUnsupported,
		42:                                    beacon.ReasonUnknown,
	}

	for code, want := range cases {
		config := PerfectSimulationConfig()
		config.FailureCode = code
		session := beacon.NewSession(NewPlatform(NewBluetoothAdapter("Pixel 8 Pro", config)), beacon.Config{})

		require.NoError(t, session.Start("ABCDEF123456"))
		state, err := waitFor(t, session)
		assert.Equal(t, beacon.StateFailed, state, "code %d", code)

		var startErr *beacon.StartError
		require.True(t, errors.As(err, &startErr), "code %d", code)
		assert.Equal(t, want, startErr.Reason, "code %d", code)
		session.Close()
	}
}

func TestPlatform_Unsupported(t *testing.T) {
	config := PerfectSimulationConfig()
	config.AdvertisingSupported = false
	session := beacon.NewSession(NewPlatform(NewBluetoothAdapter("Moto G", config)), beacon.Config{})
	defer session.Close()

	assert.ErrorIs(t, session.Start("sid"), beacon.ErrUnsupported)
	assert.Equal(t, beacon.StateIdle, session.State())
}

func TestPlatform_PermissionDenied(t *testing.T) {
	adapter := NewBluetoothAdapter("Pixel 8 Pro", PerfectSimulationConfig())
	adapter.SetPermissionGranted(false)
	session := beacon.NewSession(NewPlatform(adapter), beacon.Config{})
	defer session.Close()

	err := session.Start("sid")
	require.Error(t, err)
	assert.ErrorIs(t, err, beacon.ErrPermissionDenied)
	assert.ErrorIs(t, err, ErrSecurity)

	adapter.SetPermissionGranted(true)
	require.NoError(t, session.Start("sid"))
	state, err := waitFor(t, session)
	require.NoError(t, err)
	assert.Equal(t, beacon.StateActive, state)
}

func TestPlatform_EncodingErrorNeverReachesAdvertiser(t *testing.T) {
	adapter := NewBluetoothAdapter("Pixel 8 Pro", PerfectSimulationConfig())
	session := beacon.NewSession(NewPlatform(adapter), beacon.Config{})
	defer session.Close()

	assert.ErrorIs(t, session.Start(strings.Repeat("Z", 40)), beacon.ErrEncoding)
	starts, _ := adapter.GetBluetoothLeAdvertiser().Calls()
	assert.Equal(t, 0, starts)
}

func TestPlatform_UnresponsiveStackTimesOut(t *testing.T) {
	config := PerfectSimulationConfig()
	config.Unresponsive = true
	adapter := NewBluetoothAdapter("Pixel 8 Pro", config)
	session := beacon.NewSession(NewPlatform(adapter), beacon.Config{StartTimeout: 30 * time.Millisecond})
	defer session.Close()

	require.NoError(t, session.Start("sid"))
	state, err := waitFor(t, session)
	assert.Equal(t, beacon.StateFailed, state)

	var startErr *beacon.StartError
	require.True(t, errors.As(err, &startErr))
	assert.Equal(t, beacon.ReasonTimeout, startErr.Reason)

	// The withheld set is cancelled so it can never go on air later
	assert.Eventually(t, func() bool {
		_, stops := adapter.GetBluetoothLeAdvertiser().Calls()
		return stops == 1
	}, time.Second, 5*time.Millisecond)
}

func TestPlatform_RestartAfterStop(t *testing.T) {
	adapter := NewBluetoothAdapter("Pixel 8 Pro", PerfectSimulationConfig())
	session := beacon.NewSession(NewPlatform(adapter), beacon.Config{})
	defer session.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, session.Start("ABCDEF123456"))
		state, err := waitFor(t, session)
		require.NoError(t, err)
		require.Equal(t, beacon.StateActive, state)
		require.NoError(t, session.Stop())
	}
	assert.False(t, adapter.GetBluetoothLeAdvertiser().IsAdvertising())
}

package kotlin

// testAdvertiseCallback is a test implementation of AdvertiseCallback
// Shared across all test files
type testAdvertiseCallback struct {
	onStartSuccess func(settings *AdvertiseSettings)
	onStartFailure func(errorCode int)
}

func (c *testAdvertiseCallback) OnStartSuccess(settings *AdvertiseSettings) {
	if c.onStartSuccess != nil {
		c.onStartSuccess(settings)
	}
}

func (c *testAdvertiseCallback) OnStartFailure(errorCode int) {
	if c.onStartFailure != nil {
		c.onStartFailure(errorCode)
	}
}

// newChannelCallback reports the outcome of a start on one of two channels.
func newChannelCallback() (*testAdvertiseCallback, chan *AdvertiseSettings, chan int) {
	success := make(chan *AdvertiseSettings, 1)
	failure := make(chan int, 1)
	cb := &testAdvertiseCallback{
		onStartSuccess: func(settings *AdvertiseSettings) { success <- settings },
		onStartFailure: func(errorCode int) { failure <- errorCode },
	}
	return cb, success, failure
}

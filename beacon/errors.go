package beacon

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupported means the device exposes no LE advertiser.
	ErrUnsupported = errors.New("beacon: LE advertising not supported on this device")
	// ErrPermissionDenied means the OS refused Bluetooth access. The user can
	// fix it by granting the permission and starting again.
	ErrPermissionDenied = errors.New("beacon: bluetooth permission denied")
	// ErrAlreadyActive is returned by Start while an attempt is Starting or Active.
	ErrAlreadyActive = errors.New("beacon: advertising already active")
	// ErrEncoding matches every *EncodingError.
	ErrEncoding = errors.New("beacon: identifier cannot be encoded")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("beacon: session closed")
)

// EncodingError reports an identifier that cannot go on air.
type EncodingError struct {
	Identifier string
	Reason     string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("beacon: cannot encode identifier %q: %s", e.Identifier, e.Reason)
}

func (e *EncodingError) Is(target error) bool {
	return target == ErrEncoding
}

// Reason classifies why the platform rejected or never confirmed a start.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonPayloadTooLarge
	ReasonTooManyConcurrentAdvertisers
	ReasonAlreadyActive
	ReasonInternalPlatformError
	ReasonFeatureUnsupported
	ReasonUnknown
	ReasonTimeout
	ReasonPermissionDenied
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "None"
	case ReasonPayloadTooLarge:
		return "PayloadTooLarge"
	case ReasonTooManyConcurrentAdvertisers:
		return "TooManyConcurrentAdvertisers"
	case ReasonAlreadyActive:
		return "AlreadyActive"
	case ReasonInternalPlatformError:
		return "InternalPlatformError"
	case ReasonFeatureUnsupported:
		return "FeatureUnsupported"
	case ReasonTimeout:
		return "Timeout"
	case ReasonPermissionDenied:
		return "PermissionDenied"
	default:
		return "Unknown"
	}
}

// StartError is the asynchronous failure of a start attempt.
type StartError struct {
	Identifier string
	Reason     Reason
}

func (e *StartError) Error() string {
	return fmt.Sprintf("beacon: advertising %q failed: %s", e.Identifier, e.Reason)
}

// localReason classifies an error the platform returned synchronously from
// StartAdvertising.
func localReason(err error) Reason {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return ReasonPermissionDenied
	case errors.Is(err, ErrUnsupported):
		return ReasonFeatureUnsupported
	}
	return ReasonInternalPlatformError
}

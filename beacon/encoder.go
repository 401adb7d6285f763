package beacon

import (
	"fmt"

	"github.com/user/pal-beacon/wire/advertising"
)

// DefaultCompanyID tags the manufacturer-specific field scanners look for.
const DefaultCompanyID uint16 = 0x1234

// MaxIdentifierLen is the longest identifier that fits one legacy packet
// next to the manufacturer AD header and company id.
const MaxIdentifierLen = advertising.MaxAdvertisingDataLen - advertising.ManufacturerDataOverhead

// Encoder turns a session identifier into manufacturer data.
type Encoder struct {
	CompanyID uint16
}

// NewEncoder returns an encoder for companyID.
func NewEncoder(companyID uint16) Encoder {
	return Encoder{CompanyID: companyID}
}

// Encode returns the identifier as US-ASCII, one byte per character.
func (e Encoder) Encode(identifier string) ([]byte, error) {
	payload := make([]byte, 0, len(identifier))
	for i, r := range identifier {
		if r > 0x7F {
			return nil, &EncodingError{
				Identifier: identifier,
				Reason:     fmt.Sprintf("non-ASCII character %q at offset %d", r, i),
			}
		}
		payload = append(payload, byte(r))
	}
	if len(payload) > MaxIdentifierLen {
		return nil, &EncodingError{
			Identifier: identifier,
			Reason: fmt.Sprintf("%d bytes leaves no room in a %d byte packet (max %d)",
				len(payload), advertising.MaxAdvertisingDataLen, MaxIdentifierLen),
		}
	}
	return payload, nil
}

// AdvertiseData wraps the encoded identifier for the platform.
func (e Encoder) AdvertiseData(identifier string) (AdvertiseData, error) {
	payload, err := e.Encode(identifier)
	if err != nil {
		return AdvertiseData{}, err
	}
	return AdvertiseData{CompanyID: e.CompanyID, Payload: payload}, nil
}

// AdvertisingData returns the full on-air AdvData: a single manufacturer
// specific AD structure, no flags, no service UUID, no name.
func (e Encoder) AdvertisingData(identifier string) ([]byte, error) {
	payload, err := e.Encode(identifier)
	if err != nil {
		return nil, err
	}
	return advertising.Payload{advertising.NewManufacturerSpecificDataAD(e.CompanyID, payload)}.Bytes()
}

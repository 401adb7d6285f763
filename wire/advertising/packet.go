package advertising

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// PDU types for legacy advertising channel packets
const (
	PDUTypeAdvInd        = 0x00 // Connectable undirected
	PDUTypeAdvDirectInd  = 0x01 // Connectable directed
	PDUTypeAdvNonconnInd = 0x02 // Non-connectable undirected (broadcast only)
	PDUTypeScanRsp       = 0x04 // Scan response
	PDUTypeAdvScanInd    = 0x06 // Scannable undirected
)

// AD types used by this module
const (
	ADTypeFlags                      = 0x01
	ADTypeComplete16BitServiceUUIDs  = 0x03
	ADTypeComplete128BitServiceUUIDs = 0x07
	ADTypeShortenedLocalName         = 0x08
	ADTypeCompleteLocalName          = 0x09
	ADTypeTxPowerLevel               = 0x0A
	ADTypeManufacturerSpecificData   = 0xFF
)

// Flags AD bits
const (
	FlagLEGeneralDiscoverableMode = 0x02
	FlagBREDRNotSupported         = 0x04
)

const (
	// MaxAdvertisingDataLen is the legacy (BLE 4.x) AdvData ceiling.
	MaxAdvertisingDataLen = 31
	BLEAddressLen         = 6

	// ADHeaderLen is the length byte plus the type byte of every AD structure.
	ADHeaderLen = 2
	// CompanyIDLen is the size of the little-endian company identifier that
	// opens a manufacturer-specific AD structure.
	CompanyIDLen = 2
	// ManufacturerDataOverhead is what a manufacturer AD structure costs on
	// top of its payload.
	ManufacturerDataOverhead = ADHeaderLen + CompanyIDLen
)

// ErrDataTooLarge is returned when encoded advertising data would not fit a
// legacy advertising packet.
var ErrDataTooLarge = errors.New("advertising data exceeds legacy packet size")

// ADStructure is one length-prefixed element of advertising data.
// On air: [Length][Type][Data...], where Length counts Type plus Data.
type ADStructure struct {
	Type byte
	Data []byte
}

// Size is the number of bytes the structure occupies on air.
func (s ADStructure) Size() int {
	return ADHeaderLen + len(s.Data)
}

// Payload is an ordered list of AD structures forming AdvData.
type Payload []ADStructure

// Size returns the encoded length of all structures.
func (p Payload) Size() int {
	n := 0
	for _, s := range p {
		n += s.Size()
	}
	return n
}

// Bytes encodes the payload, rejecting anything over MaxAdvertisingDataLen.
func (p Payload) Bytes() ([]byte, error) {
	if size := p.Size(); size > MaxAdvertisingDataLen {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrDataTooLarge, size, MaxAdvertisingDataLen)
	}

	buf := make([]byte, 0, p.Size())
	for _, s := range p {
		if len(s.Data)+1 > 0xFF {
			return nil, fmt.Errorf("AD structure 0x%02X too long: %d bytes", s.Type, len(s.Data)+1)
		}
		buf = append(buf, byte(len(s.Data)+1), s.Type)
		buf = append(buf, s.Data...)
	}
	return buf, nil
}

// ManufacturerData returns the data that follows companyID in the first
// manufacturer-specific structure tagged with it.
func (p Payload) ManufacturerData(companyID uint16) ([]byte, bool) {
	for _, s := range p {
		if s.Type != ADTypeManufacturerSpecificData || len(s.Data) < CompanyIDLen {
			continue
		}
		if binary.LittleEndian.Uint16(s.Data[:CompanyIDLen]) == companyID {
			return s.Data[CompanyIDLen:], true
		}
	}
	return nil, false
}

// Flags returns the value of the Flags structure, if present.
func (p Payload) Flags() (byte, bool) {
	for _, s := range p {
		if s.Type == ADTypeFlags && len(s.Data) > 0 {
			return s.Data[0], true
		}
	}
	return 0, false
}

// LocalName returns the complete or shortened local name, if present.
func (p Payload) LocalName() string {
	for _, s := range p {
		if s.Type == ADTypeCompleteLocalName || s.Type == ADTypeShortenedLocalName {
			return string(s.Data)
		}
	}
	return ""
}

// ParsePayload splits AdvData into its AD structures. A zero length byte
// marks the start of padding and ends parsing.
func ParsePayload(data []byte) (Payload, error) {
	var p Payload
	for offset := 0; offset < len(data); {
		length := int(data[offset])
		if length == 0 {
			break
		}
		offset++
		if offset+length > len(data) {
			return nil, fmt.Errorf("AD structure at %d overruns data: length=%d, remaining=%d", offset-1, length, len(data)-offset)
		}
		s := ADStructure{Type: data[offset]}
		s.Data = append([]byte(nil), data[offset+1:offset+length]...)
		p = append(p, s)
		offset += length
	}
	return p, nil
}

// NewManufacturerSpecificDataAD tags data with a company identifier.
func NewManufacturerSpecificDataAD(companyID uint16, data []byte) ADStructure {
	buf := make([]byte, CompanyIDLen+len(data))
	binary.LittleEndian.PutUint16(buf, companyID)
	copy(buf[CompanyIDLen:], data)
	return ADStructure{Type: ADTypeManufacturerSpecificData, Data: buf}
}

func NewFlagsAD(flags byte) ADStructure {
	return ADStructure{Type: ADTypeFlags, Data: []byte{flags}}
}

func NewCompleteLocalNameAD(name string) ADStructure {
	return ADStructure{Type: ADTypeCompleteLocalName, Data: []byte(name)}
}

func NewTxPowerLevelAD(dBm int8) ADStructure {
	return ADStructure{Type: ADTypeTxPowerLevel, Data: []byte{byte(dBm)}}
}

// NewComplete128BitServiceUUIDsAD writes each UUID in little-endian byte
// order, as it appears on air.
func NewComplete128BitServiceUUIDsAD(uuids [][16]byte) ADStructure {
	data := make([]byte, 0, len(uuids)*16)
	for _, u := range uuids {
		for i := 15; i >= 0; i-- {
			data = append(data, u[i])
		}
	}
	return ADStructure{Type: ADTypeComplete128BitServiceUUIDs, Data: data}
}

// AdvertisingPDU is a link-layer advertising channel packet.
// Format: [PDU Type][Length][AdvA: 6][AdvData: 0-31]
type AdvertisingPDU struct {
	PDUType byte
	AdvA    [BLEAddressLen]byte
	AdvData []byte
}

// Encode serializes the PDU.
func (pdu *AdvertisingPDU) Encode() ([]byte, error) {
	if len(pdu.AdvData) > MaxAdvertisingDataLen {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrDataTooLarge, len(pdu.AdvData), MaxAdvertisingDataLen)
	}
	buf := make([]byte, 2+BLEAddressLen+len(pdu.AdvData))
	buf[0] = pdu.PDUType
	buf[1] = byte(BLEAddressLen + len(pdu.AdvData))
	copy(buf[2:2+BLEAddressLen], pdu.AdvA[:])
	copy(buf[2+BLEAddressLen:], pdu.AdvData)
	return buf, nil
}

// DecodeAdvertisingPDU parses a frame produced by Encode.
func DecodeAdvertisingPDU(frame []byte) (*AdvertisingPDU, error) {
	if len(frame) < 2+BLEAddressLen {
		return nil, fmt.Errorf("advertising PDU too short: %d bytes", len(frame))
	}
	payloadLen := int(frame[1])
	if payloadLen < BLEAddressLen {
		return nil, fmt.Errorf("advertising PDU length %d smaller than address", payloadLen)
	}
	if len(frame) < 2+payloadLen {
		return nil, fmt.Errorf("advertising PDU truncated: want %d bytes, got %d", 2+payloadLen, len(frame))
	}
	advDataLen := payloadLen - BLEAddressLen
	if advDataLen > MaxAdvertisingDataLen {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrDataTooLarge, advDataLen, MaxAdvertisingDataLen)
	}

	pdu := &AdvertisingPDU{PDUType: frame[0]}
	copy(pdu.AdvA[:], frame[2:2+BLEAddressLen])
	if advDataLen > 0 {
		pdu.AdvData = append([]byte(nil), frame[2+BLEAddressLen:2+payloadLen]...)
	}
	return pdu, nil
}

// PDUTypeName returns the Core spec name of a PDU type.
func PDUTypeName(pduType byte) string {
	switch pduType {
	case PDUTypeAdvInd:
		return "ADV_IND"
	case PDUTypeAdvDirectInd:
		return "ADV_DIRECT_IND"
	case PDUTypeAdvNonconnInd:
		return "ADV_NONCONN_IND"
	case PDUTypeScanRsp:
		return "SCAN_RSP"
	case PDUTypeAdvScanInd:
		return "ADV_SCAN_IND"
	default:
		return fmt.Sprintf("Unknown(0x%02X)", pduType)
	}
}

// ADTypeName returns a readable name for an AD type.
func ADTypeName(adType byte) string {
	switch adType {
	case ADTypeFlags:
		return "Flags"
	case ADTypeComplete16BitServiceUUIDs:
		return "Complete 16-bit Service UUIDs"
	case ADTypeComplete128BitServiceUUIDs:
		return "Complete 128-bit Service UUIDs"
	case ADTypeShortenedLocalName:
		return "Shortened Local Name"
	case ADTypeCompleteLocalName:
		return "Complete Local Name"
	case ADTypeTxPowerLevel:
		return "Tx Power Level"
	case ADTypeManufacturerSpecificData:
		return "Manufacturer Specific Data"
	default:
		return fmt.Sprintf("Unknown(0x%02X)", adType)
	}
}

// Package payload decodes the breathalyzer's characteristic values.
//
// The device sends no type tag: the meaning of a value is identified solely by
// its byte length. Each known length maps to exactly one FieldKind; any other
// length is unrecognized and dropped without error.
package payload

import (
	"encoding/binary"
	"fmt"
	"math"
)

// FieldKind is the semantic meaning of a payload, derived from its length.
type FieldKind int

const (
	KindBattery FieldKind = iota + 1
	KindUsageCount
	KindAlcoholContent
	KindAddress
)

// kindLengths maps each kind to its wire length. Lengths must stay distinct.
var kindLengths = map[FieldKind]int{
	KindBattery:        1,
	KindUsageCount:     2,
	KindAlcoholContent: 4,
	KindAddress:        18,
}

var lengthKinds = func() map[int]FieldKind {
	m := make(map[int]FieldKind, len(kindLengths))
	for k, n := range kindLengths {
		if _, dup := m[n]; dup {
			panic(fmt.Sprintf("payload: duplicate length %d", n))
		}
		m[n] = k
	}
	return m
}()

// Kinds returns all known field kinds in declaration order.
func Kinds() []FieldKind {
	return []FieldKind{KindBattery, KindUsageCount, KindAlcoholContent, KindAddress}
}

// KindForLength returns the kind carried by a payload of n bytes.
func KindForLength(n int) (FieldKind, bool) {
	k, ok := lengthKinds[n]
	return k, ok
}

// Length returns the wire length of the kind, 0 for an unknown kind.
func (k FieldKind) Length() int {
	return kindLengths[k]
}

func (k FieldKind) String() string {
	switch k {
	case KindBattery:
		return "battery"
	case KindUsageCount:
		return "usage_count"
	case KindAlcoholContent:
		return "alcohol_content"
	case KindAddress:
		return "address"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Value is a decoded payload. The set of implementations is closed:
// Battery, UsageCount, AlcoholContent and Address.
type Value interface {
	fmt.Stringer
	Kind() FieldKind
}

// Battery is the battery level as reported by the device (0-255).
type Battery uint8

// UsageCount is the number of measurements taken by the device.
type UsageCount int16

// AlcoholContent is the measured alcohol concentration.
type AlcoholContent float32

// Address is the device's self-reported MAC address string.
type Address string

func (Battery) Kind() FieldKind        { return KindBattery }
func (UsageCount) Kind() FieldKind     { return KindUsageCount }
func (AlcoholContent) Kind() FieldKind { return KindAlcoholContent }
func (Address) Kind() FieldKind        { return KindAddress }

func (v Battery) String() string        { return fmt.Sprintf("%d", uint8(v)) }
func (v UsageCount) String() string     { return fmt.Sprintf("%d", int16(v)) }
func (v AlcoholContent) String() string { return fmt.Sprintf("%.3f", float32(v)) }
func (v Address) String() string        { return string(v) }

// Decode identifies b by its length and decodes it.
// It returns false for a nil buffer or an unrecognized length.
func Decode(b []byte) (Value, bool) {
	if b == nil {
		return nil, false
	}
	kind, ok := KindForLength(len(b))
	if !ok {
		return nil, false
	}

	switch kind {
	case KindBattery:
		return Battery(b[0]), true
	case KindUsageCount:
		return UsageCount(int16(binary.BigEndian.Uint16(b))), true
	case KindAlcoholContent:
		// Host byte order, reinterpreted bit for bit.
		return AlcoholContent(math.Float32frombits(binary.NativeEndian.Uint32(b))), true
	case KindAddress:
		return Address(string(b)), true
	default:
		return nil, false
	}
}

// Encode is the inverse of Decode, producing the wire bytes for v.
func Encode(v Value) []byte {
	switch v := v.(type) {
	case Battery:
		return []byte{byte(v)}
	case UsageCount:
		return binary.BigEndian.AppendUint16(nil, uint16(v))
	case AlcoholContent:
		return binary.NativeEndian.AppendUint32(nil, math.Float32bits(float32(v)))
	case Address:
		return []byte(v)
	default:
		return nil
	}
}

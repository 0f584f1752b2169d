package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/breathble/internal/device"
)

// Advertisement is a peripheral seen while scanning. It keeps the raw
// ble.Advertisement for callers that need more than address, name and RSSI.
type Advertisement struct {
	device.Peripheral
	adv ble.Advertisement
}

// NewAdvertisement wraps a go-ble advertisement as a device.Peripheral.
func NewAdvertisement(adv ble.Advertisement) *Advertisement {
	return &Advertisement{
		Peripheral: device.NewPeripheral(adv.Addr().String(), adv.LocalName(), adv.RSSI()),
		adv:        adv,
	}
}

func (a *Advertisement) Connectable() bool        { return a.adv.Connectable() }
func (a *Advertisement) ManufacturerData() []byte { return a.adv.ManufacturerData() }

// Services returns the advertised service UUIDs in normalized form.
func (a *Advertisement) Services() []string {
	bleServices := a.adv.Services()
	result := make([]string, len(bleServices))
	for i, svc := range bleServices {
		result[i] = device.NormalizeUUID(svc.String())
	}
	return result
}

// Unwrap returns the underlying ble.Advertisement
func (a *Advertisement) Unwrap() ble.Advertisement {
	return a.adv
}

package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/breathble/internal/device"
)

// ----------------------------
// BLE Characteristic
// ----------------------------

// BLECharacteristic is a GATT characteristic of a BLEService.
type BLECharacteristic struct {
	uuid    string
	service *BLEService
	bleChar *ble.Characteristic
}

func newCharacteristic(c *ble.Characteristic, svc *BLEService) *BLECharacteristic {
	return &BLECharacteristic{
		uuid:    device.NormalizeUUID(c.UUID.String()),
		service: svc,
		bleChar: c,
	}
}

func (c *BLECharacteristic) UUID() string {
	return c.uuid
}

func (c *BLECharacteristic) Service() device.Service {
	return c.service
}

// CanNotify reports whether the characteristic supports notifications or indications.
func (c *BLECharacteristic) CanNotify() bool {
	return c.bleChar.Property&(ble.CharNotify|ble.CharIndicate) != 0
}

// useIndication reports whether subscribing must use indications.
func (c *BLECharacteristic) useIndication() bool {
	return c.bleChar.Property&ble.CharNotify == 0 && c.bleChar.Property&ble.CharIndicate != 0
}

func (c *BLECharacteristic) String() string {
	return c.uuid
}

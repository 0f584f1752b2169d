package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/breathble/internal/device"
)

// ----------------------------
// BLE Service
// ----------------------------

// BLEService is a GATT service discovered over a live link.
type BLEService struct {
	uuid       string
	peripheral device.Peripheral
	bleSvc     *ble.Service
	link       *link
}

func newService(svc *ble.Service, l *link) *BLEService {
	return &BLEService{
		uuid:       device.NormalizeUUID(svc.UUID.String()),
		peripheral: l.peripheral,
		bleSvc:     svc,
		link:       l,
	}
}

func (s *BLEService) UUID() string {
	return s.uuid
}

func (s *BLEService) Peripheral() device.Peripheral {
	return s.peripheral
}

func (s *BLEService) String() string {
	return s.uuid
}

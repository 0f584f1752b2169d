package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/go-ble/ble"
)

// AdvertisementBuilder builds mocked BLE advertisements for testing.
// Unset fields read as zero values.
type AdvertisementBuilder struct {
	name        *string
	address     *string
	rssi        *int
	services    []string
	manufData   []byte
	connectable *bool
}

// NewAdvertisementBuilder creates an empty AdvertisementBuilder.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{}
}

func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.name = &name
	return b
}

func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.address = &addr
	return b
}

func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.rssi = &rssi
	return b
}

// WithServices adds advertised service UUIDs, short ("180D") or full form.
func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	b.services = append(b.services, uuids...)
	return b
}

func (b *AdvertisementBuilder) WithManufacturerData(data []byte) *AdvertisementBuilder {
	b.manufData = data
	return b
}

func (b *AdvertisementBuilder) WithConnectable(c bool) *AdvertisementBuilder {
	b.connectable = &c
	return b
}

// FromJSON fills the builder from a JSON object with fmt-style formatting.
// Panics on invalid JSON as this is intended for test data setup.
func (b *AdvertisementBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *AdvertisementBuilder {
	var data struct {
		Name             *string  `json:"name"`
		Address          *string  `json:"address"`
		RSSI             *int     `json:"rssi"`
		Services         []string `json:"services"`
		ManufacturerData []byte   `json:"manufacturerData"`
		Connectable      *bool    `json:"connectable"`
	}
	if err := json.Unmarshal([]byte(fmt.Sprintf(jsonStrFmt, args...)), &data); err != nil {
		panic(fmt.Sprintf("AdvertisementBuilder.FromJSON: failed to unmarshal: %v", err))
	}

	b.name, b.address, b.rssi, b.connectable = data.Name, data.Address, data.RSSI, data.Connectable
	b.services = data.Services
	b.manufData = data.ManufacturerData
	return b
}

// Build creates a MockAdvertisement implementing ble.Advertisement.
func (b *AdvertisementBuilder) Build() *MockAdvertisement {
	adv := &MockAdvertisement{}

	address := ""
	if b.address != nil {
		address = *b.address
	}
	addr := &MockAddr{}
	addr.On("String").Return(address)
	adv.On("Addr").Return(addr)

	if b.name != nil {
		adv.On("LocalName").Return(*b.name)
	} else {
		adv.On("LocalName").Return("")
	}
	if b.rssi != nil {
		adv.On("RSSI").Return(*b.rssi)
	} else {
		adv.On("RSSI").Return(0)
	}
	connectable := false
	if b.connectable != nil {
		connectable = *b.connectable
	}
	adv.On("Connectable").Return(connectable)
	adv.On("ManufacturerData").Return(b.manufData)

	uuids := make([]ble.UUID, 0, len(b.services))
	for _, s := range b.services {
		uuids = append(uuids, ble.MustParse(s))
	}
	adv.On("Services").Return(uuids)
	return adv
}

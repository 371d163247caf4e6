// Package bikelight defines the GATT profile shared by the two BikeLight
// nodes: the front unit serves the profile and the back unit reads and
// writes it as a central.
package bikelight

import (
	"fmt"

	"github.com/srg/bikelight/pkg/encoding"
	"github.com/srg/bikelight/pkg/wireless"
)

// Appearance is the GAP appearance advertised by the nodes (generic cycling).
const Appearance = 0x1440

// Known node identities.
const (
	FrontName    = "BikeLight"
	FrontAddress = "24:58:7C:DC:4F:92"
	BackName     = "Bluefruit"
	BackAddress  = "EB:16:79:96:96:30"
	ESP32Name    = "ESP32"
	ESP32Address = "34:B7:DA:5B:78:B2"
)

// ServiceUUID is the primary BikeLight service.
const ServiceUUID = "0adf3b2b-9772-4302-ae25-d15939407b89"

// CharacteristicDefinition describes a characteristic of the profile. A nil
// Codec means the value is composed of informations.
type CharacteristicDefinition struct {
	UUID  string
	Mode  wireless.Mode
	Name  string
	Codec encoding.Codec
}

func (d CharacteristicDefinition) Make(svc *wireless.Service, opts ...wireless.CharacteristicOption) (*wireless.Characteristic, error) {
	opts = append([]wireless.CharacteristicOption{wireless.WithCharacteristicName(d.Name)}, opts...)
	c, err := wireless.NewCharacteristic(svc, d.UUID, d.Mode, d.Codec, opts...)
	if err != nil {
		return nil, fmt.Errorf("characteristic %s: %w", d.Name, err)
	}
	return c, nil
}

// InformationDefinition describes one field of a multi-field characteristic.
type InformationDefinition struct {
	Codec encoding.Codec
	Name  string
}

func (d InformationDefinition) Make(c *wireless.Characteristic, opts ...wireless.CharacteristicOption) (*wireless.Information, error) {
	opts = append([]wireless.CharacteristicOption{wireless.WithCharacteristicName(d.Name)}, opts...)
	info, err := c.AddInformation(d.Codec, opts...)
	if err != nil {
		return nil, fmt.Errorf("information %s: %w", d.Name, err)
	}
	return info, nil
}

// Front to back.
var (
	Generic = CharacteristicDefinition{UUID: "5b5716df-51e1-4de8-8199-71860c0b69cf", Mode: wireless.ModeServerToClient, Name: "BleGeneric"}

	RearActivation  = InformationDefinition{Codec: encoding.Boolean, Name: "BleRearActivation"}
	RearFrequency   = InformationDefinition{Codec: encoding.Float, Name: "BleRearFrequency"}
	RearBrightness  = InformationDefinition{Codec: encoding.PercentageInt, Name: "BleRearBrightness"}
	DirActivation   = InformationDefinition{Codec: encoding.Uint8, Name: "BleDirActivation"}
	DirBrightness   = InformationDefinition{Codec: encoding.PercentageInt, Name: "BleDirBrightness"}
	BrakeActivation = InformationDefinition{Codec: encoding.Boolean, Name: "BleBrakeActivation"}
	BrakeBrightness = InformationDefinition{Codec: encoding.PercentageInt, Name: "BleBrakeBrightness"}
	GeneralEco      = InformationDefinition{Codec: encoding.Boolean, Name: "GeneralEco"}
)

// Back to front.
var (
	Back = CharacteristicDefinition{UUID: "46acacdb-30c5-49ab-bbbb-a09e0b4cb1b6", Mode: wireless.ModeClientToServer, Name: "BleBack"}

	BackTemperature = InformationDefinition{Codec: encoding.Float, Name: "BleBackTemperature"}
	BackBattery     = InformationDefinition{Codec: encoding.Float, Name: "BleBackBattery"}
)

// Profile is the BikeLight service registered on a session.
type Profile struct {
	Service *wireless.Service

	Generic         *wireless.Characteristic
	RearActivation  *wireless.Information
	RearBrightness  *wireless.Information
	RearFrequency   *wireless.Information
	DirActivation   *wireless.Information
	DirBrightness   *wireless.Information
	BrakeActivation *wireless.Information
	BrakeBrightness *wireless.Information
	GeneralEco      *wireless.Information

	Back            *wireless.Characteristic
	BackTemperature *wireless.Information
	BackBattery     *wireless.Information
}

// New registers the profile on session. Every information is created
// wanted, so it activates with the link; opts apply to characteristics and
// informations alike and may override that.
func New(session *wireless.Session, opts ...wireless.CharacteristicOption) (*Profile, error) {
	svc, err := wireless.NewService(session, ServiceUUID)
	if err != nil {
		return nil, err
	}
	p := &Profile{Service: svc}
	infoOpts := append([]wireless.CharacteristicOption{wireless.WithActive(true)}, opts...)

	if p.Generic, err = Generic.Make(svc, opts...); err != nil {
		return nil, err
	}
	generic := []struct {
		def  InformationDefinition
		dest **wireless.Information
	}{
		{RearActivation, &p.RearActivation},
		{RearBrightness, &p.RearBrightness},
		{RearFrequency, &p.RearFrequency},
		{DirActivation, &p.DirActivation},
		{DirBrightness, &p.DirBrightness},
		{BrakeActivation, &p.BrakeActivation},
		{BrakeBrightness, &p.BrakeBrightness},
		{GeneralEco, &p.GeneralEco},
	}
	for _, f := range generic {
		if *f.dest, err = f.def.Make(p.Generic, infoOpts...); err != nil {
			return nil, err
		}
	}

	if p.Back, err = Back.Make(svc, opts...); err != nil {
		return nil, err
	}
	if p.BackTemperature, err = BackTemperature.Make(p.Back, infoOpts...); err != nil {
		return nil, err
	}
	if p.BackBattery, err = BackBattery.Make(p.Back, infoOpts...); err != nil {
		return nil, err
	}
	return p, nil
}

// Information looks up an information by its definition name.
func (p *Profile) Information(name string) (*wireless.Information, bool) {
	for _, c := range p.Service.Characteristics() {
		for _, info := range c.Informations() {
			if info.Name() == name {
				return info, true
			}
		}
	}
	return nil, false
}

// Rear groups the rear light fields.
type Rear struct {
	Activation *wireless.Information
	Brightness *wireless.Information
	Frequency  *wireless.Information
}

type Direction struct {
	Activation *wireless.Information
	Brightness *wireless.Information
}

type Brake struct {
	Activation *wireless.Information
	Brightness *wireless.Information
}

// ToBack groups the settings the front pushes to the back unit.
type ToBack struct {
	Eco *wireless.Information
}

// ToFront groups the back unit's telemetry.
type ToFront struct {
	Temperature *wireless.Information
	Battery     *wireless.Information
}

func (p *Profile) Rear() Rear {
	return Rear{Activation: p.RearActivation, Brightness: p.RearBrightness, Frequency: p.RearFrequency}
}

func (p *Profile) Direction() Direction {
	return Direction{Activation: p.DirActivation, Brightness: p.DirBrightness}
}

func (p *Profile) Brake() Brake {
	return Brake{Activation: p.BrakeActivation, Brightness: p.BrakeBrightness}
}

func (p *Profile) ToBack() ToBack { return ToBack{Eco: p.GeneralEco} }

func (p *Profile) ToFront() ToFront {
	return ToFront{Temperature: p.BackTemperature, Battery: p.BackBattery}
}

// Package gatt models a remote GATT profile and discovers it over an
// Attribute Protocol client.
package gatt

// Property is the characteristic properties bit field.
type Property byte

const (
	CharBroadcast   Property = 0x01
	CharRead        Property = 0x02
	CharWriteNR     Property = 0x04
	CharWrite       Property = 0x08
	CharNotify      Property = 0x10
	CharIndicate    Property = 0x20
	CharSignedWrite Property = 0x40
	CharExtended    Property = 0x80
)

// Profile is the discovered attribute database of one server.
type Profile struct {
	Services []*Service
}

// Service is a primary service and the handle range it spans.
type Service struct {
	UUID      UUID
	Handle    uint16
	EndHandle uint16

	Characteristics []*Characteristic
}

// Characteristic is a characteristic declaration.
type Characteristic struct {
	UUID        UUID
	Property    Property
	Handle      uint16
	ValueHandle uint16
	EndHandle   uint16

	Descriptors []*Descriptor
	CCCD        *Descriptor
}

type Descriptor struct {
	UUID   UUID
	Handle uint16
}

// FindService returns the first service of the given type.
func (p *Profile) FindService(u UUID) *Service {
	for _, s := range p.Services {
		if s.UUID == u {
			return s
		}
	}
	return nil
}

// FindCharacteristic returns the first characteristic of the given type.
func (s *Service) FindCharacteristic(u UUID) *Characteristic {
	for _, c := range s.Characteristics {
		if c.UUID == u {
			return c
		}
	}
	return nil
}

// ValueHandle finds the characteristic owning handle h as its value.
func (p *Profile) ValueHandle(h uint16) (*Service, *Characteristic) {
	for _, s := range p.Services {
		if h < s.Handle || h > s.EndHandle {
			continue
		}
		for _, c := range s.Characteristics {
			if c.ValueHandle == h {
				return s, c
			}
		}
	}
	return nil, nil
}

// CCCDs collects, in handle order, the configuration descriptors of the
// characteristics accepted by match.
func (p *Profile) CCCDs(match func(s *Service, c *Characteristic) bool) []uint16 {
	var out []uint16
	for _, s := range p.Services {
		for _, c := range s.Characteristics {
			if c.CCCD != nil && match(s, c) {
				out = append(out, c.CCCD.Handle)
			}
		}
	}
	return out
}

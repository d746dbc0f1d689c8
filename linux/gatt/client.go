package gatt

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/btcontrol"
	"github.com/rigado/btcontrol/linux/att"
)

// Requester is the subset of the attribute protocol discovery needs.
type Requester interface {
	ReadByGroupType(start, end uint16, uuid []byte) ([]att.GroupData, error)
	ReadByType(start, end uint16, uuid []byte) ([]att.HandleValue, error)
	FindInformation(start, end uint16) ([]att.HandleInfo, error)
}

// Discovery walks a server's services, characteristics and descriptors.
// Every request counts against one deadline.
type Discovery struct {
	r        Requester
	deadline time.Time
}

// DiscoverProfile enumerates the whole attribute database of the server
// behind r, giving up with ErrTimeout once limit has elapsed.
func DiscoverProfile(r Requester, limit time.Duration) (*Profile, error) {
	d := &Discovery{r: r, deadline: time.Now().Add(limit)}

	ss, err := d.Services()
	if err != nil {
		return nil, errors.Wrap(err, "can't discover services")
	}
	for _, s := range ss {
		cs, err := d.Characteristics(s)
		if err != nil {
			return nil, errors.Wrapf(err, "can't discover characteristics of %v", s.UUID)
		}
		for _, c := range cs {
			if _, err := d.Descriptors(c); err != nil {
				return nil, errors.Wrapf(err, "can't discover descriptors of %v", c.UUID)
			}
		}
	}
	return &Profile{Services: ss}, nil
}

func (d *Discovery) expired() error {
	if time.Now().After(d.deadline) {
		return errors.Wrap(btcontrol.ErrTimeout, "discovery")
	}
	return nil
}

// Services finds all primary services. [Vol 3, Part G, 4.4.1]
func (d *Discovery) Services() ([]*Service, error) {
	var ss []*Service
	start := uint16(0x0001)
	for {
		if err := d.expired(); err != nil {
			return nil, err
		}
		gd, err := d.r.ReadByGroupType(start, 0xFFFF, PrimaryServiceUUID.Wire())
		if att.IsNotFound(err) || (err == nil && len(gd) == 0) {
			return ss, nil
		}
		if err != nil {
			return nil, err
		}
		for _, g := range gd {
			u, err := FromWire(g.Value)
			if err != nil {
				return nil, err
			}
			ss = append(ss, &Service{UUID: u, Handle: g.Handle, EndHandle: g.EndHandle})
			if g.EndHandle == 0xFFFF {
				return ss, nil
			}
			if g.EndHandle < start {
				return nil, errors.Wrapf(att.ErrInvalidResponse, "service range 0x%04x-0x%04x", g.Handle, g.EndHandle)
			}
			start = g.EndHandle + 1
		}
	}
}

// Characteristics finds all characteristics of s. [Vol 3, Part G, 4.6.1]
func (d *Discovery) Characteristics(s *Service) ([]*Characteristic, error) {
	start := s.Handle
	var last *Characteristic
	for start <= s.EndHandle {
		if err := d.expired(); err != nil {
			return nil, err
		}
		hv, err := d.r.ReadByType(start, s.EndHandle, CharacteristicUUID.Wire())
		if att.IsNotFound(err) || (err == nil && len(hv) == 0) {
			break
		}
		if err != nil {
			return nil, err
		}
		for _, v := range hv {
			if len(v.Value) < 5 {
				return nil, errors.Wrapf(att.ErrInvalidResponse, "characteristic declaration % X", v.Value)
			}
			u, err := FromWire(v.Value[3:])
			if err != nil {
				return nil, err
			}
			c := &Characteristic{
				UUID:        u,
				Property:    Property(v.Value[0]),
				Handle:      v.Handle,
				ValueHandle: binary.LittleEndian.Uint16(v.Value[1:]),
				EndHandle:   s.EndHandle,
			}
			if c.ValueHandle < start {
				return nil, errors.Wrapf(att.ErrInvalidResponse, "value handle 0x%04x", c.ValueHandle)
			}
			if last != nil {
				last.EndHandle = c.Handle - 1
			}
			s.Characteristics = append(s.Characteristics, c)
			last = c
			start = c.ValueHandle + 1
		}
		if start == 0 {
			break // wrapped past 0xFFFF
		}
	}
	return s.Characteristics, nil
}

// Descriptors finds all descriptors of c. [Vol 3, Part G, 4.7.1]
func (d *Discovery) Descriptors(c *Characteristic) ([]*Descriptor, error) {
	start := c.ValueHandle + 1
	for start != 0 && start <= c.EndHandle {
		if err := d.expired(); err != nil {
			return nil, err
		}
		info, err := d.r.FindInformation(start, c.EndHandle)
		if att.IsNotFound(err) || (err == nil && len(info) == 0) {
			break
		}
		if err != nil {
			return nil, err
		}
		for _, i := range info {
			u, err := FromWire(i.UUID)
			if err != nil {
				return nil, err
			}
			if i.Handle < start {
				return nil, errors.Wrapf(att.ErrInvalidResponse, "descriptor handle 0x%04x", i.Handle)
			}
			desc := &Descriptor{UUID: u, Handle: i.Handle}
			c.Descriptors = append(c.Descriptors, desc)
			if u == ClientCharConfigUUID {
				c.CCCD = desc
			}
			start = i.Handle + 1
		}
	}
	return c.Descriptors, nil
}

package wireless

import (
	"fmt"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Service is a primary GATT service registered on a session.
type Service struct {
	uuid    string
	session *Session

	mu    sync.RWMutex
	chars *orderedmap.OrderedMap[string, *Characteristic]
}

// NewService registers a service with the given UUID on session.
func NewService(session *Session, uuid string) (*Service, error) {
	normalized := NormalizeUUID(uuid)
	if normalized == "" {
		return nil, fmt.Errorf("invalid service UUID: %s", uuid)
	}
	svc := &Service{
		uuid:    normalized,
		session: session,
		chars:   orderedmap.New[string, *Characteristic](),
	}
	if err := session.addService(svc); err != nil {
		return nil, err
	}
	return svc, nil
}

func (s *Service) UUID() string { return s.uuid }

func (s *Service) Session() *Session { return s.session }

// Characteristics returns the characteristics in attachment order.
func (s *Service) Characteristics() []*Characteristic {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Characteristic, 0, s.chars.Len())
	for pair := s.chars.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Characteristic returns the characteristic with uuid.
func (s *Service) Characteristic(uuid string) (*Characteristic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chars.Get(NormalizeUUID(uuid))
	if !ok {
		return nil, &NotFoundError{Resource: "characteristic", UUIDs: []string{s.uuid, uuid}}
	}
	return c, nil
}

func (s *Service) add(c *Characteristic) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.chars.Get(c.UUID()); exists {
		return fmt.Errorf("characteristic %s already registered in service %s", c.UUID(), s.uuid)
	}
	s.chars.Set(c.UUID(), c)
	return nil
}

// Spec describes the service for transport realization.
func (s *Service) Spec() ServiceSpec {
	chars := s.Characteristics()
	spec := ServiceSpec{UUID: s.uuid, Characteristics: make([]CharacteristicSpec, 0, len(chars))}
	for _, c := range chars {
		spec.Characteristics = append(spec.Characteristics, c.Spec())
	}
	return spec
}

package wireless

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/srg/bikelight/pkg/encoding"
	"github.com/srg/bikelight/pkg/reactive"
)

// Information is a positional view of one slot of a multi-field
// characteristic, with its own activation and change detection.
type Information struct {
	*reactive.Action[any]

	owner *Characteristic
	index int
	codec encoding.Codec
	name  string
	log   *logrus.Entry

	mu     sync.Mutex
	wanted bool
	last   any
	gate   *reactive.Signal
}

// AddInformation appends a field encoded with codec to the characteristic
// record. The characteristic codec becomes the array of every field codec
// in attachment order.
func (c *Characteristic) AddInformation(codec encoding.Codec, opts ...CharacteristicOption) (*Information, error) {
	if codec == nil {
		return nil, fmt.Errorf("information on %s needs a codec: %w", c.uuid, encoding.ErrUnsupportedValue)
	}

	c.mu.Lock()
	index := len(c.fields)
	s := applyCharOptions(fmt.Sprintf("%s[%d]", c.opts.name, index), opts)
	logger := c.service.Session().Logger()
	info := &Information{
		Action: reactive.NewAction[any](s.name, logger),
		owner:  c,
		index:  index,
		codec:  codec,
		name:   s.name,
		log:    logger.WithFields(logrus.Fields{"component": "information", "name": s.name}),
		wanted: s.initiallyActive,
		gate:   &reactive.Signal{},
	}

	previous, _ := c.value.([]any)
	c.fields = append(c.fields, info)
	codecs := make([]encoding.Codec, 0, len(c.fields))
	for _, f := range c.fields {
		codecs = append(codecs, f.codec)
	}
	array := encoding.NewArrayEncoder(codecs...)
	c.codec = array

	record := array.Decode(make([]byte, array.Size())).([]any)
	copy(record, previous)
	if s.initial != nil {
		record[index] = s.initial
	}
	c.value = record
	info.last = record[index]
	c.mu.Unlock()

	if s.initial != nil {
		c.pending.Set()
	}
	return info, nil
}

func (i *Information) Index() int { return i.index }

func (i *Information) Name() string { return i.name }

func (i *Information) Codec() encoding.Codec { return i.codec }

func (i *Information) Size() int { return i.codec.Size() }

func (i *Information) Characteristic() *Characteristic { return i.owner }

func (i *Information) Encode(v any) ([]byte, error) { return i.codec.Encode(v) }

func (i *Information) Decode(data []byte) any { return i.codec.Decode(data) }

// Value returns this slot of the owner's record, or nil when the record is
// shorter than the slot index.
func (i *Information) Value() any {
	i.owner.mu.RLock()
	defer i.owner.mu.RUnlock()
	record, ok := i.owner.value.([]any)
	if !ok || i.index >= len(record) {
		return nil
	}
	return record[i.index]
}

// SetValue replaces this slot only and queues the whole record for writing.
func (i *Information) SetValue(v any) bool {
	return i.owner.assign(func(current any) (any, bool) {
		record, ok := current.([]any)
		if !ok || i.index >= len(record) {
			return nil, false
		}
		next := append([]any(nil), record...)
		next[i.index] = v
		return next, true
	})
}

// Update fires the listeners when active and the slot changed since last
// observed.
func (i *Information) Update() {
	if !i.gate.IsSet() {
		return
	}
	v := i.Value()
	i.mu.Lock()
	if reflect.DeepEqual(v, i.last) {
		i.mu.Unlock()
		return
	}
	i.last = v
	i.mu.Unlock()

	i.log.WithField("value", v).Trace("Update")
	i.Callback(v)
}

func (i *Information) IsActive() bool { return i.gate.IsSet() }

func (i *Information) isWanted() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.wanted
}

func (i *Information) Pause() {
	i.mu.Lock()
	i.wanted = false
	i.mu.Unlock()
	i.gate.Clear()
}

// Resume marks the information wanted and opens it if the link is up.
func (i *Information) Resume() {
	i.mu.Lock()
	i.wanted = true
	i.mu.Unlock()
	if i.owner.service.Session().Connected() {
		i.gate.Set()
	}
}

func (i *Information) SetActivation(active bool) {
	if active {
		i.Resume()
	} else {
		i.Pause()
	}
}

func (i *Information) setLinkActivation(up bool) {
	if !i.isWanted() {
		return
	}
	if up {
		i.gate.Set()
	} else {
		i.gate.Clear()
	}
}

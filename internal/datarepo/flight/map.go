package flight

import (
	"encoding/json"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Map holds the inputs, working state and result of a flight. Values are stored as JSON so a map can be
// persisted and later resumed on another node.
type Map struct {
	values map[string]json.RawMessage
}

func NewMap() *Map {
	return &Map{values: map[string]json.RawMessage{}}
}

// Put stores value under key, replacing any previous value.
func (m *Map) Put(key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "encoding flight map key %s", key)
	}
	m.values[key] = data
	return nil
}

// Get decodes the value under key into dst and reports whether the key was present.
func (m *Map) Get(key string, dst interface{}) (bool, error) {
	data, ok := m.values[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return true, errors.Wrapf(err, "decoding flight map key %s", key)
	}
	return true, nil
}

// GetString returns the string under key, or "" when it is absent or not a string.
func (m *Map) GetString(key string) string {
	var value string
	if _, err := m.Get(key, &value); err != nil {
		return ""
	}
	return value
}

func (m *Map) GetBool(key string) bool {
	var value bool
	if _, err := m.Get(key, &value); err != nil {
		return false
	}
	return value
}

func (m *Map) Contains(key string) bool {
	_, ok := m.values[key]
	return ok
}

func (m *Map) Keys() []string {
	keys := maps.Keys(m.values)
	slices.Sort(keys)
	return keys
}

func (m *Map) Copy() *Map {
	if m == nil {
		return nil
	}
	return &Map{values: maps.Clone(m.values)}
}

func (m *Map) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.values)
}

func (m *Map) UnmarshalJSON(data []byte) error {
	values := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &values); err != nil {
		return errors.WithStack(err)
	}
	m.values = values
	return nil
}

package domain

import (
	"strconv"
)

// Attributes are free-form key/value settings attached to a VM or a node.
type Attributes map[string]string

// Get returns the raw value of key.
func (a Attributes) Get(key string) (string, bool) {
	v, ok := a[key]
	return v, ok
}

// Int returns key parsed as an integer.
func (a Attributes) Int(key string) (int, bool) {
	v, ok := a[key]
	if !ok {
		return 0, false
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return i, true
}

// Bool returns key parsed as a boolean. Unset or malformed values are false.
func (a Attributes) Bool(key string) bool {
	b, err := strconv.ParseBool(a[key])
	return err == nil && b
}

// Clone returns a copy of the attributes.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	c := make(Attributes, len(a))
	for k, v := range a {
		c[k] = v
	}
	return c
}

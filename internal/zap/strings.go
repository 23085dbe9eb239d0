package zap

import (
	"sort"

	"go.uber.org/zap/zapcore"
)

// Strings is a string array that implements MarshalLogArray.
type Strings []string

// MarshalLogArray implementation
func (ss Strings) MarshalLogArray(enc zapcore.ArrayEncoder) error {
	for _, s := range ss {
		enc.AppendString(s)
	}
	return nil
}

// Keys logs the sorted keys of a string map. Values are left out since environment
// variables routinely carry credentials.
type Keys map[string]string

// MarshalLogArray implementation
func (m Keys) MarshalLogArray(enc zapcore.ArrayEncoder) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return Strings(keys).MarshalLogArray(enc)
}

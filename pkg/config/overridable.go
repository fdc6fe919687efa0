// Copyright 2025 RepoRoller Authors

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

// Overridable carries a configuration value together with the policy flag
// saying whether a higher-precedence layer may change it. Once a layer locks
// a field (AllowOverride false), later layers may only reassert the same
// value.
type Overridable[T comparable] struct {
	Value         T
	AllowOverride bool
}

// NewOverridable returns an Overridable with an explicit override policy.
func NewOverridable[T comparable](v T, allowOverride bool) Overridable[T] {
	return Overridable[T]{Value: v, AllowOverride: allowOverride}
}

// Fixed returns an Overridable that no later layer may change.
func Fixed[T comparable](v T) Overridable[T] {
	return Overridable[T]{Value: v, AllowOverride: false}
}

// Changeable returns an Overridable that later layers may freely change.
func Changeable[T comparable](v T) Overridable[T] {
	return Overridable[T]{Value: v, AllowOverride: true}
}

// TryOverride attempts to replace the value from a higher layer. It refuses,
// returning the receiver unchanged and false, only when the receiver is
// locked and v differs from the current value. Reasserting an equal value on
// a locked field succeeds. The override policy flag is carried over
// unchanged.
func (o Overridable[T]) TryOverride(v T) (Overridable[T], bool) {
	if !o.AllowOverride && v != o.Value {
		return o, false
	}
	return Overridable[T]{Value: v, AllowOverride: o.AllowOverride}, true
}

// OverridablePtr is a convenience for building optional document fields.
func OverridablePtr[T comparable](v T, allowOverride bool) *Overridable[T] {
	o := NewOverridable(v, allowOverride)
	return &o
}

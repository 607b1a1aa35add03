/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package xslices provide small generic helpers over numeric slices used by the kernels and their tests.
package xslices

import (
	"math"

	"golang.org/x/exp/constraints"
)

// Number is any integer or float type.
type Number interface {
	constraints.Integer | constraints.Float
}

// CeilDiv returns ceil(a/b) for positive integers.
func CeilDiv[T constraints.Integer](a, b T) T {
	return (a + b - 1) / b
}

// SliceWithValue creates a slice of given size filled with given value.
func SliceWithValue[T any](size int, value T) []T {
	s := make([]T, size)
	for ii := range s {
		s[ii] = value
	}
	return s
}

// Cyclic returns a slice of length len with the values `offset + (ii % modulus)`, converted to T.
// It's used to generate small deterministic test data that is exactly representable in float32.
func Cyclic[T Number](len, modulus int, offset T) (slice []T) {
	slice = make([]T, len)
	for ii := range slice {
		slice[ii] = offset + T(ii%modulus)
	}
	return
}

// Map executes the given function sequentially for every element on in, and returns a mapped slice.
func Map[In, Out any](in []In, fn func(e In) Out) (out []Out) {
	out = make([]Out, len(in))
	for ii, e := range in {
		out[ii] = fn(e)
	}
	return
}

// Epsilon used by MaxRelativeError to avoid divisions by (almost) zero.
const Epsilon = 1e-4

// MaxRelativeError returns the largest |a-b|/max(|a|,|b|,1) over all elements, and the position where it happens.
// The denominator is clamped to 1, so for small values it behaves like an absolute error.
//
// It returns +Inf (and position -1) if the slices have different lengths, and it treats a NaN on
// either side as an infinite error.
func MaxRelativeError[T constraints.Float](a, b []T) (maxErr float64, pos int) {
	if len(a) != len(b) {
		return math.Inf(1), -1
	}
	pos = -1
	for ii := range a {
		va, vb := float64(a[ii]), float64(b[ii])
		if math.IsNaN(va) || math.IsNaN(vb) {
			return math.Inf(1), ii
		}
		denominator := max(math.Abs(va), math.Abs(vb), 1)
		relErr := math.Abs(va-vb) / denominator
		if relErr > maxErr {
			maxErr, pos = relErr, ii
		}
	}
	return
}

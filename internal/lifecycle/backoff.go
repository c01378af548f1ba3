// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package lifecycle

import "time"

// Backoff produces exponentially growing wait intervals.
// Default: 50ms initial, 2x multiplier, 1s max interval.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64

	next time.Duration
}

// NewBackoff returns a Backoff with the default parameters.
func NewBackoff() *Backoff {
	return &Backoff{
		Initial:    50 * time.Millisecond,
		Max:        1 * time.Second,
		Multiplier: 2.0,
	}
}

// Next returns the interval to wait before the next attempt.
func (b *Backoff) Next() time.Duration {
	if b.next == 0 {
		b.next = b.Initial
	}
	cur := b.next

	b.next = time.Duration(float64(b.next) * b.Multiplier)
	if b.next > b.Max {
		b.next = b.Max
	}
	return cur
}

// Reset restarts the sequence at Initial.
func (b *Backoff) Reset() {
	b.next = 0
}

/*
 * Copyright 2026 Habitat Labs.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package health

import "github.com/habitatlabs/fleet/pkg/models"

// recordRing is a fixed-capacity ring of health records. Oldest entries
// are overwritten on overflow.
type recordRing struct {
	buf   []models.HealthRecord
	head  int
	count int
}

func newRecordRing(capacity int) *recordRing {
	return &recordRing{buf: make([]models.HealthRecord, capacity)}
}

func (r *recordRing) push(rec models.HealthRecord) {
	r.buf[r.head] = rec
	r.head = (r.head + 1) % len(r.buf)

	if r.count < len(r.buf) {
		r.count++
	}
}

// records returns the retained history, oldest first.
func (r *recordRing) records() []models.HealthRecord {
	out := make([]models.HealthRecord, 0, r.count)

	start := r.head - r.count
	if start < 0 {
		start += len(r.buf)
	}

	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}

	return out
}

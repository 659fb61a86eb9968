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

package models

import "time"

// SyncSample is one clock-synchronization measurement reported by a
// module: the offset from the grandmaster clock and the frequency
// adjustment applied, per disciplining source.
type SyncSample struct {
	Timestamp time.Time `json:"timestamp"`
	Offset    float64   `json:"offset"`
	Freq      float64   `json:"freq"`
	Source    string    `json:"source"`
}

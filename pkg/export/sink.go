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

// Package export periodically drains buffered telemetry and health
// snapshots into an external persistence sink.
package export

import (
	"context"

	"github.com/habitatlabs/fleet/pkg/models"
)

// Sink is the abstract persistent store. Exports are at-least-once: a
// batch whose confirmation is lost may be handed to the sink again, so
// implementations should dedupe on (module_id, record_id).
type Sink interface {
	ExportData(ctx context.Context, records []models.DataExportRecord) error
	ExportHealth(ctx context.Context, records []models.HealthExportRecord) error
}

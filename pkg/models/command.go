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

import (
	"encoding/json"
	"errors"
	"fmt"
)

// BroadcastTarget addresses a command to every module on the command
// channel.
const BroadcastTarget = "all"

// Command names understood by the base module runtime. Capability-specific
// commands beyond these are passed through to the module's handler.
const (
	CommandStartRecording = "start_recording"
	CommandStopRecording  = "stop_recording"
	CommandGetStatus      = "get_status"
	CommandGetConfig      = "get_config"
	CommandSetConfig      = "set_config"
	CommandShutdown       = "shutdown"
)

var errCommandParams = errors.New("invalid command params")

// Command is an ephemeral instruction sent over the command channel.
// Delivery is fire-and-forget: there is no persistence and no response
// correlation.
type Command struct {
	ID     string                 `json:"id,omitempty"`
	Target string                 `json:"-"`
	Name   string                 `json:"command"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// StartRecordingParams is the decoded form of a start_recording command.
type StartRecordingParams struct {
	SessionName string `json:"session_name"`
	Duration    int    `json:"duration,omitempty"`
}

// SetConfigParams is the decoded form of a set_config command.
type SetConfigParams struct {
	Config map[string]interface{} `json:"config"`
}

// DecodeParams decodes the command's parameter map into a typed variant.
// Commands are decoded once here, at the edge, rather than re-parsed in
// business logic.
func (c *Command) DecodeParams(dst interface{}) error {
	raw, err := json.Marshal(c.Params)
	if err != nil {
		return fmt.Errorf("%w: %w", errCommandParams, err)
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %w", errCommandParams, err)
	}

	return nil
}

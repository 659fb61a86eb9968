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

package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// envPrefix is prepended to every override variable, e.g.
// FLEET_HEARTBEAT_TIMEOUT overrides the heartbeat_timeout field.
const envPrefix = "FLEET_"

var errUnsupportedEnvField = errors.New("unsupported field type for env override")

// applyEnvOverrides walks dst's exported fields and overrides any whose
// matching environment variable is set. Nested structs use underscore
// separation: FLEET_SINK_DSN maps to cfg.Sink.DSN.
func applyEnvOverrides(dst interface{}, prefix string) error {
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return errInvalidConfigPtr
	}

	return overrideStruct(v.Elem(), prefix)
}

func overrideStruct(v reflect.Value, prefix string) error {
	if v.Kind() != reflect.Struct {
		return nil
	}

	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		key := prefix + envKey(field)
		fv := v.Field(i)

		// Descend into nested config sections.
		if fv.Kind() == reflect.Struct && fv.Type() != reflect.TypeOf(time.Time{}) {
			if err := overrideStruct(fv, key+"_"); err != nil {
				return err
			}

			continue
		}

		if fv.Kind() == reflect.Ptr && fv.Type().Elem().Kind() == reflect.Struct {
			if !fv.IsNil() {
				if err := overrideStruct(fv.Elem(), key+"_"); err != nil {
					return err
				}
			}

			continue
		}

		raw, ok := os.LookupEnv(key)
		if !ok {
			continue
		}

		if err := setField(fv, raw); err != nil {
			return fmt.Errorf("env %s: %w", key, err)
		}
	}

	return nil
}

func envKey(field reflect.StructField) string {
	name := field.Name

	if tag, ok := field.Tag.Lookup("json"); ok {
		if idx := strings.Index(tag, ","); idx >= 0 {
			tag = tag[:idx]
		}

		if tag != "" && tag != "-" {
			name = tag
		}
	}

	return strings.ToUpper(name)
}

func setField(fv reflect.Value, raw string) error {
	if !fv.CanSet() {
		return nil
	}

	switch fv.Kind() {
	case reflect.String:
		fv.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}

		fv.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// Duration-like fields accept "90s" as well as integers.
		if d, err := time.ParseDuration(raw); err == nil && isDurationKind(fv.Type()) {
			fv.SetInt(int64(d))
			return nil
		}

		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}

		fv.SetInt(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}

		fv.SetFloat(f)
	default:
		return errUnsupportedEnvField
	}

	return nil
}

func isDurationKind(t reflect.Type) bool {
	return t == reflect.TypeOf(time.Duration(0)) || t.Name() == "Duration"
}

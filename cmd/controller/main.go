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

package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/habitatlabs/fleet/pkg/config"
	"github.com/habitatlabs/fleet/pkg/coordination"
	"github.com/habitatlabs/fleet/pkg/lifecycle"
)

var errFailedToLoadConfig = fmt.Errorf("failed to load config")

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/fleet/controller.json", "Path to controller config file")
	flag.Parse()

	ctx := context.Background()

	cfgLoader := config.NewConfig(nil)

	var cfg coordination.Config

	if err := cfgLoader.LoadAndValidate(ctx, *configPath, &cfg); err != nil {
		return fmt.Errorf("%w: %w", errFailedToLoadConfig, err)
	}

	controllerLogger, err := lifecycle.CreateComponentLogger("controller", cfg.Logging)
	if err != nil {
		return err
	}

	coordinator, err := coordination.NewFromConfig(ctx, &cfg, controllerLogger)
	if err != nil {
		return err
	}

	return lifecycle.Run(ctx, coordinator, controllerLogger)
}

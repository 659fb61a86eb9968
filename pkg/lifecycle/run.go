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

// Package lifecycle runs a long-lived service until it is interrupted or
// asks to stop, then shuts it down within a bounded grace period.
package lifecycle

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/habitatlabs/fleet/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

// Service is a component with a Start/Stop lifecycle.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// SelfStopper is optionally implemented by services that can decide to
// terminate on their own, such as a module agent receiving a shutdown
// command.
type SelfStopper interface {
	Done() <-chan struct{}
}

// Run starts the service and blocks until SIGINT/SIGTERM, context
// cancellation, or a self-initiated stop, then calls Stop with a bounded
// shutdown context.
func Run(ctx context.Context, svc Service, log logger.Logger) error {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.Start(sigCtx); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}

	var done <-chan struct{}
	if stopper, ok := svc.(SelfStopper); ok {
		done = stopper.Done()
	}

	select {
	case <-sigCtx.Done():
		log.Info().Msg("Shutdown signal received")
	case <-done:
		log.Info().Msg("Service requested shutdown")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := svc.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop service cleanly: %w", err)
	}

	return nil
}

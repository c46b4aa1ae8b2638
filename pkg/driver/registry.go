// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package driver

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Thermoquad/acomms/pkg/acomms"
)

// Modem is a driver that also reports its state for consoles and the API.
type Modem interface {
	acomms.Driver
	Vendor() string
	ID() int
	State() string
	Stats() Statistics
}

// Factory builds a driver from its config.
type Factory func(cfg Config, opts ...Option) Modem

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a driver type available to New. Vendor packages call it
// from init.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic("driver: Register called twice for " + name)
	}
	registry[name] = f
}

// New builds the driver named by cfg.Type.
func New(cfg Config, opts ...Option) (Modem, error) {
	registryMu.RLock()
	f, ok := registry[cfg.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, &acomms.ConfigError{
			Field:  "driver.type",
			Reason: fmt.Sprintf("unknown driver %q (known: %v)", cfg.Type, Types()),
		}
	}
	return f(cfg, opts...), nil
}

// Types lists the registered driver names.
func Types() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package imgacts

import (
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/gomlx/imgacts/internal/dispatch"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Regime is the kernel specialization. It's selected from the number of colors per group, unless forced
// by the configuration.
type Regime = dispatch.Regime

// Kernel regimes, see Config.Regime.
const (
	// RegimeAuto selects the regime from the number of colors per group.
	RegimeAuto = dispatch.RegimeAuto
	// RegimeFew handles up to 3 colors, in a single group.
	RegimeFew = dispatch.RegimeFew
	// RegimeMedium handles an even number of colors per group.
	RegimeMedium = dispatch.RegimeMedium
	// RegimeMany handles multiples of 8 colors per group.
	RegimeMany = dispatch.RegimeMany
)

// Plan describes the kernel variant and the launch geometry selected for a problem. See Explain.
type Plan = dispatch.Plan

// Config of an Engine.
type Config struct {
	// Parallelism is the (soft) maximum number of blocks executed concurrently.
	// If 0 blocks are executed inline, one at a time. If -1 it's unlimited.
	Parallelism int

	// Regime forces a kernel specialization, if not RegimeAuto.
	Regime Regime

	// CheckBounds forces the boundary-checked path, even when the image tiles divide the number of images.
	CheckBounds bool
}

// DefaultConfig is the configuration string used by Default, if IMGACTS_CONFIG is not set.
//
// See ParseConfig for the format of the configuration string.
var DefaultConfig string

// IMGACTS_CONFIG is the environment variable with the default configuration.
//
// See ParseConfig for the format of the configuration string.
const IMGACTS_CONFIG = "IMGACTS_CONFIG"

// ParseConfig parses a comma-separated list of "key=value" options. Valid keys are:
//
//   - parallelism=<n>: maximum number of blocks running concurrently. 0 runs blocks inline, -1 is unlimited.
//     Defaults to runtime.NumCPU().
//   - regime=auto|few|medium|many: force a kernel specialization.
//   - check_bounds=<bool>: force the boundary-checked path.
//
// Unknown keys are logged and ignored. An empty config returns the default configuration.
func ParseConfig(config string) (Config, error) {
	cfg := Config{Parallelism: runtime.NumCPU()}
	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, found := strings.Cut(part, "=")
		if !found {
			return Config{}, errors.Errorf("invalid option %q in imgacts config %q: expected key=value", part, config)
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		var err error
		switch key {
		case "parallelism":
			cfg.Parallelism, err = strconv.Atoi(value)
			if err == nil && cfg.Parallelism < -1 {
				err = errors.Errorf("must be >= -1")
			}
		case "regime":
			cfg.Regime, err = dispatch.RegimeString(value)
		case "check_bounds":
			cfg.CheckBounds, err = strconv.ParseBool(value)
		default:
			klog.Warningf("imgacts: unknown option %q in config %q ignored", key, config)
		}
		if err != nil {
			return Config{}, errors.WithMessagef(err, "invalid value %q for option %q in imgacts config", value, key)
		}
	}
	return cfg, nil
}

// String returns the configuration in the format accepted by ParseConfig.
func (c Config) String() string {
	return "parallelism=" + strconv.Itoa(c.Parallelism) +
		",regime=" + c.Regime.String() +
		",check_bounds=" + strconv.FormatBool(c.CheckBounds)
}

// defaultConfigString returns the configuration string used by Default:
//
// 1. The environment variable IMGACTS_CONFIG, if defined.
// 2. Next the variable DefaultConfig.
func defaultConfigString() string {
	if config, found := os.LookupEnv(IMGACTS_CONFIG); found {
		return config
	}
	return DefaultConfig
}

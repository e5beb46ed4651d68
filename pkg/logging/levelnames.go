// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.
package logging

import (
	"fmt"
	"strings"
)

// ParseLevel validates a level name against LogLevels, case-insensitively.
// An empty string is treated as "INFO".
func ParseLevel(name string) (string, error) {
	if name == "" {
		return "INFO", nil
	}
	upper := strings.ToUpper(name)
	for _, l := range LogLevels {
		if l == upper {
			return upper, nil
		}
	}
	return "", fmt.Errorf("log level %q not known", name)
}

// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package asyncexecutor_test

import (
	"testing"

	gojaengine "github.com/buke/async-executor/engines/goja"
)

func TestIntegration_Goja(t *testing.T) {
	testEngineIntegration(t, "Goja", gojaengine.NewFactory())
}

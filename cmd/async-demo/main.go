// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

// Command async-demo runs small programs on the async executor.
package main

import "github.com/buke/async-executor/cmd/async-demo/commands"

func main() {
	commands.Execute()
}

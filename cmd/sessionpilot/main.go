// Package main is the sessionpilot command: it acquires, restores and
// inspects authenticated browser sessions.
package main

import "github.com/entrhq/sessionpilot/cmd/sessionpilot/cmd"

func main() {
	cmd.Execute()
}

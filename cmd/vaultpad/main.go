// Package main provides vaultpad, a collaborative text document server.
package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"vaultpad/internal/server"
)

func main() {
	environ := os.Environ()
	env := make(map[string]string, len(environ))

	for _, e := range environ {
		if k, v, ok := strings.Cut(e, "="); ok {
			env[k] = v
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	exitCode := server.Run(os.Stdout, os.Stderr, os.Args[1:], env, sigCh)

	os.Exit(exitCode)
}

// Package main provides padctl, offline administration for vaultpad
// vaults: setting document passwords and consolidating WALs into
// snapshots without a running server.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"vaultpad/internal/auth"
	"vaultpad/internal/config"
	"vaultpad/internal/store"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	environ := os.Environ()
	env := make(map[string]string, len(environ))

	for _, e := range environ {
		if k, v, ok := strings.Cut(e, "="); ok {
			env[k] = v
		}
	}

	os.Exit(run(os.Stdout, os.Stderr, os.Args[1:], env))
}

func run(out, errOut io.Writer, args []string, env map[string]string) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" {
		printUsage(out)

		return exitOK
	}

	cmd := args[0]

	switch cmd {
	case "passwd":
		return cmdPasswd(out, errOut, args[1:], env)
	case "flush":
		return cmdFlush(out, errOut, args[1:], env)
	default:
		fprintln(errOut, "error: unknown command:", cmd)
		printUsage(errOut)

		return exitUsage
	}
}

// cmdPasswd sets or clears a document password. The vault lock is taken
// first, so this refuses to run while a server owns the vault.
func cmdPasswd(out, errOut io.Writer, args []string, env map[string]string) int {
	flagSet := flag.NewFlagSet("passwd", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	dataDir := flagSet.String("data-dir", "", "Vault directory")
	password := flagSet.String("password", "", "Password to set, prompts when omitted")
	clearPassword := flagSet.Bool("clear", false, "Remove the document password")
	help := flagSet.BoolP("help", "h", false, "Show help")

	if err := flagSet.Parse(args); err != nil {
		fprintln(errOut, "error:", err)

		return exitUsage
	}

	if *help {
		printPasswdHelp(out)

		return exitOK
	}

	if flagSet.NArg() != 1 {
		fprintln(errOut, "error: passwd requires exactly one document slug")
		printPasswdHelp(errOut)

		return exitUsage
	}

	slug := flagSet.Arg(0)

	st, lock, code := openVault(errOut, *dataDir, env)
	if code != exitOK {
		return code
	}
	defer func() { _ = lock.Release() }()

	if *clearPassword {
		if err := st.WritePasswordHash(slug, ""); err != nil {
			fprintln(errOut, "error:", err)

			return exitError
		}

		fprintln(out, "password cleared for", slug)

		return exitOK
	}

	plain := *password
	if plain == "" {
		var code int

		plain, code = promptPassword(errOut)
		if code != exitOK {
			return code
		}
	}

	if err := st.WritePasswordHash(slug, auth.HashPassword(plain)); err != nil {
		fprintln(errOut, "error:", err)

		return exitError
	}

	fprintln(out, "password set for", slug)

	return exitOK
}

// cmdFlush consolidates every non-empty WAL into its snapshot, exactly
// what the server does at startup.
func cmdFlush(out, errOut io.Writer, args []string, env map[string]string) int {
	flagSet := flag.NewFlagSet("flush", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	dataDir := flagSet.String("data-dir", "", "Vault directory")
	help := flagSet.BoolP("help", "h", false, "Show help")

	if err := flagSet.Parse(args); err != nil {
		fprintln(errOut, "error:", err)

		return exitUsage
	}

	if *help {
		printFlushHelp(out)

		return exitOK
	}

	if flagSet.NArg() != 0 {
		fprintln(errOut, "error: flush takes no arguments")
		printFlushHelp(errOut)

		return exitUsage
	}

	st, lock, code := openVault(errOut, *dataDir, env)
	if code != exitOK {
		return code
	}
	defer func() { _ = lock.Release() }()

	slugs, err := st.WALSlugs()
	if err != nil {
		fprintln(errOut, "error:", err)

		return exitError
	}

	flushed := 0

	for _, slug := range slugs {
		loaded, err := st.LoadDoc(slug)
		if err != nil {
			fprintln(errOut, "error:", err)

			return exitError
		}

		if loaded.Doc.SinceFlush == 0 {
			continue
		}

		if err := st.WriteSnapshot(slug, loaded.Doc.Content); err != nil {
			fprintln(errOut, "error:", err)

			return exitError
		}

		fprintln(out, slug)
		flushed++
	}

	fprintln(out, "flushed", flushed, "document(s)")

	return exitOK
}

// openVault resolves the data directory (flag, then DATA_DIR, then the
// default), takes the vault lock, and builds the store.
func openVault(errOut io.Writer, flagDataDir string, env map[string]string) (*store.Store, *store.Lock, int) {
	dataDir := flagDataDir
	if dataDir == "" {
		dataDir = env["DATA_DIR"]
	}

	if dataDir == "" {
		dataDir = config.DefaultDataDir
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		fprintln(errOut, "error:", err)

		return nil, nil, exitError
	}

	lock, err := store.AcquireLock(dataDir)
	if err != nil {
		fprintln(errOut, "error:", err)

		return nil, nil, exitError
	}

	logger := slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: slog.LevelWarn}))

	return store.New(dataDir, logger), lock, exitOK
}

// promptPassword reads the password twice without echo, rejecting blank
// and mismatched input.
func promptPassword(errOut io.Writer) (string, int) {
	prompt := liner.NewLiner()
	defer func() { _ = prompt.Close() }()

	prompt.SetCtrlCAborts(true)

	password, err := prompt.PasswordPrompt("New password: ")
	if err != nil {
		if err == liner.ErrPromptAborted || err == io.EOF {
			fprintln(errOut, "aborted")

			return "", exitError
		}

		fprintln(errOut, "error:", err)

		return "", exitError
	}

	if password == "" {
		fprintln(errOut, "error: empty password, use --clear to remove one")

		return "", exitUsage
	}

	confirm, err := prompt.PasswordPrompt("Retype password: ")
	if err != nil {
		if err == liner.ErrPromptAborted || err == io.EOF {
			fprintln(errOut, "aborted")

			return "", exitError
		}

		fprintln(errOut, "error:", err)

		return "", exitError
	}

	if confirm != password {
		fprintln(errOut, "error: passwords do not match")

		return "", exitError
	}

	return password, exitOK
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

func printUsage(w io.Writer) {
	fprintln(w, `padctl - vaultpad vault administration

Usage: padctl <command> [options]

Commands:
  passwd <slug>   Set or clear a document password
  flush           Consolidate all pending WALs into snapshots

Run padctl <command> --help for command options.`)
}

func printPasswdHelp(w io.Writer) {
	fprintln(w, `Usage: padctl passwd [--data-dir <dir>] [--password <pw> | --clear] <slug>

Sets the password for a document. Without --password the value is
prompted for twice without echo. With --clear the password is removed
instead.

The vault must not be in use by a running server.`)
}

func printFlushHelp(w io.Writer) {
	fprintln(w, `Usage: padctl flush [--data-dir <dir>]

Replays every non-empty WAL and writes the resulting snapshots, the
same consolidation the server performs at startup and shutdown.

The vault must not be in use by a running server.`)
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// fusex-whoami resolves the identity a FUSE mount would forward a
// process's requests with, and prints it. It runs the same discovery
// as the mount: environment of the process and its parent, the global
// binding directory, default credential paths, then unix auth.
//
// By default it inspects itself, which shows what the invoking shell's
// environment resolves to.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/fusexauth/auth"
	"github.com/bureau-foundation/fusexauth/lib/codec"
	"github.com/bureau-foundation/fusexauth/lib/config"
	"github.com/bureau-foundation/fusexauth/lib/process"
	"github.com/bureau-foundation/fusexauth/lib/version"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		process.Fatal(err)
	}
}

// report is what fusex-whoami prints, in every format.
type report struct {
	PID        int                   `cbor:"pid"`
	UID        uint32                `cbor:"uid"`
	GID        uint32                `cbor:"gid"`
	Login      auth.LoginIdentifier  `cbor:"login"`
	Mechanism  string                `cbor:"mechanism"`
	XrdCreds   string                `cbor:"xrd_creds"`
	Command    []string              `cbor:"command,omitempty"`
	Executable string                `cbor:"executable,omitempty"`
	StartTime  uint64                `cbor:"start_time"`
	Rm         auth.RmInfo           `cbor:"rm"`
	Logbook    []*auth.LogbookRecord `cbor:"logbook,omitempty"`
}

func run(args []string, stdout, stderr io.Writer) error {
	var (
		pid         int
		uid, gid    uint32
		configPath  string
		reconnect   bool
		execveAlarm bool
		format      string
		verbose     bool
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("fusex-whoami", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.IntVar(&pid, "pid", os.Getpid(), "process to resolve")
	flagSet.Uint32Var(&uid, "uid", uint32(os.Getuid()), "uid the request is made as")
	flagSet.Uint32Var(&gid, "gid", uint32(os.Getgid()), "gid the request is made as")
	flagSet.StringVar(&configPath, "config", "", "config file (default: $"+config.EnvVar+", else built-in defaults)")
	flagSet.BoolVar(&reconnect, "reconnect", false, "force a fresh login")
	flagSet.BoolVar(&execveAlarm, "execve-alarm", false, "resolve as if the process were inside execve")
	flagSet.StringVar(&format, "format", "text", "output format: text, cbor, or diag")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "log at debug level and include the decision logbook")
	flagSet.BoolVar(&showVersion, "version", false, "print version and exit")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(stderr, flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(stderr, flagSet)
		return nil
	}
	if showVersion {
		fmt.Fprintf(stdout, "fusex-whoami %s\n", version.Info())
		return nil
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}

	switch format {
	case "text", "diag":
	case "cbor":
		if file, ok := stdout.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
			return errors.New("refusing to write binary CBOR to a terminal; use --format diag or redirect stdout")
		}
	default:
		return fmt.Errorf("unknown --format %q (want text, cbor, or diag)", format)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	group, err := auth.NewAuthenticationGroup(auth.GroupOptions{Config: cfg, Logger: logger})
	if err != nil {
		return err
	}
	defer group.Close()

	book := auth.NewLogbook(verbose || format != "text")
	handle, err := group.ProcessCache.RetrieveRequest(auth.Request{
		PID:         pid,
		UID:         uid,
		GID:         gid,
		Reconnect:   reconnect,
		ExecveAlarm: execveAlarm,
		Logbook:     book,
	})
	if err != nil {
		return fmt.Errorf("resolving pid %d: %w", pid, err)
	}
	defer handle.Release()

	result := buildReport(handle.Value(), uid, gid, book)
	switch format {
	case "cbor":
		return codec.NewEncoder(stdout).Encode(result)
	case "diag":
		data, err := codec.Marshal(result)
		if err != nil {
			return err
		}
		text, err := codec.Diagnose(data)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(stdout, text)
		return err
	default:
		return writeText(stdout, result, verbose, book)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	cfg, err := config.Load()
	if errors.Is(err, config.ErrNoConfig) {
		return config.Default(), nil
	}
	return cfg, err
}

func buildReport(snapshot *auth.ProcessSnapshot, uid, gid uint32, book *auth.Logbook) report {
	info := snapshot.Info()
	creds := snapshot.Identity().Credentials()
	mechanism := "unix"
	if creds.Initialized() {
		mechanism = creds.UserCredentials().Type.String()
	}
	return report{
		PID:        info.PID(),
		UID:        uid,
		GID:        gid,
		Login:      snapshot.Login(),
		Mechanism:  mechanism,
		XrdCreds:   snapshot.XrdCreds(),
		Command:    info.Cmd(),
		Executable: info.Exe(),
		StartTime:  info.StartTime(),
		Rm:         info.RmInfo(),
		Logbook:    book.Records(),
	}
}

func writeText(w io.Writer, result report, verbose bool, book *auth.Logbook) error {
	fmt.Fprintf(w, "pid:        %d\n", result.PID)
	fmt.Fprintf(w, "uid/gid:    %d/%d\n", result.UID, result.GID)
	fmt.Fprintf(w, "login:      %s\n", result.Login)
	fmt.Fprintf(w, "mechanism:  %s\n", result.Mechanism)
	fmt.Fprintf(w, "xrd creds:  %s\n", result.XrdCreds)
	if result.Executable != "" {
		fmt.Fprintf(w, "executable: %s\n", result.Executable)
	}
	if verbose {
		fmt.Fprintf(w, "\n%s", book)
	}
	return nil
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, `fusex-whoami: show which credentials a FUSE mount would use for a process.

Usage:
  fusex-whoami [flags]

Examples:
  # What does my shell resolve to?
  fusex-whoami

  # Inspect another process, with the decision trace
  fusex-whoami --pid 4242 --uid 1000 --gid 1000 --verbose

  # Machine-readable output
  fusex-whoami --format cbor > whoami.cbor

Flags:
`)
	flagSet.SetOutput(w)
	flagSet.PrintDefaults()
}

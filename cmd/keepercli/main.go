// Command keepercli is a reference client for the Sync Engine core: it
// supplies the Transport and Store adapters the core deliberately leaves
// out of scope (spec §1, §6) and a thin command dispatch around them,
// the same flag-subcommand shape the teacher's cmd/cli uses.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/and161185/gokeeper-core/internal/config"
	"github.com/and161185/gokeeper-core/internal/crypto/provider"
	"github.com/and161185/gokeeper-core/internal/obslog"
	"github.com/and161185/gokeeper-core/internal/payload"
	"github.com/and161185/gokeeper-core/internal/sync"
)

const version = "0.1.0-demo"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "keepercli:", err)
	os.Exit(1)
}

func run(args []string) error {
	if len(args) == 0 {
		usage()
		return nil
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "version":
		fmt.Println(version)
		return nil
	case "init":
		return cmdInit(rest)
	case "add-note":
		return cmdAddNote(rest)
	case "sync":
		return cmdSync(rest)
	case "items":
		return cmdItems(rest)
	case "tui":
		return cmdTUI(rest)
	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: keepercli <command> [flags]

commands:
  version                                          print the build version
  init -identifier NAME -password PW               create a fresh local identity
  add-note -title T [-body B] -password PW         stage a dirty note item locally
  sync [-addr URL] [-integrity=BOOL] -password PW  run one sync cycle (no -addr: local only)
  items -password PW                               list locally known items
  tui [-addr URL] -password PW                     sync and browse items interactively`)
}

func cmdInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	identifier := fs.String("identifier", "", "account identifier (e.g. email)")
	password := fs.String("password", "", "account password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *identifier == "" || *password == "" {
		return fmt.Errorf("init: -identifier and -password are required")
	}
	if err := initIdentity(*identifier, *password); err != nil {
		return err
	}
	fmt.Println("identity created at", identityPath())
	return nil
}

func cmdAddNote(args []string) error {
	fs := flag.NewFlagSet("add-note", flag.ExitOnError)
	title := fs.String("title", "", "note title")
	body := fs.String("body", "", "note body")
	password := fs.String("password", "", "account password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *title == "" {
		return fmt.Errorf("add-note: -title is required")
	}
	if *password == "" {
		return fmt.Errorf("add-note: -password is required")
	}

	ctx := context.Background()
	s, err := openSession(ctx, *password)
	if err != nil {
		return err
	}

	id, err := provider.UUID()
	if err != nil {
		return err
	}
	now := time.Now()
	content := map[string]any{"title": *title, "text": *body}
	p := payload.New(id.String(), "Note", content, payload.NewFieldSet(
		payload.FieldUUID, payload.FieldContentType, payload.FieldContent,
	))
	dirty := true
	p = payload.FromAnyObject(p, payload.Override{
		Dirty:      &dirty,
		CreatedAt:  &now,
		UpdatedAt:  &now,
		Fields:     payload.NewFieldSet(payload.FieldDirty, payload.FieldCreatedAt, payload.FieldUpdatedAt),
	})

	s.items.MapPayloadsToLocalItems([]*payload.Payload{p})
	fmt.Println("staged note", id.String())
	return nil
}

func cmdSync(args []string) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	addr := fs.String("addr", "", "sync server base URL (omit to sync against local storage only)")
	password := fs.String("password", "", "account password")
	checkIntegrity := fs.Bool("integrity", true, "ask the server to compute an integrity hash")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *password == "" {
		return fmt.Errorf("sync: -password is required")
	}

	ctx := context.Background()
	s, err := openSession(ctx, *password)
	if err != nil {
		return err
	}

	var transport sync.Transport
	if *addr != "" {
		transport = NewRestyTransport(*addr)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := obslog.New("keepercli")

	engine := sync.NewEngine(transport, s.store, s.proto, s.keys, s.items, cfg.Sync, log)
	engine.Subscribe(sync.EventFullSyncCompleted, func(sync.Event) {
		fmt.Println("sync completed")
	})
	engine.Subscribe(sync.EventEnterOutOfSync, func(sync.Event) {
		fmt.Println("entered out-of-sync recovery")
	})

	if err := engine.Sync(ctx, *checkIntegrity); err != nil {
		return err
	}
	return nil
}

func cmdItems(args []string) error {
	fs := flag.NewFlagSet("items", flag.ExitOnError)
	password := fs.String("password", "", "account password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *password == "" {
		return fmt.Errorf("items: -password is required")
	}

	ctx := context.Background()
	s, err := openSession(ctx, *password)
	if err != nil {
		return err
	}

	for _, it := range s.items.All() {
		fmt.Printf("%s\t%s\t%v\n", it.UUID(), it.ContentType(), it.Content())
	}
	return nil
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"microvision.org/internal/config"
	"microvision.org/internal/login"
	"microvision.org/internal/session"
	"microvision.org/internal/store/snapshot"
)

const usage = `usage: mvctl [flags] <command> [command flags]

commands:
  schema     print the detected catalog schema and table counts
  login      authenticate an operator and print the masked trace
  resolve    resolve invoice lines read from a file
  snapshot   copy the catalog into the offline SQLite snapshot
`

func main() {
	log.SetFlags(0)
	var (
		envFile = flag.String("env", ".env", "Path to an optional .env file")
		profile = flag.String("profile", "", "Profile label (default MV_PROFILE)")
		timeout = flag.Duration("timeout", 5*time.Minute, "Overall timeout")
	)
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usage); flag.PrintDefaults() }
	flag.Parse()

	if len(flag.Args()) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *profile != "" {
		cfg.ProfileName = *profile
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "schema":
		err = runSchema(ctx, cfg, args)
	case "login":
		err = runLogin(ctx, cfg, args)
	case "resolve":
		err = runResolve(ctx, cfg, args)
	case "snapshot":
		err = runSnapshot(ctx, cfg, args)
	default:
		log.Fatalf("unknown command %q", cmd)
	}
	if err != nil {
		log.Fatalf("mvctl %s: %v", cmd, err)
	}
}

func openSession(ctx context.Context, cfg config.Config) *session.Context {
	sess, err := session.OpenFromConfig(ctx, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	return sess
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("encode: %v", err)
	}
	fmt.Println(string(out))
}

func runSchema(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("schema", flag.ExitOnError)
	refresh := fs.Bool("refresh", false, "Ignore the cached schema")
	preview := fs.Bool("preview", false, "Also print sample rows")
	_ = fs.Parse(args)

	sess := openSession(ctx, cfg)
	defer sess.Close()

	s, err := sess.Schema(ctx, *refresh)
	if err != nil {
		return err
	}
	repo, err := sess.Catalog(ctx)
	if err != nil {
		return err
	}
	counts, err := repo.Counts(ctx)
	if err != nil {
		return err
	}
	out := map[string]any{"schema": s, "counts": counts}
	if *preview {
		p, err := repo.Preview(ctx)
		if err != nil {
			return err
		}
		out["preview"] = p
	}
	printJSON(out)
	return nil
}

func runLogin(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	user := fs.String("user", "", "Operator name (optional for password-only schemas)")
	password := fs.String("password", os.Getenv("MV_PASSWORD"), "Operator password (default MV_PASSWORD)")
	pcID := fs.String("pc", "", "Workstation id passed to login procedures")
	_ = fs.Parse(args)

	sess := openSession(ctx, cfg)
	defer sess.Close()

	mech, err := sess.LoginMechanism(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("mechanism: %s\n", mech.Name())

	op, loginErr := sess.Login(ctx, login.Credentials{Username: *user, Password: *password, PCID: *pcID})
	printJSON(map[string]any{
		"status": sess.LastLoginStatus(),
		"trace":  sess.LastTrace(),
	})
	if loginErr != nil {
		return loginErr
	}
	fmt.Printf("logged in as %s (id %d, via %s)\n", op.Login, op.ID, op.Via)
	return nil
}

func runSnapshot(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	path := fs.String("db", cfg.SnapshotDB, "Snapshot file (default MV_SNAPSHOT_DB)")
	_ = fs.Parse(args)
	if *path == "" {
		return fmt.Errorf("missing snapshot path: provide via -db or MV_SNAPSHOT_DB")
	}

	sess := openSession(ctx, cfg)
	defer sess.Close()
	repo, err := sess.Catalog(ctx)
	if err != nil {
		return err
	}

	snap, err := snapshot.Open(ctx, *path)
	if err != nil {
		return err
	}
	defer snap.Close()
	st, err := snap.Import(ctx, repo)
	if err != nil {
		return err
	}
	fmt.Printf("snapshot %s: %d materials, %d barcodes\n", *path, st.Materials, st.Barcodes)
	return nil
}

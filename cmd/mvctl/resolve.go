package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"microvision.org/internal/catalog"
	"microvision.org/internal/config"
	"microvision.org/internal/delivery"
	"microvision.org/internal/export"
	"microvision.org/internal/mapping"
	"microvision.org/internal/resolve"
	"microvision.org/internal/store/snapshot"
)

func runResolve(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("resolve", flag.ExitOnError)
	var (
		input    = fs.String("in", "", "Invoice lines file: token[<TAB>qty[<TAB>price[<TAB>sale price]]]")
		supplier = fs.String("supplier", "", "Supplier label for mapping scope")
		batch    = fs.Bool("batch", false, "Leave ambiguous lines unresolved instead of asking")
		out      = fs.String("export", "", "Write the Mistral import file to this path")
		storage  = fs.String("storage", export.DefaultStorage, "Storage column of the export")
		offline  = fs.Bool("offline", false, "Resolve against the snapshot (MV_SNAPSHOT_DB) only")
		push     = fs.Bool("push", false, "Create an OPEN delivery (dry-run unless MV_ENABLE_OPEN_DELIVERY)")
		operator = fs.Int64("operator", 0, "Operator id recorded on the delivery")
	)
	_ = fs.Parse(args)
	if *input == "" {
		return errors.New("missing -in")
	}

	f, err := os.Open(*input)
	if err != nil {
		return err
	}
	lines, err := parseLines(f)
	f.Close()
	if err != nil {
		return err
	}

	var lookup catalog.Lookup
	var writer *delivery.Writer
	if *offline {
		if cfg.SnapshotDB == "" {
			return errors.New("offline mode needs MV_SNAPSHOT_DB")
		}
		if *push {
			return errors.New("cannot push a delivery offline")
		}
		snap, err := snapshot.Open(ctx, cfg.SnapshotDB)
		if err != nil {
			return err
		}
		defer snap.Close()
		lookup = snap
	} else {
		sess := openSession(ctx, cfg)
		defer sess.Close()
		repo, err := sess.Catalog(ctx)
		if err != nil {
			return err
		}
		lookup = repo
		writer = delivery.NewWriter(sess, sess.Introspector(), sess.Profile(), cfg.EnableOpenDelivery)
	}

	engine := resolve.NewEngine(lookup, mapping.Open(cfg.MappingFile), resolve.WithNameLimit(cfg.NameLikeLimit))
	pass := resolve.NewPass(*supplier, lines, !*batch)

	in := bufio.NewScanner(os.Stdin)
	nd, err := engine.Run(ctx, pass)
	for err == nil && nd != nil {
		d := askDecision(in, os.Stdout, nd)
		nd, err = engine.Decide(ctx, pass, d)
		if errors.Is(err, resolve.ErrUnknownCode) || errors.Is(err, resolve.ErrInvalidDecision) {
			fmt.Printf("  %v\n", err)
			nd, err = engine.Run(ctx, pass)
		}
	}
	if errors.Is(err, resolve.ErrResolutionCancelled) {
		fmt.Println("resolution cancelled")
		return nil
	}
	if err != nil {
		return err
	}
	if !*batch {
		if err := askManualCodes(ctx, in, os.Stdout, engine, pass); err != nil {
			return err
		}
	}

	printReport(os.Stdout, pass)

	final := pass.Final()
	if *out != "" {
		if err := export.WriteFile(*out, *storage, final); err != nil {
			return err
		}
		fmt.Printf("exported %d lines to %s\n", len(final), *out)
	}
	if *push {
		res, err := writer.Push(ctx, *operator, final)
		if err != nil {
			return err
		}
		mode := "dry-run"
		if res.Live {
			mode = "written"
		}
		fmt.Printf("delivery %d (nomer %d) %s with %d lines\n", res.DeliveryID, res.Nomer, mode, len(res.Lines))
	}
	return nil
}

// parseLines reads one invoice line per row. Blank rows and rows starting
// with # are ignored.
func parseLines(r io.Reader) ([]resolve.Line, error) {
	var lines []resolve.Line
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		raw := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(raw) == "" || strings.HasPrefix(strings.TrimSpace(raw), "#") {
			continue
		}
		cols := strings.Split(raw, "\t")
		line := resolve.Line{Token: strings.TrimSpace(cols[0])}
		if line.Token == "" {
			return nil, fmt.Errorf("line %d: empty token", n)
		}
		if len(cols) > 1 {
			q := catalog.Decimal(cols[1])
			if strings.TrimSpace(cols[1]) != "" && !q.Valid {
				return nil, fmt.Errorf("line %d: bad quantity %q", n, cols[1])
			}
			line.Qty = q.Decimal
		}
		if len(cols) > 2 {
			line.Price = catalog.Decimal(cols[2])
		}
		if len(cols) > 3 {
			line.SalePrice = catalog.Decimal(cols[3])
		}
		lines = append(lines, line)
	}
	return lines, sc.Err()
}

// askDecision prompts until the answer is usable. End of input cancels.
func askDecision(in *bufio.Scanner, out io.Writer, nd *resolve.NeedsDecision) resolve.Decision {
	fmt.Fprintf(out, "\nline %d: %q matches several materials:\n", nd.Index+1, nd.Token)
	for i, c := range nd.Candidates {
		fmt.Fprintf(out, "  %d) %s  %s\n", i+1, c.Code, c.Name)
	}
	for {
		fmt.Fprint(out, "choose number, s=skip, c=cancel, m CODE=manual: ")
		if !in.Scan() {
			return resolve.Decision{Kind: resolve.DecideCancel}
		}
		answer := strings.TrimSpace(in.Text())
		switch {
		case answer == "s":
			return resolve.Decision{Kind: resolve.DecideSkip}
		case answer == "c":
			return resolve.Decision{Kind: resolve.DecideCancel}
		case strings.HasPrefix(answer, "m "):
			if code := strings.TrimSpace(answer[2:]); code != "" {
				return resolve.Decision{Kind: resolve.DecideManual, Code: code}
			}
		default:
			if i, err := strconv.Atoi(answer); err == nil && i >= 1 && i <= len(nd.Candidates) {
				return resolve.Decision{Kind: resolve.DecideChoose, Index: i - 1}
			}
		}
	}
}

// askManualCodes offers a code for every unresolved line. An empty answer
// skips the line; end of input skips the rest.
func askManualCodes(ctx context.Context, in *bufio.Scanner, out io.Writer, engine *resolve.Engine, pass *resolve.Pass) error {
	for _, o := range pass.Snapshot().Lines {
		if o.Status != resolve.StatusUnresolved {
			continue
		}
		fmt.Fprintf(out, "\nline %d: %q not found in the catalog\n", o.Index+1, o.Line.Token)
		for {
			fmt.Fprint(out, "material code (empty=skip): ")
			if !in.Scan() {
				return nil
			}
			code := strings.TrimSpace(in.Text())
			if code == "" {
				break
			}
			settled, err := engine.ApplyManual(ctx, pass, o.Index, code)
			if errors.Is(err, resolve.ErrUnknownCode) {
				fmt.Fprintf(out, "  no material with code %q\n", code)
				continue
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "  %s  %s\n", settled.Chosen.Code, settled.Chosen.Name)
			break
		}
	}
	return nil
}

func printReport(out io.Writer, p *resolve.Pass) {
	snap := p.Snapshot()
	for _, o := range snap.Lines {
		code := "-"
		if o.Chosen != nil {
			code = o.Chosen.Code
		}
		fmt.Fprintf(out, "%4d  %-10s %-16s %-12s %s\n", o.Index+1, o.Status, o.Via, code, o.Line.Token)
	}
	st := snap.Stats
	fmt.Fprintf(out, "\ntotal %d: resolved %d (mapping %d, catalog %d, chosen %d, manual %d), ambiguous %d, unresolved %d\n",
		st.Total, st.Resolved, st.ViaMapping, st.ViaDB, st.ViaHuman, st.Manual, st.Ambiguous, st.Unresolved)
}

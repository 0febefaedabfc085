package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strings"

	_ "modernc.org/sqlite"

	"voxelterrain.ai/internal/persistence/indexdb"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (required)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	at := fs.String("at", "", "chunk coordinate x,y,z (history, touching)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "saves"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if strings.TrimSpace(*worldID) == "" {
		fmt.Fprintln(os.Stderr, "missing -world")
		os.Exit(2)
	}
	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = indexdb.DefaultPath(*dataDir, *worldID)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	chunk := func() [3]int {
		k, err := parseVec3(*at)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad -at:", err)
			os.Exit(2)
		}
		return k
	}

	var rows []any
	switch q {
	case "saves":
		r, err := indexdb.RecentSaves(db, *worldID, *limit)
		exitOnErr(err)
		for _, x := range r {
			rows = append(rows, x)
		}
	case "history":
		r, err := indexdb.ChunkHistory(db, *worldID, chunk())
		exitOnErr(err)
		for _, x := range r {
			rows = append(rows, x)
		}
	case "edits":
		r, err := indexdb.RecentEdits(db, *worldID, *limit)
		exitOnErr(err)
		for _, x := range r {
			rows = append(rows, x)
		}
	case "touching":
		r, err := indexdb.EditsTouching(db, *worldID, chunk(), *limit)
		exitOnErr(err)
		for _, x := range r {
			rows = append(rows, x)
		}
	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		fmt.Fprintln(os.Stderr, "usage: admin db -world WORLD [-db PATH] [-at x,y,z] [-limit N] saves|history|edits|touching")
		os.Exit(2)
	}
	for _, r := range rows {
		printJSON(r)
	}
}

func exitOnErr(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
}

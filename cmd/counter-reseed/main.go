// counter-reseed recomputes the prefix counters from the data tables.
// Run it after out-of-band edits (bulk imports, manual SQL fixes) that may
// have left a counter behind the highest code actually in use.
//
// Usage:
//
//	go run ./cmd/counter-reseed --dry-run
//	go run ./cmd/counter-reseed --dry-run=false --confirm=RESEED [--prefix=LAP]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/resaleops/synergy_backend/config"
	"github.com/resaleops/synergy_backend/models"
)

func main() {
	prefixFlag := flag.String("prefix", "", "Only reseed this prefix (default: all known prefixes)")
	dryRun := flag.Bool("dry-run", true, "Show drift only (no writes)")
	confirm := flag.String("confirm", "", "Type RESEED to proceed when dry-run=false")
	actor := flag.String("actor", "counter-reseed", "Actor name recorded in the audit log")
	flag.Parse()

	if !*dryRun && strings.TrimSpace(*confirm) != "RESEED" {
		fmt.Fprintln(os.Stderr, "set --confirm=RESEED to proceed")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	ctx := context.Background()

	prefixes, err := collectPrefixes(*prefixFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "collect prefixes: %v\n", err)
		os.Exit(1)
	}
	if len(prefixes) == 0 {
		fmt.Println("no prefixes found")
		return
	}

	for _, prefix := range prefixes {
		current, err := models.GetCurrentNextSeq(db.WithContext(ctx), prefix)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: read counter: %v\n", prefix, err)
			os.Exit(1)
		}
		trueMax, err := models.TrueMaxSeq(db.WithContext(ctx), prefix)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: scan data: %v\n", prefix, err)
			os.Exit(1)
		}
		safeNext := trueMax + 1

		status := "ok"
		if current < safeNext {
			status = "BEHIND"
		}
		fmt.Printf("%-10s next_seq=%-8d true_max=%-8d safe_next=%-8d %s\n", prefix, current, trueMax, safeNext, status)

		if *dryRun || current >= safeNext {
			continue
		}
		next, err := models.ResetPrefixToDefault(ctx, prefix, *actor)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: reseed: %v\n", prefix, err)
			os.Exit(1)
		}
		fmt.Printf("%-10s reseeded to %d\n", prefix, next)
	}
}

// collectPrefixes returns either the single requested prefix or the union of
// prefixes known to the counter table and the category table.
func collectPrefixes(only string) ([]string, error) {
	if p := strings.TrimSpace(only); p != "" {
		return []string{strings.ToUpper(p)}, nil
	}

	db := config.GetDB()
	seen := make(map[string]bool)
	var prefixes []string

	var counterPrefixes []string
	if err := db.Model(&models.IdPrefixCounter{}).Order("prefix ASC").Pluck("prefix", &counterPrefixes).Error; err != nil {
		return nil, err
	}
	for _, p := range counterPrefixes {
		if !seen[p] {
			seen[p] = true
			prefixes = append(prefixes, p)
		}
	}

	var categoryPrefixes []string
	if err := db.Model(&models.Category{}).Order("prefix ASC").Pluck("prefix", &categoryPrefixes).Error; err != nil {
		return nil, err
	}
	for _, p := range categoryPrefixes {
		if !seen[p] {
			seen[p] = true
			prefixes = append(prefixes, p)
		}
	}
	return prefixes, nil
}

package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	"github.com/oarkflow/squealx"
	_ "modernc.org/sqlite"

	"github.com/oarkflow/iam"
	"github.com/oarkflow/iam/stores"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	switch cmd {
	case "export":
		handleExport()
	case "verify":
		handleVerify()
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("iam-audit - Audit ledger tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  iam-audit export <dsn> [tenant]  - Dump ledger entries as JSON lines")
	fmt.Println("  iam-audit verify <dsn> [tenant]  - Recompute and check the hash chain")
	fmt.Println()
	fmt.Println("Without a tenant, every tenant's chain is processed.")
}

func openLedger(dsn string) (*iam.Ledger, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db := squealx.NewDb(sqlDB, "sqlite", "iam-audit")
	return iam.NewLedger(stores.NewSQLLedgerStore(db)), nil
}

func targetTenants(ctx context.Context, ledger *iam.Ledger) ([]string, error) {
	if len(os.Args) >= 4 {
		return []string{os.Args[3]}, nil
	}
	return ledger.Tenants(ctx)
}

func handleExport() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: iam-audit export <dsn> [tenant]")
		os.Exit(1)
	}
	ctx := context.Background()
	ledger, err := openLedger(os.Args[2])
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	tenants, err := targetTenants(ctx, ledger)
	if err != nil {
		fmt.Printf("Error listing tenants: %v\n", err)
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	for _, tenant := range tenants {
		entries, err := ledger.Export(ctx, tenant)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error exporting %s: %v\n", tenant, err)
			os.Exit(1)
		}
		for _, e := range entries {
			if err := enc.Encode(e); err != nil {
				fmt.Fprintf(os.Stderr, "Error encoding entry: %v\n", err)
				os.Exit(1)
			}
		}
	}
}

func handleVerify() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: iam-audit verify <dsn> [tenant]")
		os.Exit(1)
	}
	ctx := context.Background()
	ledger, err := openLedger(os.Args[2])
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	tenants, err := targetTenants(ctx, ledger)
	if err != nil {
		fmt.Printf("Error listing tenants: %v\n", err)
		os.Exit(1)
	}
	broken := false
	for _, tenant := range tenants {
		idx, err := ledger.VerifyChain(ctx, tenant)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error verifying %s: %v\n", tenant, err)
			os.Exit(1)
		}
		if idx >= 0 {
			fmt.Printf("%s: BROKEN at entry %d\n", tenant, idx)
			broken = true
		} else {
			fmt.Printf("%s: ok\n", tenant)
		}
	}
	if broken {
		os.Exit(2)
	}
}

package main

import (
	"fmt"
	"os"

	"github.com/dialogport/tg-archiver/internal/archiver"
)

// validates dialog filter files before they reach the running service
func main() {
	if len(os.Args) < 2 {
		fmt.Println("usage: validate-filter <file> [<file>...]")
		os.Exit(0)
	}

	failed := false
	for _, path := range os.Args[1:] {
		filter, err := archiver.LoadDialogFilter(path)
		if err != nil {
			fmt.Printf("❌ %s: %v\n", path, err)
			failed = true
			continue
		}
		fmt.Printf("✅ %s is valid (%d include ids, %d exclude ids)\n",
			path, len(filter.IncludeIDs), len(filter.ExcludeIDs))
	}

	if failed {
		os.Exit(1)
	}
}

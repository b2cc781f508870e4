package main

import (
	"fmt"
	"os"

	"github.com/Kiryzsuuu/call-agent/internal/util"
)

// Prints a bcrypt hash for STAFF_PASSWORD_HASH.
func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: go run scripts/hash-password.go <password>\n")
		os.Exit(1)
	}

	hash, err := util.HashPassword(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(hash)
}

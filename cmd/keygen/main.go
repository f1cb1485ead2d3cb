// Command keygen mints credentials for the gateway config: a fresh API
// secret, or the password hash for an admin user entry.
package main

import (
	"fmt"
	"os"

	"github.com/sendgate/sendgate/internal/auth"
	"github.com/sendgate/sendgate/internal/session"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "password" {
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: keygen password <plaintext>")
			os.Exit(1)
		}
		fmt.Printf("Password hash: %s\n", session.HashPassword(os.Args[2]))
		fmt.Println("\nAdd this to your config.yaml:")
		fmt.Println("  admin:")
		fmt.Println("    users:")
		fmt.Println("      - email: \"ops@example.com\"")
		fmt.Printf("        password_hash: \"%s\"\n", session.HashPassword(os.Args[2]))
		fmt.Println("        is_admin: true")
		return
	}

	key, err := auth.GenerateKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "generating key: %v\n", err)
		os.Exit(1)
	}
	if !auth.ValidKeyFormat(key) {
		fmt.Fprintln(os.Stderr, "generated key failed the project-key format check, not printing it")
		os.Exit(1)
	}
	fmt.Printf("API secret: %s\n", key)
	fmt.Printf("Identity hash: %s\n", auth.HashIdentity(key))
	fmt.Println("\nAdd this to your config.yaml:")
	fmt.Println("  auth:")
	fmt.Printf("    api_secret: \"%s\"\n", key)
}

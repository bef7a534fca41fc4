// Command hash-generator prints bcrypt hashes for seeding the users table,
// e.g. for local accounts created outside the register endpoint.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/phrazzld/moments-api/internal/domain"
	"github.com/phrazzld/moments-api/internal/service/auth"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	cost := flag.Int("cost", bcrypt.DefaultCost, "bcrypt cost factor")
	flag.Parse()

	hasher := auth.NewBcryptVerifierWithCost(*cost)

	passwords := flag.Args()
	if len(passwords) == 0 {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				passwords = append(passwords, line)
			}
		}
	}

	failed := false
	for _, password := range passwords {
		if err := checkLength(password); err != nil {
			fmt.Fprintf(os.Stderr, "Skipping password: %v\n", err)
			failed = true
			continue
		}
		hash, err := hasher.Hash(password)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error generating hash: %v\n", err)
			failed = true
			continue
		}
		fmt.Println(hash)
	}

	if failed {
		os.Exit(1)
	}
}

// checkLength applies the same bounds as registration.
func checkLength(password string) error {
	switch {
	case len(password) < 12:
		return domain.ErrPasswordTooShort
	case len(password) > 72:
		return domain.ErrPasswordTooLong
	}
	return nil
}

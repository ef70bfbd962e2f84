//go:build ignore

// generate_hash.go prints the Argon2id hash of an admin API key.
// Usage: go run scripts/generate_hash.go <admin-key>
//
// Put the result in .env as ADMIN_KEY_HASH.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"

	"golang.org/x/crypto/argon2"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run scripts/generate_hash.go <admin-key>")
		os.Exit(1)
	}

	key := os.Args[1]
	if len(key) < 24 {
		fmt.Println("Admin key must be at least 24 characters")
		os.Exit(1)
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		fmt.Printf("Salt generation failed: %v\n", err)
		os.Exit(1)
	}

	var (
		memory      uint32 = 65536 // 64 MB
		iterations  uint32 = 3
		parallelism uint8  = 2
		keyLength   uint32 = 32
	)

	hash := argon2.IDKey([]byte(key), salt, iterations, memory, parallelism, keyLength)

	fmt.Printf("ADMIN_KEY_HASH=$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s\n",
		memory, iterations, parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash))
}

// Command genkeys prints freshly generated HASH_SALT and SECRET_KEY values
// in env-file form.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tessera/tessera/internal/auth"
)

func main() {
	saltBytes := flag.Int("salt-bytes", 16, "random bytes for HASH_SALT")
	keyBytes := flag.Int("key-bytes", 32, "random bytes for SECRET_KEY")
	flag.Parse()

	salt, err := auth.GenerateSecret(*saltBytes)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	key, err := auth.GenerateSecret(*keyBytes)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	fmt.Printf("HASH_SALT=%s\n", salt)
	fmt.Printf("SECRET_KEY=%s\n", key)
}

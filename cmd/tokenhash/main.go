// Command tokenhash creates a client secret and the argon2id hash to put
// into auth.clients[].secret_hash.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/KevinKickass/OpenTransportCore/internal/auth"
)

func main() {
	stdin := flag.Bool("stdin", false, "hash a secret read from stdin instead of generating one")
	flag.Parse()

	secret, err := readOrGenerate(*stdin)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	hash, err := auth.NewSecretHasher().Hash(secret)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if !*stdin {
		fmt.Println("secret:     ", secret)
	}
	fmt.Println("secret_hash:", hash)
}

func readOrGenerate(fromStdin bool) (string, error) {
	if !fromStdin {
		return auth.GenerateClientSecret()
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read secret: %w", err)
	}
	secret := strings.TrimSpace(line)
	if !auth.ValidateSecretFormat(secret) {
		return "", fmt.Errorf("secret must look like otc_<64 hex chars>")
	}
	return secret, nil
}

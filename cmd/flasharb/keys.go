package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/alanyoungcy/flasharb/internal/crypto"
)

// keyFlags are shared by the operator subcommands. Secrets default to the
// same environment variables the server reads.
type keyFlags struct {
	key      *string
	keyFile  *string
	password *string
}

func addKeyFlags(fs *flag.FlagSet) keyFlags {
	return keyFlags{
		key:      fs.String("key", os.Getenv("FLASHARB_OPERATOR_PRIVATE_KEY"), "hex private key"),
		keyFile:  fs.String("key-file", os.Getenv("FLASHARB_OPERATOR_KEY_FILE"), "encrypted key file"),
		password: fs.String("password", os.Getenv("FLASHARB_OPERATOR_KEY_PASSWORD"), "key file password"),
	}
}

func (k keyFlags) load() (string, error) {
	return crypto.LoadKey(crypto.KeySource{
		RawPrivateKey: *k.key,
		KeyFilePath:   *k.keyFile,
		Password:      *k.password,
	})
}

// runSign prints the signature headers for one admin request, ready to be
// passed to curl with -H.
func runSign(args []string) int {
	fs := flag.NewFlagSet("sign", flag.ExitOnError)
	keys := addKeyFlags(fs)
	chainID := fs.Int64("chain-id", 1, "chain id the server verifies against")
	method := fs.String("method", "POST", "HTTP method")
	path := fs.String("path", "", "request path, e.g. /api/system/pause")
	bodyPath := fs.String("body", "", "file holding the request body, - for stdin")
	_ = fs.Parse(args)

	if *path == "" {
		fmt.Fprintln(os.Stderr, "sign: -path is required")
		return 2
	}
	hexKey, err := keys.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign: %v\n", err)
		return 1
	}
	signer, err := crypto.NewRequestSigner(hexKey, *chainID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign: %v\n", err)
		return 1
	}

	var body []byte
	switch *bodyPath {
	case "":
	case "-":
		body, err = io.ReadAll(os.Stdin)
	default:
		body, err = os.ReadFile(*bodyPath)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign: read body: %v\n", err)
		return 1
	}

	headers, err := signer.Headers(*method, *path, body, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign: %v\n", err)
		return 1
	}
	names := make([]string, 0, len(headers))
	for k := range headers {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		fmt.Printf("%s: %s\n", k, headers[k])
	}
	return 0
}

// runEncryptKey seals a raw private key into a password-protected key file.
func runEncryptKey(args []string) int {
	fs := flag.NewFlagSet("encrypt-key", flag.ExitOnError)
	keys := addKeyFlags(fs)
	out := fs.String("out", "operator.key.json", "output path")
	_ = fs.Parse(args)

	if *keys.key == "" || *keys.password == "" {
		fmt.Fprintln(os.Stderr, "encrypt-key: -key and -password (or their environment variables) are required")
		return 2
	}
	signer, err := crypto.NewRequestSigner(*keys.key, 1)
	if err != nil {
		fmt.Fprintf(os.Stderr, "encrypt-key: %v\n", err)
		return 1
	}
	data, err := crypto.EncryptKey(*keys.key, *keys.password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "encrypt-key: %v\n", err)
		return 1
	}
	if err := os.WriteFile(*out, data, 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "encrypt-key: %v\n", err)
		return 1
	}
	fmt.Printf("wrote %s for %s\n", *out, signer.Address().Hex())
	return 0
}

// runHashAPIKey prints a bcrypt hash suitable for auth.api_key, so the
// config file never holds the read-only key in clear.
func runHashAPIKey(args []string) int {
	fs := flag.NewFlagSet("hash-api-key", flag.ExitOnError)
	key := fs.String("key", os.Getenv("FLASHARB_AUTH_API_KEY"), "API key to hash")
	cost := fs.Int("cost", bcrypt.DefaultCost, "bcrypt cost")
	_ = fs.Parse(args)

	if *key == "" {
		fmt.Fprintln(os.Stderr, "hash-api-key: -key is required")
		return 2
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(*key), *cost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hash-api-key: %v\n", err)
		return 1
	}
	fmt.Println(string(hash))
	return 0
}

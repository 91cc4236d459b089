package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lesaloon/taric/pkg/config"
	"github.com/lesaloon/taric/pkg/trust"
)

func runHealthCmd(args []string, stdout, stderr io.Writer) int {
	url := "http://localhost:8080/health"
	if len(args) > 0 {
		url = args[0]
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "health: %v\n", err)
		return 1
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		_, _ = fmt.Fprintf(stderr, "health: unexpected response %d %q\n", resp.StatusCode, body)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, "ok")
	return 0
}

// runKeygenCmd generates a device keypair and prints the seed (for the
// device) plus a ready-to-load trust fixture (for the server).
func runKeygenCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	deviceID := fs.String("device", "dev-1", "device identifier for the fixture")
	keyID := fs.String("key", "001-key1-1", "key identifier for the fixture")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		_, _ = fmt.Fprintf(stderr, "keygen: %v\n", err)
		return 1
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)

	fixture := trust.DeviceFixture{
		DeviceID:     *deviceID,
		Algo:         "ed25519",
		KeyID:        *keyID,
		PubkeyBase64: base64.StdEncoding.EncodeToString(pub),
	}
	fixtureJSON, err := json.MarshalIndent(fixture, "", "  ")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "keygen: %v\n", err)
		return 1
	}

	_, _ = fmt.Fprintf(stdout, "seed_hex: %s\n", hex.EncodeToString(seed))
	_, _ = fmt.Fprintf(stdout, "fixture:\n%s\n", fixtureJSON)
	return 0
}

// runTokenCmd mints an operator token from the configured secrets, for use
// against POST /export.
func runTokenCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	role := fs.String("role", "exporter", "role claim")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		_, _ = fmt.Fprintln(stderr, "usage: taric token [-role r] [-ttl d] <subject>")
		return 2
	}

	cfg := config.Load()
	tm, err := buildTokenManager(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "token: %v\n", err)
		return 1
	}
	token, err := tm.Mint(fs.Arg(0), *role, *ttl)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "token: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, token)
	return 0
}

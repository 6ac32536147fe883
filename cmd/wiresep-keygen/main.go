// Command wiresep-keygen generates or inspects the Curve25519 identities
// a fixture document needs for its interfaces and peers. The Enclave
// itself never touches this code path — it only ever receives key
// material over the wire from the Master — but a real deployment still
// needs something to produce that key material in the first place, the
// same way zerogo-cli's identity command stands apart from the agent
// daemon it configures.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/wiresep/enclave/internal/identity"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	os.Args = append(os.Args[:1], os.Args[2:]...)

	switch cmd {
	case "generate":
		cmdGenerate()
	case "show":
		cmdShow()
	case "version":
		fmt.Printf("wiresep-keygen %s\n", version)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: wiresep-keygen <command> [options]

Commands:
  generate    Generate a new identity, print its keys, and optionally save it
  show        Read a saved hex private key file and print its public half
  version     Show version
  help        Show this help`)
}

func cmdGenerate() {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	save := fs.String("save", "", "write the hex-encoded private key to this path")
	fs.Parse(os.Args[1:])

	id, err := identity.Generate()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("static_private_key: %s\n", id.PrivateKeyHex())
	fmt.Printf("static_public_key:  %s\n", id.PublicKeyHex())

	if *save != "" {
		if err := os.WriteFile(*save, []byte(id.PrivateKeyHex()), 0600); err != nil {
			fmt.Fprintf(os.Stderr, "error: save identity: %v\n", err)
			os.Exit(1)
		}
	}
}

func cmdShow() {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	path := fs.String("path", "/etc/wiresep/identity.key", "hex private key path")
	fs.Parse(os.Args[1:])

	id, err := identity.LoadHexPrivateKeyFile(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("fingerprint:        %s\n", id.Fingerprint())
	fmt.Printf("static_public_key:  %s\n", id.PublicKeyHex())
}

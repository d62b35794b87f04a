// Klingnet PoS staking daemon.
//
// Usage:
//
//	stakingd [--stake --keyfile=...]   Run node
//	stakingd --help                    Show help
//
// When staking is enabled the key file password is read from
// KLINGNET_STAKING_PASSWORD or, failing that, prompted for on the terminal.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/Klingon-tech/klingnet-pos/config"
	"github.com/Klingon-tech/klingnet-pos/internal/node"
)

const passwordEnv = "KLINGNET_STAKING_PASSWORD"

func main() {
	cfg, _, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var password []byte
	if cfg.Staking.Enabled {
		password, err = stakingPassword()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	n, err := node.New(cfg, password)
	for i := range password {
		password[i] = 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := n.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		n.Stop()
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	n.Stop()
}

func stakingPassword() ([]byte, error) {
	if pw := os.Getenv(passwordEnv); pw != "" {
		return []byte(pw), nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, errors.New("staking enabled: set " + passwordEnv + " or run from a terminal")
	}
	fmt.Fprint(os.Stderr, "Key file password: ")
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("read password: %w", err)
	}
	return pw, nil
}

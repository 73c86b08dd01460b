package main

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/argon2"

	"github.com/infodancer/pop3d/internal/adapter"
	"github.com/infodancer/pop3d/internal/adapter/memory"
	"github.com/infodancer/pop3d/internal/config"
)

// buildAdapterFactory wires the bundled in-memory reference adapter
// (internal/adapter/memory) to the single credential configured under
// [pop3d.demo_user]. No concrete production adapter ships with this
// repository; operators with a real message store supply their own
// adapter.Factory to pop3.StackConfig instead of calling this.
func buildAdapterFactory(cfg config.DemoUserConfig) (adapter.Factory, error) {
	if cfg.Username == "" {
		return nil, fmt.Errorf("no demo_user configured: nothing to authenticate against")
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating credential salt: %w", err)
	}

	const (
		timeCost   = 1
		memoryCost = 64 * 1024
		threads    = 4
		keyLen     = 32
	)
	creds := memory.Credentials{
		Username:   cfg.Username,
		Salt:       salt,
		Hash:       argon2.IDKey([]byte(cfg.Password), salt, timeCost, memoryCost, threads, keyLen),
		Time:       timeCost,
		Memory:     memoryCost,
		Threads:    threads,
		AllowShare: cfg.AllowShare,
	}

	return memory.NewFactory(creds, nil), nil
}

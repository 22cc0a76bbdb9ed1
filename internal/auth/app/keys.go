package app

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/meridianhq/meridian-auth/pkg/jwtx"
)

// initAuthKeys loads the Ed25519 signing key from disk when configured, or
// generates an ephemeral one. Ephemeral keys invalidate all outstanding
// tokens on restart, which is acceptable for dev and test but not for
// multi-instance deployments.
func initAuthKeys(cfg Config, logger *slog.Logger) (jwtx.Signer, *jwtx.KeySet, error) {
	var signer jwtx.Signer

	if cfg.SigningKeyFile != "" {
		pemBytes, err := os.ReadFile(cfg.SigningKeyFile)
		if err != nil {
			return nil, nil, fmt.Errorf("read signing key: %w", err)
		}
		s, err := jwtx.NewSignerEdDSA(cfg.SigningKeyID, pemBytes)
		if err != nil {
			return nil, nil, fmt.Errorf("parse signing key: %w", err)
		}
		signer = s
		logger.Info("loaded signing key", "kid", cfg.SigningKeyID, "file", cfg.SigningKeyFile)
	} else {
		s, err := jwtx.NewEphemeralSignerEdDSA(cfg.SigningKeyID)
		if err != nil {
			return nil, nil, fmt.Errorf("generate ephemeral signing key: %w", err)
		}
		signer = s
		logger.Warn("using ephemeral signing key, tokens will not survive restarts",
			"kid", cfg.SigningKeyID)
	}

	keys := jwtx.NewKeySet()
	keys.AddSigner(signer)

	return signer, keys, nil
}

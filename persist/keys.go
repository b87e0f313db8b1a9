package persist

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pbkdf2"

	"github.com/coterm/coterm-core/logger"
	"github.com/coterm/coterm-core/paths"
)

// buildSecret is compiled into the binary and mixed into the signing key.
// Overridable at build time:
//
//	go build -ldflags "-X github.com/coterm/coterm-core/persist.buildSecret=..."
var buildSecret = "coterm-record-hmac-v1"

const (
	// keyIterations is the PBKDF2 iteration count.
	keyIterations = 150_000
	// keyLength is the derived key size in bytes.
	keyLength = 32
	// machineSecretLength is the size of the per-machine random secret.
	machineSecretLength = 32
)

// DeriveKey produces the HMAC signing key for session records. The key mixes
// the build secret, a per-machine random secret, and the hostname through
// PBKDF2-SHA256, so records signed on one machine do not verify on another.
//
// When the machine secret cannot be created or read, derivation falls back
// to the build secret and hostname alone. That key is weaker; the
// degradation is logged and persistence continues.
func DeriveKey() ([]byte, error) {
	log := logger.WithComponent("persist")

	secret := loadOrCreateMachineSecret(log)

	hostname, err := os.Hostname()
	if err != nil {
		log.Warn("hostname lookup failed, using fallback", "error", err)
		hostname = "localhost"
	}

	password := make([]byte, 0, len(buildSecret)+len(secret))
	password = append(password, buildSecret...)
	password = append(password, secret...)

	salt := []byte("coterm-session-record:" + hostname)
	return pbkdf2.Key(password, salt, keyIterations, keyLength, sha256.New), nil
}

// loadOrCreateMachineSecret returns the per-machine secret, creating it with
// mode 0600 on first use. On any failure it returns nil and logs that key
// derivation is degraded.
func loadOrCreateMachineSecret(log *slog.Logger) []byte {
	path, err := paths.MachineSecretPath()
	if err != nil {
		log.Warn("machine secret path unavailable, deriving weak key", "error", err)
		return nil
	}

	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) == machineSecretLength {
			return data
		}
		log.Warn("machine secret has wrong length, regenerating", "path", path, "length", len(data))
	} else if !os.IsNotExist(err) {
		log.Warn("machine secret unreadable, deriving weak key", "path", path, "error", err)
		return nil
	}

	secret, err := generateMachineSecret(path)
	if err != nil {
		log.Warn("failed to create machine secret, deriving weak key", "path", path, "error", err)
		return nil
	}
	log.Info("machine secret created", "path", path)
	return secret
}

func generateMachineSecret(path string) ([]byte, error) {
	secret := make([]byte, machineSecretLength)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate random secret: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create secret directory: %w", err)
	}
	if err := os.WriteFile(path, secret, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write machine secret: %w", err)
	}
	return secret, nil
}

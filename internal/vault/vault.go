// Package vault implements a read-only, best-effort secret resolver
// with a five-tier fallback chain. A failed lookup at any tier is a
// miss, not an error — a failed decrypt falls through to an empty
// cache rather than a fatal error.
package vault

import (
	"bufio"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/pbkdf2"

	"github.com/alphabridge/runtime/internal/corelog"
)

const (
	pbkdf2Iterations = 600_000
	masterPasswordEnvVar = "VAULT_PASSWORD"
)

// Client resolves secrets through a five-tier chain. It caches a
// one-shot decrypt of the encrypted vault file for the lifetime of the
// process.
type Client struct {
	mu   sync.Mutex
	once sync.Once

	vaultPath   string
	saltPath    string
	callerDir   string
	logger      corelog.Logger
	decrypted   map[string]string
	decryptTried bool
}

// New creates a vault Client. vaultPath/saltPath point at the encrypted
// KV store and its side-by-side salt file, typically at a fixed
// user-home path. callerDir is the directory .env auto-discovery is
// anchored on (tier 4).
func New(vaultPath, saltPath, callerDir string, logger corelog.Logger) *Client {
	if logger == nil {
		logger = corelog.NoOpLogger{}
	}
	return &Client{
		vaultPath: vaultPath,
		saltPath:  saltPath,
		callerDir: callerDir,
		logger:    logger,
	}
}

// GetSecret resolves key through: (1) the encrypted vault, (2) the
// environment, (3) a legacy .env in callerDir, (4) .env auto-discovery in
// callerDir and one level up, (5) def. A miss at any tier falls through to
// the next (only vault-load failures are logged); only exhausting all
// five returns def.
func (c *Client) GetSecret(key, def string) string {
	if v, ok := c.fromVault(key); ok {
		return v
	}
	if v := os.Getenv(key); v != "" {
		return v
	}
	if v, ok := c.fromEnvFile(filepath.Join(c.callerDir, ".env"), key); ok {
		return v
	}
	if v, ok := c.fromDiscoveredEnvFile(key); ok {
		return v
	}
	return def
}

func (c *Client) fromVault(key string) (string, bool) {
	c.once.Do(c.loadVault)

	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.decrypted[key]
	return v, ok
}

func (c *Client) loadVault() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decryptTried = true
	c.decrypted = map[string]string{}

	if c.vaultPath == "" {
		return
	}

	ciphertext, err := os.ReadFile(c.vaultPath)
	if err != nil {
		c.logger.Debug("vault file unreadable, falling through to env", map[string]interface{}{
			"operation": "vault_load",
			"path":      c.vaultPath,
			"error":     err.Error(),
		})
		return
	}

	salt, err := os.ReadFile(c.saltPath)
	if err != nil {
		c.logger.Warn("vault salt file unreadable, decrypt skipped", map[string]interface{}{
			"operation": "vault_load",
			"path":      c.saltPath,
			"error":     err.Error(),
		})
		return
	}

	password := c.masterPassword()
	if password == "" {
		c.logger.Warn("vault master password not configured, decrypt skipped", map[string]interface{}{
			"operation": "vault_load",
		})
		return
	}

	plaintext, err := decrypt(ciphertext, salt, password)
	if err != nil {
		c.logger.Warn("vault decrypt failed, falling through to env", map[string]interface{}{
			"operation": "vault_load",
			"error":     err.Error(),
		})
		return
	}

	var kv map[string]string
	if err := json.Unmarshal(plaintext, &kv); err != nil {
		c.logger.Warn("vault payload malformed, falling through to env", map[string]interface{}{
			"operation": "vault_load",
			"error":     err.Error(),
		})
		return
	}
	c.decrypted = kv
}

// masterPassword reads VAULT_PASSWORD, falling back to an untracked
// plaintext file adjacent to the caller.
func (c *Client) masterPassword() string {
	if pw := os.Getenv(masterPasswordEnvVar); pw != "" {
		return pw
	}
	data, err := os.ReadFile(filepath.Join(c.callerDir, ".vault_password"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func decrypt(ciphertext, salt []byte, password string) ([]byte, error) {
	if len(ciphertext) < aes.BlockSize {
		return nil, errors.New("ciphertext too short")
	}
	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, 32, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext shorter than nonce")
	}
	nonce, body := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, body, nil)
}

// Seal is the inverse of decrypt: it encrypts plaintext into a new store
// with a freshly generated salt.
func Seal(plaintext []byte, password string) (ciphertext, salt []byte, err error) {
	salt = make([]byte, 16)
	if _, err = rand.Read(salt); err != nil {
		return nil, nil, err
	}
	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, 32, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err = rand.Read(nonce); err != nil {
		return nil, nil, err
	}
	ciphertext = gcm.Seal(nonce, nonce, plaintext, nil)
	return ciphertext, salt, nil
}

func (c *Client) fromEnvFile(path, key string) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()
	return scanEnvFile(f, key)
}

// fromDiscoveredEnvFile implements tier 4: look for .env in callerDir
// and one level up — a literal two-hop search rather than a generic
// upward walk.
func (c *Client) fromDiscoveredEnvFile(key string) (string, bool) {
	candidates := []string{
		filepath.Join(c.callerDir, ".env"),
		filepath.Join(filepath.Dir(c.callerDir), ".env"),
	}
	for _, path := range candidates {
		if v, ok := c.fromEnvFile(path, key); ok {
			return v, true
		}
	}
	return "", false
}

func scanEnvFile(f *os.File, key string) (string, bool) {
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		if strings.TrimSpace(parts[0]) == key {
			return strings.Trim(strings.TrimSpace(parts[1]), `"'`), true
		}
	}
	return "", false
}

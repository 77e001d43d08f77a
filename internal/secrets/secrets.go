// Package secrets seals the credentials in primd.toml and prim-robot.toml.
//
// A sealed value is written as ENC[<base64(age-ciphertext)>]. Config loading
// opens every sealed value before unmarshalling, including the passwords in
// the [[nats.robots]] account list.
package secrets

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"filippo.io/age"
	"github.com/spf13/viper"
)

const (
	encPrefix = "ENC["
	encSuffix = "]"

	// DefaultKeyFilename is the identity file looked up under ~/.config/primbus.
	DefaultKeyFilename = "age.key"

	// EnvAgeKey holds a raw AGE-SECRET-KEY-1... string.
	EnvAgeKey = "PRIMBUS_AGE_KEY"

	// EnvAgeKeyFile holds a path to an age identity file.
	EnvAgeKeyFile = "PRIMBUS_AGE_KEY_FILE"

	// RobotsKey holds the per-robot NATS accounts; each entry's password is
	// a secret.
	RobotsKey = "nats.robots"
)

// Keys are the scalar config keys that carry credentials.
var Keys = []string{
	"security.command_secret",
	"nats.token",
	"nats.password",
	"web.password",
}

// ErrNoIdentity is returned when sealed values exist but no age identity
// is configured.
var ErrNoIdentity = errors.New("no age identity configured; set " + EnvAgeKey + ", " + EnvAgeKeyFile + ", or secrets.identity")

// IsSecretKey reports whether key is one primctl may seal in place.
func IsSecretKey(key string) bool {
	return slices.Contains(Keys, strings.ToLower(key))
}

// IsEncrypted reports whether value is wrapped in ENC[...].
func IsEncrypted(value string) bool {
	return len(value) > len(encPrefix)+len(encSuffix) &&
		strings.HasPrefix(value, encPrefix) && strings.HasSuffix(value, encSuffix)
}

// Encrypt seals plaintext for the recipients.
func Encrypt(plaintext string, recipients ...age.Recipient) (string, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipients...)
	if err != nil {
		return "", fmt.Errorf("create age encryptor: %w", err)
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		return "", fmt.Errorf("write plaintext: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize encryption: %w", err)
	}
	return encPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()) + encSuffix, nil
}

// Decrypt opens a sealed value with any of the identities.
func Decrypt(enc string, identities ...age.Identity) (string, error) {
	if !IsEncrypted(enc) {
		return "", errors.New("value is not sealed (missing ENC[...] wrapper)")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(enc[len(encPrefix) : len(enc)-len(encSuffix)])
	if err != nil {
		return "", fmt.Errorf("decode base64: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(ciphertext), identities...)
	if err != nil {
		return "", fmt.Errorf("age decrypt: %w", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read decrypted data: %w", err)
	}
	return string(plaintext), nil
}

// DefaultKeyPath is ~/.config/primbus/age.key.
func DefaultKeyPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config", "primbus", DefaultKeyFilename)
}

// Keyring is the age identity a config's sealed values are opened with.
type Keyring struct {
	identities []age.Identity
	source     string
}

// LoadKeyring finds the identity for the config in v. It returns (nil, nil)
// when none is configured.
//
// Priority: PRIMBUS_AGE_KEY, PRIMBUS_AGE_KEY_FILE, secrets.identity, then
// ~/.config/primbus/age.key.
func LoadKeyring(v *viper.Viper) (*Keyring, error) {
	if raw := os.Getenv(EnvAgeKey); raw != "" {
		id, err := age.ParseX25519Identity(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", EnvAgeKey, err)
		}
		return &Keyring{identities: []age.Identity{id}, source: EnvAgeKey}, nil
	}
	if path := os.Getenv(EnvAgeKeyFile); path != "" {
		return ReadKeyring(path)
	}
	if path := v.GetString("secrets.identity"); path != "" {
		return ReadKeyring(path)
	}
	path := DefaultKeyPath()
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}
	return ReadKeyring(path)
}

// ReadKeyring parses an age identity file.
func ReadKeyring(path string) (*Keyring, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open identity file: %w", err)
	}
	defer f.Close()
	ids, err := age.ParseIdentities(f)
	if err != nil {
		return nil, fmt.Errorf("parse identity file %s: %w", path, err)
	}
	return &Keyring{identities: ids, source: path}, nil
}

// Source names where the identity came from.
func (k *Keyring) Source() string { return k.source }

// Recipient is the public half of the first X25519 identity.
func (k *Keyring) Recipient() (*age.X25519Recipient, error) {
	for _, id := range k.identities {
		if x, ok := id.(*age.X25519Identity); ok {
			return x.Recipient(), nil
		}
	}
	return nil, fmt.Errorf("identity from %s has no X25519 key", k.source)
}

// Seal encrypts plaintext to this keyring and checks that it opens again.
func (k *Keyring) Seal(plaintext string) (string, error) {
	r, err := k.Recipient()
	if err != nil {
		return "", err
	}
	enc, err := Encrypt(plaintext, r)
	if err != nil {
		return "", err
	}
	if got, err := k.Open(enc); err != nil || got != plaintext {
		return "", fmt.Errorf("sealed value does not open with %s", k.source)
	}
	return enc, nil
}

// Open returns the plaintext of a sealed value. Plain values pass through.
func (k *Keyring) Open(value string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}
	return Decrypt(value, k.identities...)
}

// DecryptConfig opens every sealed value in v, scalar keys and robot
// account passwords alike. It fails when sealed values are present but no
// identity can be resolved.
func DecryptConfig(v *viper.Viper) error {
	var keys []string
	for _, key := range v.AllKeys() {
		if IsEncrypted(v.GetString(key)) {
			keys = append(keys, key)
		}
	}
	robots, sealedRobots := robotEntries(v)
	if len(keys) == 0 && sealedRobots == 0 {
		return nil
	}

	k, err := LoadKeyring(v)
	if err != nil {
		return fmt.Errorf("resolve encryption identity: %w", err)
	}
	if k == nil {
		return fmt.Errorf("config contains sealed values: %w", ErrNoIdentity)
	}

	for _, key := range keys {
		plaintext, err := k.Open(v.GetString(key))
		if err != nil {
			return fmt.Errorf("decrypt config key %q: %w", key, err)
		}
		v.Set(key, plaintext)
	}
	if sealedRobots > 0 {
		for i, r := range robots {
			pw, _ := r["password"].(string)
			plaintext, err := k.Open(pw)
			if err != nil {
				return fmt.Errorf("decrypt %s[%d].password: %w", RobotsKey, i, err)
			}
			r["password"] = plaintext
		}
		v.Set(RobotsKey, robots)
	}
	return nil
}

// robotEntries copies the [[nats.robots]] tables and counts the sealed
// passwords among them.
func robotEntries(v *viper.Viper) ([]map[string]any, int) {
	raw, ok := v.Get(RobotsKey).([]any)
	if !ok {
		return nil, 0
	}
	var out []map[string]any
	sealed := 0
	for _, e := range raw {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		cp := make(map[string]any, len(m))
		for key, val := range m {
			cp[key] = val
		}
		if pw, _ := cp["password"].(string); IsEncrypted(pw) {
			sealed++
		}
		out = append(out, cp)
	}
	return out, sealed
}

// State is how one credential sits in a config file.
type State string

const (
	StatePlain  State = "plaintext"
	StateSealed State = "sealed"
	StateBroken State = "unreadable"
)

// Finding describes one credential found by Audit.
type Finding struct {
	Key   string
	State State
	Err   error
}

// Audit reports every credential set in v. A nil keyring marks all sealed
// values unreadable.
func Audit(v *viper.Viper, k *Keyring) []Finding {
	var out []Finding
	check := func(key, value string) {
		if value == "" {
			return
		}
		f := Finding{Key: key, State: StatePlain}
		if IsEncrypted(value) {
			f.State = StateSealed
			if k == nil {
				f.State, f.Err = StateBroken, ErrNoIdentity
			} else if _, err := k.Open(value); err != nil {
				f.State, f.Err = StateBroken, err
			}
		}
		out = append(out, f)
	}
	for _, key := range Keys {
		check(key, v.GetString(key))
	}
	robots, _ := robotEntries(v)
	for i, r := range robots {
		pw, _ := r["password"].(string)
		check(fmt.Sprintf("%s[%d].password", RobotsKey, i), pw)
	}
	return out
}

// WriteKey sets key to value in the TOML file at path, creating the file if
// needed. Other settings are kept as written; nothing is decrypted.
func WriteKey(path, key, value string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetConfigPermissions(0o600)
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read %s: %w", path, err)
	}
	v.Set(key, value)
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// ReadFile loads a config file as-is, sealed values left sealed.
func ReadFile(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return v, nil
}

// GenerateKeyFile writes a new X25519 identity to path and returns its
// recipient. An existing file is never replaced.
func GenerateKeyFile(path string) (*age.X25519Recipient, error) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("key file already exists: %s (remove it first to regenerate)", path)
		}
		return nil, fmt.Errorf("create key file: %w", err)
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "# created: %s\n# public key: %s\n%s\n",
		time.Now().Format(time.RFC3339), id.Recipient(), id)
	if err != nil {
		return nil, fmt.Errorf("write key file: %w", err)
	}
	return id.Recipient(), nil
}

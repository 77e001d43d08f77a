package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"filippo.io/age"
	"github.com/spf13/viper"
)

func TestIsEncrypted(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"ENC[abc123]", true},
		{"plaintext", false},
		{"", false},
		{"ENC[]", false},
		{"ENC[abc", false},
		{"enc[abc]", false},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			if got := IsEncrypted(tt.value); got != tt.want {
				t.Errorf("IsEncrypted(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestEncryptDecrypt_Roundtrip(t *testing.T) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatal(err)
	}

	encrypted, err := Encrypt("command-secret", identity.Recipient())
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if !IsEncrypted(encrypted) {
		t.Fatalf("not wrapped: %q", encrypted)
	}

	decrypted, err := Decrypt(encrypted, identity)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if decrypted != "command-secret" {
		t.Errorf("got %q", decrypted)
	}
}

func TestDecrypt_WrongIdentity(t *testing.T) {
	a, _ := age.GenerateX25519Identity()
	b, _ := age.GenerateX25519Identity()

	encrypted, err := Encrypt("x", a.Recipient())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decrypt(encrypted, b); err == nil {
		t.Fatal("expected error with wrong identity")
	}
}

func TestDecryptConfig_FromEnvKey(t *testing.T) {
	identity, _ := age.GenerateX25519Identity()
	t.Setenv(EnvAgeKey, identity.String())
	t.Setenv(EnvAgeKeyFile, "")

	enc, err := Encrypt("hunter2", identity.Recipient())
	if err != nil {
		t.Fatal(err)
	}

	v := viper.New()
	v.Set("security.command_secret", enc)
	v.Set("nats.url", "nats://127.0.0.1:4222")

	if err := DecryptConfig(v); err != nil {
		t.Fatalf("DecryptConfig: %v", err)
	}
	if got := v.GetString("security.command_secret"); got != "hunter2" {
		t.Errorf("command_secret = %q", got)
	}
	if got := v.GetString("nats.url"); got != "nats://127.0.0.1:4222" {
		t.Errorf("plain value changed: %q", got)
	}
}

func TestDecryptConfig_FromKeyFile(t *testing.T) {
	identity, _ := age.GenerateX25519Identity()
	keyPath := filepath.Join(t.TempDir(), "age.key")
	if err := os.WriteFile(keyPath, []byte(identity.String()+"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvAgeKey, "")
	t.Setenv(EnvAgeKeyFile, keyPath)

	enc, _ := Encrypt("token", identity.Recipient())
	v := viper.New()
	v.Set("nats.token", enc)

	if err := DecryptConfig(v); err != nil {
		t.Fatalf("DecryptConfig: %v", err)
	}
	if v.GetString("nats.token") != "token" {
		t.Errorf("nats.token = %q", v.GetString("nats.token"))
	}
}

func TestDecryptConfig_NoIdentity(t *testing.T) {
	t.Setenv(EnvAgeKey, "")
	t.Setenv(EnvAgeKeyFile, "")
	t.Setenv("HOME", t.TempDir())

	v := viper.New()
	v.Set("security.command_secret", "ENC[YWJj]")
	if err := DecryptConfig(v); err == nil {
		t.Fatal("expected error when encrypted values present without identity")
	}
}

func TestDecryptConfig_NothingEncrypted(t *testing.T) {
	v := viper.New()
	v.Set("security.command_secret", "plain")
	if err := DecryptConfig(v); err != nil {
		t.Fatalf("DecryptConfig: %v", err)
	}
}

func writeIdentity(t *testing.T) (*age.X25519Identity, string) {
	t.Helper()
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "age.key")
	if err := os.WriteFile(path, []byte(identity.String()+"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	return identity, path
}

func TestDecryptConfig_RobotPasswords(t *testing.T) {
	identity, keyPath := writeIdentity(t)
	t.Setenv(EnvAgeKey, "")
	t.Setenv(EnvAgeKeyFile, keyPath)

	enc, _ := Encrypt("keeper-pw", identity.Recipient())
	path := filepath.Join(t.TempDir(), "primd.toml")
	toml := `
[[nats.robots]]
name = "keeper"
robot_id = 1
password = "` + enc + `"

[[nats.robots]]
name = "striker"
robot_id = 2
password = "plain-pw"
`
	if err := os.WriteFile(path, []byte(toml), 0600); err != nil {
		t.Fatal(err)
	}
	v, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := DecryptConfig(v); err != nil {
		t.Fatalf("DecryptConfig: %v", err)
	}

	var cfg struct {
		NATS struct {
			Robots []struct {
				Name     string `mapstructure:"name"`
				Password string `mapstructure:"password"`
			} `mapstructure:"robots"`
		} `mapstructure:"nats"`
	}
	if err := v.Unmarshal(&cfg); err != nil {
		t.Fatal(err)
	}
	if len(cfg.NATS.Robots) != 2 {
		t.Fatalf("robots = %d, want 2", len(cfg.NATS.Robots))
	}
	if cfg.NATS.Robots[0].Password != "keeper-pw" {
		t.Errorf("keeper password = %q", cfg.NATS.Robots[0].Password)
	}
	if cfg.NATS.Robots[1].Password != "plain-pw" {
		t.Errorf("striker password = %q", cfg.NATS.Robots[1].Password)
	}
}

func TestKeyringSeal(t *testing.T) {
	_, keyPath := writeIdentity(t)
	k, err := ReadKeyring(keyPath)
	if err != nil {
		t.Fatal(err)
	}
	if k.Source() != keyPath {
		t.Errorf("Source = %q", k.Source())
	}

	enc, err := k.Seal("s3cret")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if got, err := k.Open(enc); err != nil || got != "s3cret" {
		t.Fatalf("Open = %q, %v", got, err)
	}
	if got, _ := k.Open("plain"); got != "plain" {
		t.Errorf("plain value changed: %q", got)
	}

	_, otherPath := writeIdentity(t)
	other, _ := ReadKeyring(otherPath)
	if _, err := other.Open(enc); err == nil {
		t.Error("expected error opening with a different key")
	}
}

func TestIsSecretKey(t *testing.T) {
	for _, key := range []string{"security.command_secret", "NATS.Token", "nats.password", "web.password"} {
		if !IsSecretKey(key) {
			t.Errorf("IsSecretKey(%q) = false", key)
		}
	}
	for _, key := range []string{"nats.url", "web.listen", ""} {
		if IsSecretKey(key) {
			t.Errorf("IsSecretKey(%q) = true", key)
		}
	}
}

func TestWriteKeyKeepsOtherSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "primd.toml")
	if err := os.WriteFile(path, []byte("[nats]\nhost = \"0.0.0.0\"\nport = 4333\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := WriteKey(path, "security.command_secret", "ENC[abc]"); err != nil {
		t.Fatalf("WriteKey: %v", err)
	}

	v, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := v.GetString("security.command_secret"); got != "ENC[abc]" {
		t.Errorf("command_secret = %q", got)
	}
	if v.GetString("nats.host") != "0.0.0.0" || v.GetInt("nats.port") != 4333 {
		t.Errorf("nats settings lost: host=%q port=%d", v.GetString("nats.host"), v.GetInt("nats.port"))
	}
}

func TestWriteKeyCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prim-robot.toml")
	if err := WriteKey(path, "nats.password", "ENC[xyz]"); err != nil {
		t.Fatalf("WriteKey: %v", err)
	}
	v, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := v.GetString("nats.password"); got != "ENC[xyz]" {
		t.Errorf("nats.password = %q", got)
	}
}

func TestAudit(t *testing.T) {
	identity, keyPath := writeIdentity(t)
	k, _ := ReadKeyring(keyPath)
	good, _ := Encrypt("ok", identity.Recipient())

	stranger, _ := age.GenerateX25519Identity()
	bad, _ := Encrypt("nope", stranger.Recipient())

	v := viper.New()
	v.Set("security.command_secret", good)
	v.Set("nats.token", "plain-token")
	v.Set("web.password", bad)
	v.Set(RobotsKey, []any{map[string]any{"name": "keeper", "password": good}})

	got := map[string]State{}
	for _, f := range Audit(v, k) {
		got[f.Key] = f.State
		if f.State == StateBroken && f.Err == nil {
			t.Errorf("%s: unreadable without error", f.Key)
		}
	}
	want := map[string]State{
		"security.command_secret": StateSealed,
		"nats.token":              StatePlain,
		"web.password":            StateBroken,
		"nats.robots[0].password": StateSealed,
	}
	if len(got) != len(want) {
		t.Fatalf("findings = %v, want %v", got, want)
	}
	for key, state := range want {
		if got[key] != state {
			t.Errorf("%s = %q, want %q", key, got[key], state)
		}
	}

	for _, f := range Audit(v, nil) {
		if f.Key == "security.command_secret" && f.State != StateBroken {
			t.Errorf("without keyring: %s = %q", f.Key, f.State)
		}
	}
}

func TestGenerateKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "age.key")
	recipient, err := GenerateKeyFile(path)
	if err != nil {
		t.Fatalf("GenerateKeyFile: %v", err)
	}
	k, err := ReadKeyring(path)
	if err != nil {
		t.Fatal(err)
	}
	r, err := k.Recipient()
	if err != nil {
		t.Fatal(err)
	}
	if r.String() != recipient.String() {
		t.Errorf("recipient = %s, want %s", r, recipient)
	}
	if info, _ := os.Stat(path); info.Mode().Perm() != 0600 {
		t.Errorf("mode = %v", info.Mode().Perm())
	}
	if _, err := GenerateKeyFile(path); err == nil {
		t.Error("expected error when key file exists")
	}
}

package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"strings"
	"testing"
	"time"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestGenerate(t *testing.T) {
	g, err := NewGenerator(GeneratorConfig{
		SharedSecret:   "north-remembers",
		TTL:            time.Hour,
		UsernamePrefix: "pairmeet",
		Clock:          fixedClock{now: time.Unix(1_700_000_000, 0)},
	})
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}

	creds, err := g.Generate("abc123")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if creds.Username != "1700003600:pairmeet:abc123" {
		t.Fatalf("username=%q", creds.Username)
	}
	if creds.ExpiryUnix != 1_700_003_600 {
		t.Fatalf("expiry=%d", creds.ExpiryUnix)
	}

	mac := hmac.New(sha1.New, []byte("north-remembers"))
	mac.Write([]byte(creds.Username))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if creds.Credential != want {
		t.Fatalf("credential=%q, want %q", creds.Credential, want)
	}
}

func TestGenerateRejectsBadParticipantIDs(t *testing.T) {
	g, err := NewGenerator(GeneratorConfig{SharedSecret: "s", TTL: time.Minute})
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	if _, err := g.Generate("a:b"); err == nil {
		t.Fatalf("expected error for ':' in participant ID")
	}
	if _, err := g.Generate(""); err == nil {
		t.Fatalf("expected error for empty participant ID")
	}
}

func TestGenerateRandomIsUnique(t *testing.T) {
	g, err := NewGenerator(GeneratorConfig{SharedSecret: "s", TTL: time.Minute})
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	a, err := g.GenerateRandom()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	b, err := g.GenerateRandom()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if a.Username == b.Username {
		t.Fatalf("random usernames collided: %q", a.Username)
	}
	if !strings.Contains(a.Username, ":"+DefaultUsernamePrefix+":") {
		t.Fatalf("username %q missing default prefix", a.Username)
	}
}

func TestNewGeneratorValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  GeneratorConfig
	}{
		{"missing secret", GeneratorConfig{TTL: time.Minute}},
		{"zero ttl", GeneratorConfig{SharedSecret: "s"}},
		{"colon in prefix", GeneratorConfig{SharedSecret: "s", TTL: time.Minute, UsernamePrefix: "a:b"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewGenerator(tc.cfg); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

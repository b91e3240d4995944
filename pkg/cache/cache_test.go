package cache

import (
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestKeyDeterministic(t *testing.T) {
	a := Key("https://example.com/information.php?word=C00001", nil)
	b := Key("https://example.com/information.php?word=C00001", nil)

	if a != b {
		t.Errorf("same input produced different keys: %q vs %q", a, b)
	}
	if !strings.HasPrefix(a, "chemharvest:doc:") {
		t.Errorf("missing key prefix: %q", a)
	}
}

func TestKeyDistinguishesInputs(t *testing.T) {
	base := Key("https://example.com/a", nil)

	if Key("https://example.com/b", nil) == base {
		t.Error("different URLs collided")
	}
	if Key("https://example.com/a", []byte("payload")) == base {
		t.Error("payload ignored in key")
	}

	// The URL/payload boundary must matter.
	if Key("https://example.com/ab", []byte("c")) == Key("https://example.com/a", []byte("bc")) {
		t.Error("key conflates URL and payload bytes")
	}
}

func TestNewStoreValidation(t *testing.T) {
	if _, err := NewStore(nil, time.Minute); err == nil {
		t.Error("expected error for nil client")
	}

	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	if _, err := NewStore(client, 0); err == nil {
		t.Error("expected error for zero TTL")
	}
	if _, err := NewStore(client, -time.Minute); err == nil {
		t.Error("expected error for negative TTL")
	}
	if _, err := NewStore(client, time.Minute); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

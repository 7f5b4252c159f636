package badger

import (
	"context"
	"testing"
)

func openTestKV(t *testing.T) *KV {
	t.Helper()
	kv, err := Open(InMemoryConfig())
	if err != nil {
		t.Fatalf("open in-memory badger: %v", err)
	}
	t.Cleanup(func() {
		_ = kv.Close()
	})
	return kv
}

func TestKV_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	kv := openTestKV(t)

	if _, ok, err := kv.Get(ctx, "encryption_key"); err != nil || ok {
		t.Fatalf("expected missing key, got ok=%t err=%v", ok, err)
	}
	if err := kv.Set(ctx, "encryption_key", "abc"); err != nil {
		t.Fatalf("set: %v", err)
	}
	value, ok, err := kv.Get(ctx, "encryption_key")
	if err != nil || !ok || value != "abc" {
		t.Fatalf("expected abc, got %q ok=%t err=%v", value, ok, err)
	}
	if err := kv.Delete(ctx, "encryption_key"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := kv.Get(ctx, "encryption_key"); ok {
		t.Fatalf("expected key deleted")
	}
}

func TestKV_KeysByPrefix(t *testing.T) {
	ctx := context.Background()
	kv := openTestKV(t)
	for _, key := range []string{"secure_token_b", "secure_token_a", "secure_api_key_line", "autoreply_rules"} {
		if err := kv.Set(ctx, key, "v"); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}

	keys, err := kv.Keys(ctx, "secure_token_")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 2 || keys[0] != "secure_token_a" || keys[1] != "secure_token_b" {
		t.Fatalf("unexpected keys %v", keys)
	}
}

func TestKV_HonoursCancelledContext(t *testing.T) {
	kv := openTestKV(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := kv.Set(ctx, "k", "v"); err == nil {
		t.Fatalf("expected cancelled context to fail")
	}
}

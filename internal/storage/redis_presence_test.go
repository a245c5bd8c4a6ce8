package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"
)

func TestRedisPresence_RecordLookupClear(t *testing.T) {
	addr := os.Getenv("CHAT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CHAT_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()

	p, err := NewRedisPresence(ctx, RedisConfig{Addr: addr, TTL: time.Minute})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })

	user := fmt.Sprintf("it-%d", time.Now().UnixNano())
	if err := p.RecordConnection(ctx, user, "conn-1"); err != nil {
		t.Fatalf("record: %v", err)
	}
	tok, online, err := p.lookup(ctx, user)
	if err != nil || !online || tok != "conn-1" {
		t.Fatalf("lookup: tok=%q online=%v err=%v", tok, online, err)
	}

	if err := p.ClearConnection(ctx, user); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, online, _ := p.lookup(ctx, user); online {
		t.Fatal("expected user offline after clear")
	}
}

func TestPresenceKey(t *testing.T) {
	if got := presenceKey("alice"); got != "chat:presence:alice" {
		t.Fatalf("unexpected key %q", got)
	}
}

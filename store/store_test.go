package store_test

import (
	"context"
	"errors"
	"testing"

	goredis "github.com/redis/go-redis/v9"

	sharesync "github.com/steveoberholzer/ShareSync"
	"github.com/steveoberholzer/ShareSync/store"
)

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := store.Open(context.Background(), sharesync.StoreConfig{Driver: "oracle"})
	if err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestOpen_Memory(t *testing.T) {
	s, err := store.Open(context.Background(), sharesync.StoreConfig{Driver: "memory"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestOpen_RedisCloseReleasesClient(t *testing.T) {
	// The client connects lazily, so Open succeeds without a server.
	s, err := store.Open(context.Background(), sharesync.StoreConfig{
		Driver:    "redis",
		RedisAddr: "127.0.0.1:1",
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Ping(context.Background()); !errors.Is(err, goredis.ErrClosed) {
		t.Fatalf("ping after close = %v, want %v", err, goredis.ErrClosed)
	}
}

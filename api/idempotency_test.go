package api

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisDeduperClaim(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rc.Close() })
	d := NewRedisDeduper(rc, time.Minute)
	ctx := context.Background()

	steps := []struct {
		name   string
		run    func() (bool, error)
		wantOK bool
	}{
		{"first claim", func() (bool, error) { return d.Claim(ctx, "u1", "k") }, true},
		{"repeat claim", func() (bool, error) { return d.Claim(ctx, "u1", "k") }, false},
		{"other user", func() (bool, error) { return d.Claim(ctx, "u2", "k") }, true},
		{"after release", func() (bool, error) {
			if err := d.Release(ctx, "u1", "k"); err != nil {
				return false, err
			}
			return d.Claim(ctx, "u1", "k")
		}, true},
		{"after expiry", func() (bool, error) {
			mr.FastForward(2 * time.Minute)
			return d.Claim(ctx, "u1", "k")
		}, true},
	}
	for _, s := range steps {
		ok, err := s.run()
		if err != nil {
			t.Fatalf("%s: %v", s.name, err)
		}
		if ok != s.wantOK {
			t.Fatalf("%s: claimed=%v, want %v", s.name, ok, s.wantOK)
		}
	}
	if ttl := mr.TTL("idem:u1:k"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected ttl %v", ttl)
	}
}

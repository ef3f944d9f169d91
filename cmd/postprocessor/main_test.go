package main

import "testing"

func TestRedisClient(t *testing.T) {
	tests := []struct {
		raw     string
		addr    string
		db      int
		wantErr bool
	}{
		{raw: "localhost:6379", addr: "localhost:6379"},
		{raw: "redis://cache.internal:6380/2", addr: "cache.internal:6380", db: 2},
		{raw: "http://cache.internal:6380", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			c, err := redisClient(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			defer c.Close()
			if opts := c.Options(); opts.Addr != tt.addr || opts.DB != tt.db {
				t.Errorf("expected %s db %d, got %s db %d", tt.addr, tt.db, opts.Addr, opts.DB)
			}
		})
	}
}

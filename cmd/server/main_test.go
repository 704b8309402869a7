package main

import (
	"context"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/visa-eval-backend/internal/config"
	"github.com/tbourn/visa-eval-backend/internal/storage"
)

func TestOpenStore_Unconfigured(t *testing.T) {
	cases := []struct {
		mode       string
		wantMemory bool
	}{
		{gin.DebugMode, true},
		{gin.TestMode, true},
		{gin.ReleaseMode, false},
	}
	for _, tc := range cases {
		t.Run(tc.mode, func(t *testing.T) {
			store, err := openStore(context.Background(), config.Config{GinMode: tc.mode})
			if err != nil {
				t.Fatalf("openStore: %v", err)
			}
			_, isMemory := store.(*storage.MemoryStore)
			if isMemory != tc.wantMemory {
				t.Fatalf("store = %T, want memory=%v", store, tc.wantMemory)
			}
			if !tc.wantMemory && store != nil {
				t.Fatalf("release mode must leave storage unset, got %T", store)
			}
		})
	}
}

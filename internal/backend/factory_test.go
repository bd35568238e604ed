package backend

import (
	"context"
	"path/filepath"
	"testing"

	"fundledger/internal/config"
	"fundledger/internal/store"
)

func TestFromAppConfig(t *testing.T) {
	if _, err := FromAppConfig(nil); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := FromAppConfig(&config.Config{DataBackend: "sheets"}); err == nil {
		t.Error("expected error for unknown backend")
	}

	got, err := FromAppConfig(&config.Config{DataBackend: "mongo", MongoURI: "mongodb://x", MongoDatabase: "db"})
	if err != nil {
		t.Fatalf("FromAppConfig() error = %v", err)
	}
	if got.Type != MongoBackend || got.MongoURI != "mongodb://x" || got.MongoDatabase != "db" {
		t.Errorf("FromAppConfig() = %+v", got)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"memory", Config{Type: MemoryBackend}, false},
		{"sqlite", Config{Type: SQLiteBackend, SQLiteDBPath: "x.db"}, false},
		{"sqlite without path", Config{Type: SQLiteBackend}, true},
		{"mongo without database", Config{Type: MongoBackend, MongoURI: "mongodb://x"}, true},
		{"unknown", Config{Type: "sheets"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.config.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCreateBackend(t *testing.T) {
	ctx := context.Background()
	f := NewFactory(nil)

	for _, cfg := range []Config{
		{Type: MemoryBackend},
		{Type: SQLiteBackend, SQLiteDBPath: filepath.Join(t.TempDir(), "ledger.db")},
	} {
		t.Run(cfg.Type.String(), func(t *testing.T) {
			res, err := f.CreateBackend(ctx, cfg)
			if err != nil {
				t.Fatalf("CreateBackend() error = %v", err)
			}
			defer res.Cleanup()

			if err := store.Ping(ctx, res.Store); err != nil {
				t.Errorf("Ping() error = %v", err)
			}
			totals, err := res.Store.ReadTotals(ctx)
			if err != nil || totals.NetBalance().Cents != 0 {
				t.Errorf("fresh store totals = %+v, %v", totals, err)
			}
		})
	}

	if _, err := f.CreateBackend(ctx, Config{Type: SQLiteBackend}); err == nil {
		t.Error("expected validation error")
	}
}

func TestGetBackendTypes(t *testing.T) {
	for _, bt := range GetBackendTypes() {
		if !bt.IsValid() {
			t.Errorf("%s not valid", bt)
		}
	}
}

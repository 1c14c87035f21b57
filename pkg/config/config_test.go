package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DB.Driver != DriverSQLite {
		t.Fatalf("expected sqlite default driver, got %q", cfg.DB.Driver)
	}
	if cfg.Stock.HubCode == "" || cfg.Stock.SinkCode == "" {
		t.Fatalf("hub/sink codes must default: %+v", cfg.Stock)
	}
	if cfg.Imports.PreviewMaxRows != 200 || cfg.Imports.PreviewMaxCols != 12 {
		t.Fatalf("unexpected preview caps: %+v", cfg.Imports)
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("STOCKROOM_DB_DRIVER", "oracle")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestExtensionAllowed(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	for _, ext := range []string{".csv", "XLSX", ".xlsm"} {
		if !cfg.Imports.ExtensionAllowed(ext) {
			t.Fatalf("expected %q to be allowed", ext)
		}
	}
	if cfg.Imports.ExtensionAllowed(".pdf") {
		t.Fatal("pdf must not be allowed")
	}
}

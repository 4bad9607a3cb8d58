package plan

import (
	"errors"
	"testing"
)

func TestResolve(t *testing.T) {
	catalog := NewCatalog()

	tests := []struct {
		name        string
		planID      string
		wantErr     error
		wantMinutes int
		wantAmount  int64
	}{
		{name: "starter", planID: "starter", wantMinutes: 250, wantAmount: 4900},
		{name: "growth", planID: "growth", wantMinutes: 600, wantAmount: 9900},
		{name: "case and space insensitive", planID: "  Starter ", wantMinutes: 250, wantAmount: 4900},
		{name: "unknown", planID: "bogus", wantErr: ErrUnknownPlan},
		{name: "empty", planID: "", wantErr: ErrUnknownPlan},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := catalog.Resolve(tt.planID)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if cfg.MinutesGranted != tt.wantMinutes {
				t.Fatalf("expected %d minutes, got %d", tt.wantMinutes, cfg.MinutesGranted)
			}
			if cfg.AmountMinorUnits != tt.wantAmount {
				t.Fatalf("expected amount %d, got %d", tt.wantAmount, cfg.AmountMinorUnits)
			}
		})
	}
}

func TestEnterpriseIsSalesAssisted(t *testing.T) {
	catalog := NewCatalog()
	cfg, err := catalog.Resolve("enterprise")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Category != CategorySalesAssisted {
		t.Fatalf("expected sales assisted category, got %s", cfg.Category)
	}
}

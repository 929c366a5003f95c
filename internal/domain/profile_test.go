package domain

import "testing"

func TestParseMachineProfileName(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
		tier    string
	}{
		{name: "simple", raw: "Standard_B1s", tier: "Standard"},
		{name: "multiple underscores keeps full name", raw: "Standard_D2s_v3", tier: "Standard"},
		{name: "no underscore rejected", raw: "StandardB1s", wantErr: true},
		{name: "empty rejected", raw: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMachineProfileName(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Name != tt.raw {
				t.Errorf("Name = %q, want %q (round-trip must preserve the full input)", got.Name, tt.raw)
			}
			if got.Tier != tt.tier {
				t.Errorf("Tier = %q, want %q", got.Tier, tt.tier)
			}
		})
	}
}

func TestParseMachineProfileNameIdempotent(t *testing.T) {
	p1, err := ParseMachineProfileName("Standard_D4s_v3")
	if err != nil {
		t.Fatal(err)
	}
	p2, err := ParseMachineProfileName(p1.Name)
	if err != nil {
		t.Fatal(err)
	}
	if p1 != p2 {
		t.Errorf("re-parsing Name must be idempotent: %+v != %+v", p1, p2)
	}
}

func TestMachineProfileAsMapKey(t *testing.T) {
	m := map[MachineProfile]int{}
	a := MachineProfile{Name: "Standard_B1s", Tier: "Standard"}
	b := MachineProfile{Name: "Standard_B1s", Tier: "Standard"}
	m[a] = 1
	m[b] = 2
	if len(m) != 1 {
		t.Errorf("equal profiles must collide as map keys, got %d entries", len(m))
	}
}

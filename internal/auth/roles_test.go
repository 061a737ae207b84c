package auth

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

var (
	admin    = common.HexToAddress("0xA0")
	operator = common.HexToAddress("0xB0")
	stranger = common.HexToAddress("0xC0")
)

func TestRoleTable_Authorize(t *testing.T) {
	tbl := NewRoleTable(admin)
	tbl.Seed(operator, RoleOperator)

	tests := []struct {
		name   string
		caller common.Address
		cap    domain.Capability
		ok     bool
	}{
		{"operator pauses", operator, domain.CapSystemPause, true},
		{"operator executes", operator, domain.CapExecute, true},
		{"operator cannot emergency stop", operator, domain.CapSystemEmergency, false},
		{"operator cannot manage strategies", operator, domain.CapStrategyManage, false},
		{"admin manages roles", admin, domain.CapRoleManage, true},
		{"admin holds nothing else", admin, domain.CapRiskManage, false},
		{"stranger", stranger, domain.CapExecute, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tbl.Authorize(tt.caller, tt.cap)
			if tt.ok && err != nil {
				t.Fatalf("expected authorized, got %v", err)
			}
			if !tt.ok && !errors.Is(err, domain.ErrUnauthorized) {
				t.Fatalf("expected ErrUnauthorized, got %v", err)
			}
		})
	}
}

func TestRoleTable_GrantRequiresAdmin(t *testing.T) {
	tbl := NewRoleTable(admin)

	if err := tbl.Grant(operator, stranger, RoleEmergency); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("non-admin grant: expected ErrUnauthorized, got %v", err)
	}
	if err := tbl.Grant(admin, stranger, RoleEmergency); err != nil {
		t.Fatalf("admin grant failed: %v", err)
	}
	if err := tbl.Authorize(stranger, domain.CapSystemEmergency); err != nil {
		t.Fatalf("granted role not honoured: %v", err)
	}
	if err := tbl.Revoke(admin, stranger, RoleEmergency); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}
	if got := tbl.Roles(stranger); len(got) != 0 {
		t.Fatalf("expected no roles after revoke, got %v", got)
	}
}

func TestParseRole(t *testing.T) {
	if r, err := ParseRole(" Operator "); err != nil || r != RoleOperator {
		t.Fatalf("ParseRole operator = %q, %v", r, err)
	}
	if _, err := ParseRole("root"); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

package models

import "testing"

func TestHasAccess(t *testing.T) {
	staffID := uint(2)

	unassigned := &ChatRoom{CustomerID: 1, Status: RoomStatusWaiting}
	assigned := &ChatRoom{CustomerID: 1, AssignedStaffID: &staffID, Status: RoomStatusActive}

	cases := []struct {
		name   string
		room   *ChatRoom
		userID uint
		role   Role
		want   bool
	}{
		{"customer own room", unassigned, 1, RoleCustomer, true},
		{"customer other room", unassigned, 3, RoleCustomer, false},
		{"staff unassigned room", unassigned, 2, RoleStaff, true},
		{"assigned staff", assigned, 2, RoleStaff, true},
		{"other staff on assigned room", assigned, 5, RoleStaff, false},
		{"admin anywhere", assigned, 99, RoleAdmin, true},
		{"unknown role", assigned, 1, Role("ghost"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.room.HasAccess(tc.userID, tc.role); got != tc.want {
				t.Fatalf("HasAccess(%d, %s) = %v, want %v", tc.userID, tc.role, got, tc.want)
			}
		})
	}
}

func TestParseRole(t *testing.T) {
	if role, ok := ParseRole("staff"); !ok || role != RoleStaff {
		t.Fatalf("ParseRole(staff) = %v, %v", role, ok)
	}
	if _, ok := ParseRole("superuser"); ok {
		t.Fatalf("expected superuser to be rejected")
	}
}

package task

import "testing"

func TestRegisterAssignsDeclarationOrderSlots(t *testing.T) {
	tbl := NewTable()
	t1, err := tbl.Register(0, 1, func(*Context) int32 { return 0 }, 0)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	t2, err := tbl.Register(0, 1, func(*Context) int32 { return 0 }, 0)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if t1.Slot != 0 || t2.Slot != 1 {
		t.Fatalf("expected slots 0,1 got %d,%d", t1.Slot, t2.Slot)
	}
}

func TestRegisterBeyondDeclaredSlotsFails(t *testing.T) {
	tbl := NewTable()
	tbl.SetMaxSlots(0, 1)
	if _, err := tbl.Register(0, 1, func(*Context) int32 { return 0 }, 0); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, err := tbl.Register(0, 1, func(*Context) int32 { return 0 }, 0); err == nil {
		t.Fatalf("expected the (NT+1)-th registration to fail")
	}
}

func TestRegisterAfterLockFails(t *testing.T) {
	tbl := NewTable()
	tbl.Lock()
	if _, err := tbl.Register(0, 1, func(*Context) int32 { return 0 }, 0); err == nil {
		t.Fatalf("expected register after lock to fail")
	}
}

func TestStateTransitions(t *testing.T) {
	tbl := NewTable()
	tk, _ := tbl.Register(0, 1, func(*Context) int32 { return 0 }, 0)
	if tk.State() != Idle {
		t.Fatalf("expected initial state IDLE")
	}
	tk.SetState(Pending)
	if tk.State() != Pending {
		t.Fatalf("expected PENDING")
	}
	tk.SetState(Running)
	if tk.State() != Running {
		t.Fatalf("expected RUNNING")
	}
}

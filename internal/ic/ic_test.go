package ic

import "testing"

func TestRegisterAfterLockFails(t *testing.T) {
	c := New()
	if err := c.RegisterInterruptHandler(1, 5, true, func() {}); err != nil {
		t.Fatalf("register before lock: %v", err)
	}
	c.Lock()
	if err := c.RegisterInterruptHandler(2, 5, true, func() {}); err == nil {
		t.Fatalf("expected registration after Lock to fail")
	}
}

func TestRegisterRejectsOutOfRangePriority(t *testing.T) {
	c := New()
	if err := c.RegisterInterruptHandler(1, 0, true, func() {}); err == nil {
		t.Fatalf("expected priority 0 to be rejected")
	}
	if err := c.RegisterInterruptHandler(1, MaxPriority+1, true, func() {}); err == nil {
		t.Fatalf("expected priority above MaxPriority to be rejected")
	}
}

func TestRegisterRejectsDuplicateVector(t *testing.T) {
	c := New()
	if err := c.RegisterInterruptHandler(1, 5, true, func() {}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := c.RegisterInterruptHandler(1, 6, true, func() {}); err == nil {
		t.Fatalf("expected duplicate vector to be rejected")
	}
}

func TestRaiseLowerPriorityMonotonic(t *testing.T) {
	c := New()
	saved := c.RaisePriority(5)
	if saved != 0 {
		t.Fatalf("expected saved priority 0, got %d", saved)
	}
	if c.Current() != 5 {
		t.Fatalf("expected current priority 5, got %d", c.Current())
	}

	saved2 := c.RaisePriority(3)
	if saved2 != 5 {
		t.Fatalf("raising to a lower level should be a no-op returning the current value, got %d", saved2)
	}
	if c.Current() != 5 {
		t.Fatalf("current priority should be unchanged by a no-op raise, got %d", c.Current())
	}

	if err := c.LowerPriority(saved); err != nil {
		t.Fatalf("LowerPriority: %v", err)
	}
	if c.Current() != 0 {
		t.Fatalf("expected current priority 0 after lower, got %d", c.Current())
	}
}

func TestLowerPriorityRejectsRaise(t *testing.T) {
	c := New()
	c.RaisePriority(2)
	if err := c.LowerPriority(5); err == nil {
		t.Fatalf("expected LowerPriority to reject a value above current")
	}
}

func TestDispatchMasksLowerPriorityVector(t *testing.T) {
	c := New()
	ran := false
	if err := c.RegisterInterruptHandler(1, 3, true, func() { ran = true }); err != nil {
		t.Fatalf("register: %v", err)
	}
	c.Lock()

	c.RaisePriority(5)
	didRun, err := c.Dispatch(1)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if didRun || ran {
		t.Fatalf("expected vector at priority 3 to be masked by current priority 5")
	}
}

func TestDispatchRunsHandlerAndRestoresPriority(t *testing.T) {
	c := New()
	var observed uint8
	if err := c.RegisterInterruptHandler(1, 7, true, func() { observed = c.Current() }); err != nil {
		t.Fatalf("register: %v", err)
	}
	c.Lock()

	ran, err := c.Dispatch(1)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !ran {
		t.Fatalf("expected handler to run")
	}
	if observed != 7 {
		t.Fatalf("expected handler to observe current priority 7, got %d", observed)
	}
	if c.Current() != 0 {
		t.Fatalf("expected current priority restored to 0, got %d", c.Current())
	}
}

func TestDispatchUnregisteredVector(t *testing.T) {
	c := New()
	if _, err := c.Dispatch(99); err == nil {
		t.Fatalf("expected dispatch of unregistered vector to fail")
	}
}

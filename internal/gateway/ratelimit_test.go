package gateway

import "testing"

func TestFailedAuthTableLocksAfterNFailures(t *testing.T) {
	tbl := NewFailedAuthTable(5, 15)
	addr := "203.0.113.5"

	for i := 0; i < 5; i++ {
		if tbl.Locked(addr) {
			t.Fatalf("unexpected lock before failure %d", i+1)
		}
		tbl.RecordFailure(addr)
	}

	if !tbl.Locked(addr) {
		t.Fatal("expected address locked after 5 failures")
	}
}

func TestFailedAuthTableResetClearsLock(t *testing.T) {
	tbl := NewFailedAuthTable(2, 15)
	addr := "198.51.100.9"
	tbl.RecordFailure(addr)
	tbl.RecordFailure(addr)
	if !tbl.Locked(addr) {
		t.Fatal("expected locked")
	}
	tbl.Reset(addr)
	if tbl.Locked(addr) {
		t.Fatal("expected Reset to clear the lock")
	}
}

func TestFailedAuthTableIndependentAddresses(t *testing.T) {
	tbl := NewFailedAuthTable(2, 15)
	tbl.RecordFailure("1.1.1.1")
	tbl.RecordFailure("1.1.1.1")
	if tbl.Locked("2.2.2.2") {
		t.Fatal("a different address must not be affected")
	}
}

func TestRPCLimiterDisabledAllowsEverything(t *testing.T) {
	l := NewRPCLimiter(0)
	for i := 0; i < 1000; i++ {
		if !l.Allow("client-1") {
			t.Fatal("disabled limiter should always allow")
		}
	}
}

func TestRPCLimiterBurstExhausts(t *testing.T) {
	l := NewRPCLimiter(60) // 1/sec, burst 60
	allowed := 0
	for i := 0; i < 200; i++ {
		if l.Allow("client-1") {
			allowed++
		}
	}
	if allowed > 60 {
		t.Fatalf("expected burst to cap allowed calls near 60, got %d", allowed)
	}
	if allowed == 0 {
		t.Fatal("expected at least the initial burst to be allowed")
	}
}

func TestRPCLimiterPerClientIndependent(t *testing.T) {
	l := NewRPCLimiter(1)
	if !l.Allow("a") {
		t.Fatal("first call for a should be allowed")
	}
	if !l.Allow("b") {
		t.Fatal("first call for b should be allowed regardless of a's bucket")
	}
}

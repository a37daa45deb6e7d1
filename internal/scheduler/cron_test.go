package scheduler

import "testing"

func TestParseCronStar(t *testing.T) {
	cf, err := parseCron("* * * * *")
	if err != nil {
		t.Fatal(err)
	}
	if !cf.matches(0, 0, 1, 1, 0) || !cf.matches(59, 23, 31, 12, 6) {
		t.Error("* should match every boundary value")
	}
}

func TestParseCronRangeAndStep(t *testing.T) {
	cf, err := parseCron("*/15 9-17 * * 1-5")
	if err != nil {
		t.Fatal(err)
	}
	if !cf.matches(0, 9, 1, 1, 1) {
		t.Error("minute 0, hour 9, Monday should match")
	}
	if cf.matches(1, 9, 1, 1, 1) {
		t.Error("minute 1 is not a multiple of 15, should not match")
	}
	if cf.matches(0, 18, 1, 1, 1) {
		t.Error("hour 18 is outside 9-17, should not match")
	}
	if cf.matches(0, 9, 1, 1, 6) {
		t.Error("Saturday (6) is outside 1-5, should not match")
	}
}

func TestParseCronList(t *testing.T) {
	cf, err := parseCron("0,30 * * * *")
	if err != nil {
		t.Fatal(err)
	}
	if !cf.matches(0, 0, 1, 1, 0) || !cf.matches(30, 0, 1, 1, 0) {
		t.Error("0 and 30 should both match")
	}
	if cf.matches(15, 0, 1, 1, 0) {
		t.Error("15 should not match a 0,30 list")
	}
}

func TestParseCronRejectsWrongFieldCount(t *testing.T) {
	if _, err := parseCron("* * * *"); err == nil {
		t.Fatal("expected error for 4-field expression")
	}
}

func TestParseCronRejectsOutOfRange(t *testing.T) {
	if _, err := parseCron("0 24 * * *"); err == nil {
		t.Fatal("expected error: hour 24 is out of range")
	}
	if _, err := parseCron("0 0 0 * *"); err == nil {
		t.Fatal("expected error: day-of-month 0 is out of range")
	}
	if _, err := parseCron("0 0 * 13 *"); err == nil {
		t.Fatal("expected error: month 13 is out of range")
	}
	if _, err := parseCron("0 0 * * 7"); err == nil {
		t.Fatal("expected error: day-of-week 7 is out of range (0-6)")
	}
}

func TestParseCronSundayIsZero(t *testing.T) {
	cf, err := parseCron("0 0 * * 0")
	if err != nil {
		t.Fatal(err)
	}
	if !cf.matches(0, 0, 1, 1, 0) {
		t.Error("dow 0 should mean Sunday")
	}
}

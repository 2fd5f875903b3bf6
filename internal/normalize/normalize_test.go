package normalize

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"vminventory/internal/domain"
)

func f64(v float64) *float64 { return &v }

func TestDecimalRoundHalfUp(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{50.004999, "50.00"},
		{50.005001, "50.01"},
		{50.005, "50.01"},
		{40.0, "40.00"},
		{0.125, "0.13"},
	}
	for _, c := range cases {
		got := Decimal(f64(c.in))
		if !got.Valid {
			t.Fatalf("%v: expect valid decimal", c.in)
		}
		if got.Decimal.StringFixed(2) != c.want {
			t.Fatalf("%v: expect %s got %s", c.in, c.want, got.Decimal.StringFixed(2))
		}
	}
	if Decimal(nil).Valid {
		t.Fatalf("nil input must stay null")
	}
}

func TestDiskKeysStableAgainstStoredValues(t *testing.T) {
	stored := []domain.Disk{
		{Label: "Disk 1", SizeGB: decimal.NullDecimal{Decimal: decimal.RequireFromString("50.00"), Valid: true}},
		{Label: "Disk 2", SizeGB: decimal.NullDecimal{Decimal: decimal.RequireFromString("50.01"), Valid: true}},
	}
	incoming := []domain.DiskSnapshot{
		{Label: "Disk 1", SizeGB: f64(50.004999)},
		{Label: "Disk 2", SizeGB: f64(50.005001)},
	}
	if !SameSet(DiskKeysOfRecords(stored), DiskKeysOfSnapshots(incoming)) {
		t.Fatalf("float noise around the rounding threshold must not register as a diff")
	}
}

func TestPowerState(t *testing.T) {
	if PowerState(nil) != nil {
		t.Fatalf("nil power state must stay nil")
	}
	var typedNil *string
	if PowerState(typedNil) != nil {
		t.Fatalf("typed nil power state must stay nil")
	}
	if got := PowerState("poweredOn"); got == nil || *got != "poweredOn" {
		t.Fatalf("unexpected power state %v", got)
	}
	type vmPowerState string
	if got := PowerState(vmPowerState("suspended")); got == nil || *got != "suspended" {
		t.Fatalf("named string types should be stringified")
	}
	none := "None"
	if PowerState("None") != nil || PowerState(&none) != nil || PowerState("") != nil {
		t.Fatalf(`"None" and empty power states must be treated as absent`)
	}
}

func TestDate(t *testing.T) {
	local := time.Date(2024, 3, 1, 10, 0, 0, 123456789, time.FixedZone("CST", 8*3600))
	got := Date(local)
	if got == nil {
		t.Fatalf("expect date")
	}
	if got.Location() != time.UTC || got.Nanosecond() != 123456000 {
		t.Fatalf("expect UTC truncated to microseconds, got %v", got)
	}
	if Date("2024-03-01T10:00:00Z") != nil {
		t.Fatalf("strings must normalize to nil")
	}
	if Date(time.Time{}) != nil {
		t.Fatalf("zero time must normalize to nil")
	}
	var typedNil *time.Time
	if Date(typedNil) != nil {
		t.Fatalf("nil pointer must normalize to nil")
	}
}

func TestNICKeysRespectIPOrderAndConnected(t *testing.T) {
	a := []domain.NICSnapshot{{Label: "nic1", MAC: "aa", IPAddresses: []string{"10.0.0.1", "fe80::1"}, Connected: true}}
	b := []domain.NICSnapshot{{Label: "nic1", MAC: "aa", IPAddresses: []string{"fe80::1", "10.0.0.1"}, Connected: true}}
	if SameSet(NICKeysOfSnapshots(a), NICKeysOfSnapshots(b)) {
		t.Fatalf("ip list order is part of the key")
	}
	c := []domain.NICSnapshot{{Label: "nic1", MAC: "aa", IPAddresses: []string{"10.0.0.1", "fe80::1"}}}
	if SameSet(NICKeysOfSnapshots(a), NICKeysOfSnapshots(c)) {
		t.Fatalf("connected flag is part of the key")
	}
	rec := []domain.NIC{{Label: "nic1", MAC: "aa", IPAddresses: []string{"10.0.0.1", "fe80::1"}, Connected: true}}
	if !SameSet(NICKeysOfRecords(rec), NICKeysOfSnapshots(a)) {
		t.Fatalf("record and snapshot with same tuple must match")
	}
}

func TestKBToGB(t *testing.T) {
	if got := KBToGB(41943040); got != 40 {
		t.Fatalf("expect 40 got %v", got)
	}
	if got := KBToGB(1572864); got != 1.5 {
		t.Fatalf("expect 1.5 got %v", got)
	}
}

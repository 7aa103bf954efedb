package appointment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func baseRecord() Record {
	return Record{
		ID:          501,
		StaffID:     7,
		StaffName:   "Anna",
		ServiceIDs:  []int64{10, 11},
		ScheduledAt: time.Date(2026, 10, 20, 15, 0, 0, 0, time.UTC),
	}
}

func TestFingerprint_Deterministic(t *testing.T) {
	r := baseRecord()
	assert.Equal(t, Fingerprint(r), Fingerprint(r))
	assert.Len(t, Fingerprint(r), 32)
}

func TestFingerprint_IgnoresNonScheduleFields(t *testing.T) {
	a := baseRecord()
	b := baseRecord()
	b.CustomerName = "Someone else"
	b.CustomerPhone = "+70000000000"
	b.StaffName = "Renamed"
	b.ServiceNames = []string{"Haircut"}
	assert.Equal(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprint_DetectsChanges(t *testing.T) {
	base := Fingerprint(baseRecord())

	moved := baseRecord()
	moved.ScheduledAt = moved.ScheduledAt.Add(30 * time.Minute)
	assert.NotEqual(t, base, Fingerprint(moved), "schedule change")

	restaffed := baseRecord()
	restaffed.StaffID = 8
	assert.NotEqual(t, base, Fingerprint(restaffed), "staff change")

	reordered := baseRecord()
	reordered.ServiceIDs = []int64{11, 10}
	assert.NotEqual(t, base, Fingerprint(reordered), "service order change")

	extra := baseRecord()
	extra.ServiceIDs = append(extra.ServiceIDs, 12)
	assert.NotEqual(t, base, Fingerprint(extra), "service added")
}

func TestFingerprint_SameInstantDifferentZone(t *testing.T) {
	msk := time.FixedZone("MSK", 3*3600)
	a := baseRecord()
	b := baseRecord()
	b.ScheduledAt = a.ScheduledAt.In(msk)
	assert.Equal(t, Fingerprint(a), Fingerprint(b))
}

func TestJoinServiceNames(t *testing.T) {
	assert.Equal(t, "", JoinServiceNames(nil))
	assert.Equal(t, "Cut, Color", JoinServiceNames([]string{"Cut", "", "Color"}))
}

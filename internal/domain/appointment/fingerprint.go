package appointment

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Fingerprint digests the mutable fields of a record: schedule time, staff and the
// ordered service list. Only used for equality, so a 128-bit digest is enough.
func Fingerprint(r Record) string {
	var b strings.Builder
	b.WriteString(r.ScheduledAt.UTC().Format(time.RFC3339))
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(r.StaffID, 10))
	b.WriteByte('|')
	for i, id := range r.ServiceIDs {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatInt(id, 10))
	}
	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

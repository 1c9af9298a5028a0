package store

import "time"

// Allocator lock files, shared with any other controller worker process
// on the same host. Two separate locks keep run-number allocation from
// serialising behind the slower job-id gap search.
const (
	RunLockFile   = "mongodb.lock"
	JobIDLockFile = "mongodb_jobid.lock"
)

// reservationTTL is how long a job-id reservation survives before the
// sweep reclaims it. Reservations normally live only for the moment
// between allocation and job-document insert; the TTL covers crashes in
// between.
const reservationTTL = time.Hour

// NextFreeID returns the smallest positive integer not contained in used.
// The gap search lets controller-assigned ids coexist with an externally
// managed id namespace: holes left by foreign ids are filled before the
// range grows.
func NextFreeID(used map[int64]struct{}) int64 {
	for id := int64(1); ; id++ {
		if _, ok := used[id]; !ok {
			return id
		}
	}
}

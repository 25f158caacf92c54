// Package bucketing implements the deterministic hash-based traffic
// allocation algorithm used to assign a user to a variation, group, or
// holdout.
package bucketing

import (
	"math"

	"github.com/spaolacci/murmur3"
)

// hashSeed seeds the murmur3 hash. It must never change: changing it
// would reassign every user in every running experiment.
const hashSeed = 1

// MaxTrafficValue is the exclusive upper bound of a bucket value.
const MaxTrafficValue = 10000

// BucketValue hashes bucketingID and parentID into a value in [0, 10000).
func BucketValue(bucketingID, parentID string) int {
	key := bucketingID + parentID
	hashCode := murmur3.Sum32WithSeed([]byte(key), hashSeed)
	ratio := float64(hashCode) / (float64(math.MaxUint32) + 1)
	return int(math.Floor(ratio * float64(MaxTrafficValue)))
}

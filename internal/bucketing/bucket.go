package bucketing

// AllocationEntry is one row of a traffic allocation: the entity (a
// variation id, or an experiment id inside a group) that owns the bucket
// range ending at EndOfRange. A zero-length EntityID marks a deliberate
// traffic gap.
type AllocationEntry struct {
	EntityID   string
	EndOfRange int
}

// FindBucket returns the first allocation entry whose EndOfRange is
// strictly greater than bucketValue. An empty EntityID on the winning
// entry, or no matching entry at all, both mean "no entity".
func FindBucket(bucketValue int, allocation []AllocationEntry) (string, bool) {
	for _, entry := range allocation {
		if bucketValue < entry.EndOfRange {
			if entry.EntityID == "" {
				return "", false
			}
			return entry.EntityID, true
		}
	}
	return "", false
}

// BucketToExperiment buckets bucketingID into the group's traffic
// allocation first, and only if that bucketing resolves to
// experimentID does it bucket into the experiment's own traffic
// allocation. Experiments that are not in a group (groupID == "")
// skip the group step entirely.
//
// This enforces mutual exclusion between experiments sharing a group
// without leaking hashing state between groups: the two bucketing
// passes use different parent ids (group id, then experiment id), so
// a user's group-level assignment can't be reverse engineered from
// their experiment-level assignment or vice versa.
func BucketToExperiment(
	bucketingID string,
	groupID string,
	groupAllocation []AllocationEntry,
	experimentID string,
	experimentAllocation []AllocationEntry,
) (string, bool) {
	if groupID != "" {
		groupBucketValue := BucketValue(bucketingID, groupID)
		winningExperimentID, ok := FindBucket(groupBucketValue, groupAllocation)
		if !ok || winningExperimentID != experimentID {
			return "", false
		}
	}
	experimentBucketValue := BucketValue(bucketingID, experimentID)
	return FindBucket(experimentBucketValue, experimentAllocation)
}

// BucketToHoldout buckets bucketingID directly into a holdout's own
// traffic allocation using the holdout id as the hash parent.
func BucketToHoldout(bucketingID, holdoutID string, allocation []AllocationEntry) (string, bool) {
	if holdoutID == "" || len(allocation) == 0 {
		return "", false
	}
	bucketValue := BucketValue(bucketingID, holdoutID)
	return FindBucket(bucketValue, allocation)
}

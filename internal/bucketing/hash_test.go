package bucketing

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBucketValue(t *testing.T) {
	tests := []struct {
		parentID      string
		bucketingID   string
		expectedValue int
	}{
		{"1886780721", "ppid1", 5254},
		{"1886780721", "ppid2", 4299},
		{"1886780722", "ppid2", 2434},
		{"1886780721", "ppid3", 5439},
		{
			"1886780721",
			"a very very very very very very very very very very very very very very very long ppd string",
			6128,
		},
	}
	for _, test := range tests {
		testName := fmt.Sprintf("parent id %v, bucketing id %v", test.parentID, test.bucketingID)
		t.Run(testName, func(t *testing.T) {
			assert.Equal(t, test.expectedValue, BucketValue(test.bucketingID, test.parentID))
		})
	}
}

// TestBucketValue_distribution exercises invariant 2 from the spec: bucketing
// 10,000 distinct user ids through a single 100% allocation must assign all
// 10,000 of them.
func TestBucketValue_distribution(t *testing.T) {
	allocation := []AllocationEntry{{EntityID: "v1", EndOfRange: MaxTrafficValue}}
	assigned := 0
	for i := 0; i < 10000; i++ {
		userID := fmt.Sprintf("user_%d", i)
		bucketValue := BucketValue(userID, "exp")
		if _, ok := FindBucket(bucketValue, allocation); ok {
			assigned++
		}
	}
	assert.Equal(t, 10000, assigned)
}

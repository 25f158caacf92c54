package entities

import "sync"

// ReservedBucketingIDAttribute overrides the bucketing id used for
// hashing when present and a string.
const ReservedBucketingIDAttribute = "$opt_bucketing_id"

// ForcedDecisionKey identifies a runtime forced-decision override: a
// flag, and optionally the specific rule (experiment or rollout rule)
// within it. An empty RuleKey means "flag-level".
type ForcedDecisionKey struct {
	FlagKey string
	RuleKey string
}

// UserContext carries a user's id, attributes, runtime forced-decision
// overrides, and ODP qualified segments through a single decide call.
// Attributes may be mutated by the caller between decide calls; a
// snapshot taken at the start of one decide is immutable for the rest
// of that call.
type UserContext struct {
	UserID     string
	attributes map[string]interface{}
	mutex      sync.RWMutex
	forced     map[ForcedDecisionKey]string
	segments   []string
}

// NewUserContext constructs a UserContext, copying the provided
// attributes so later caller-side mutation of the input map does not
// affect this context.
func NewUserContext(userID string, attributes map[string]interface{}) *UserContext {
	copied := make(map[string]interface{}, len(attributes))
	for k, v := range attributes {
		copied[k] = v
	}
	return &UserContext{
		UserID:     userID,
		attributes: copied,
		forced:     make(map[ForcedDecisionKey]string),
	}
}

// SetAttribute sets a single attribute, safe for concurrent use
// alongside Snapshot.
func (u *UserContext) SetAttribute(name string, value interface{}) {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	u.attributes[name] = value
}

// SetQualifiedSegments replaces the user's ODP qualified segments.
func (u *UserContext) SetQualifiedSegments(segments []string) {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	u.segments = segments
}

// SetForcedDecision sets a forced variation key for the given
// (flag, rule) key, O(1).
func (u *UserContext) SetForcedDecision(key ForcedDecisionKey, variationKey string) {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	u.forced[key] = variationKey
}

// GetForcedDecision returns a previously set forced decision, O(1).
func (u *UserContext) GetForcedDecision(key ForcedDecisionKey) (string, bool) {
	u.mutex.RLock()
	defer u.mutex.RUnlock()
	v, ok := u.forced[key]
	return v, ok
}

// RemoveForcedDecision removes a forced decision, O(1). It reports
// whether one was present.
func (u *UserContext) RemoveForcedDecision(key ForcedDecisionKey) bool {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	_, ok := u.forced[key]
	delete(u.forced, key)
	return ok
}

// Snapshot captures an immutable view of the user's current attributes
// and segments for the duration of a single decide call.
func (u *UserContext) Snapshot() ContextSnapshot {
	u.mutex.RLock()
	defer u.mutex.RUnlock()
	attrs := make(map[string]interface{}, len(u.attributes))
	for k, v := range u.attributes {
		attrs[k] = v
	}
	segments := make([]string, len(u.segments))
	copy(segments, u.segments)
	return ContextSnapshot{UserID: u.UserID, attributes: attrs, segments: segments}
}

// ContextSnapshot is an immutable view of a UserContext's attributes
// and segments, passed through a single decide call. It implements
// condition.Context.
type ContextSnapshot struct {
	UserID     string
	attributes map[string]interface{}
	segments   []string
}

func (c ContextSnapshot) Attribute(name string) (interface{}, bool) {
	v, ok := c.attributes[name]
	return v, ok
}

func (c ContextSnapshot) QualifiedSegments() []string {
	return c.segments
}

// BucketingID returns the id used for hashing: the reserved
// $opt_bucketing_id attribute when it is a string (even an empty one),
// else the user id.
func (c ContextSnapshot) BucketingID() string {
	if v, ok := c.attributes[ReservedBucketingIDAttribute]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return c.UserID
}

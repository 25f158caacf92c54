package odp

import (
	"strings"

	"github.com/google/uuid"
)

// KeyForUserID is the canonical identifier key ODP expects for the
// fullstack user id (spec §4.9).
const KeyForUserID = "fs_user_id"

const (
	dataSourceType = "sdk"
	dataSource     = "go-decision-core"
	sdkVersion     = "0.1.0"
)

// Event is a single record destined for the ODP events REST endpoint
// (spec §3 OdpEvent, §4.9).
type Event struct {
	Type        string                 `json:"type"`
	Action      string                 `json:"action"`
	Identifiers map[string]string      `json:"identifiers"`
	Data        map[string]interface{} `json:"data"`
}

// NewEvent builds an Event, canonicalizing the fs_user_id identifier
// key and merging in the idempotence id and SDK-identifying data
// fields every ODP event carries.
func NewEvent(eventType, action string, identifiers map[string]string, data map[string]interface{}) Event {
	return Event{
		Type:        eventType,
		Action:      action,
		Identifiers: canonicalizeIdentifiers(identifiers),
		Data:        addCommonEventData(data),
	}
}

// canonicalizeIdentifiers renames a key matching fs_user_id
// case-insensitively or with dash separators to the canonical
// fs_user_id form, per spec §4.9.
func canonicalizeIdentifiers(identifiers map[string]string) map[string]string {
	out := make(map[string]string, len(identifiers))
	for k, v := range identifiers {
		out[k] = v
	}
	if _, ok := out[KeyForUserID]; ok {
		return out
	}
	for k, v := range out {
		normalized := strings.ReplaceAll(strings.ToLower(k), "-", "_")
		if normalized == KeyForUserID {
			delete(out, k)
			out[KeyForUserID] = v
			break
		}
	}
	return out
}

func addCommonEventData(custom map[string]interface{}) map[string]interface{} {
	data := map[string]interface{}{
		"idempotence_id":      uuid.NewString(),
		"data_source_type":    dataSourceType,
		"data_source":         dataSource,
		"data_source_version": sdkVersion,
	}
	for k, v := range custom {
		data[k] = v
	}
	return data
}

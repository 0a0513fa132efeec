package schema

import "strings"

// Persisted key layout. Stores apply their own namespace prefix on top of these.
const (
	// RotationKeyPrefix prefixes every per-tab rotation state key.
	RotationKeyPrefix = "rotation_"
	// KeySavedURLs holds the user's saved URL list.
	KeySavedURLs = "savedUrls"
	// KeyURLStats holds the URL usage map.
	KeyURLStats = "urlStats"
	// KeySessionStats holds the bounded session log.
	KeySessionStats = "sessionStats"
)

// RotationKey returns the storage key for a tab's rotation state.
func RotationKey(tabID TabID) string {
	return RotationKeyPrefix + tabID.String()
}

// ParseRotationKey extracts the tab id from a rotation state key.
func ParseRotationKey(key string) (TabID, bool) {
	if !strings.HasPrefix(key, RotationKeyPrefix) {
		return 0, false
	}
	id, err := ParseTabID(strings.TrimPrefix(key, RotationKeyPrefix))
	if err != nil {
		return 0, false
	}
	return id, true
}

// AlarmName returns the timer name used for a tab's rotation ticks.
func AlarmName(tabID TabID) string {
	return RotationKey(tabID)
}

// ParseAlarmName extracts the tab id from a rotation alarm name.
func ParseAlarmName(name string) (TabID, bool) {
	return ParseRotationKey(name)
}

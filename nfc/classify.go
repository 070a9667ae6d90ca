package nfc

import "strings"

// InvalidationClass is the outcome implied by a session invalidation reason.
type InvalidationClass int

const (
	// InvalidationClosed is a normal closure with nothing to report.
	InvalidationClosed InvalidationClass = iota
	// InvalidationUserCancelled is a dismissal by the user. Not an error.
	InvalidationUserCancelled
	// InvalidationWritePresumed is a user cancellation that arrived while
	// a write was outstanding. The platform cancels sessions right after a
	// successful write, so the tag has probably been written.
	InvalidationWritePresumed
	// InvalidationTransient is a resource contention condition that usually
	// clears within a second.
	InvalidationTransient
	// InvalidationFailed is any other failure, reported verbatim.
	InvalidationFailed
)

func (c InvalidationClass) String() string {
	switch c {
	case InvalidationClosed:
		return "closed"
	case InvalidationUserCancelled:
		return "userCancelled"
	case InvalidationWritePresumed:
		return "writePresumed"
	case InvalidationTransient:
		return "transient"
	case InvalidationFailed:
		return "failed"
	}
	return "unknown"
}

type invalidationRule struct {
	substr string
	class  InvalidationClass
}

// invalidationRules maps platform invalidation reasons to outcomes.
//
// Reader platforms only report why a session ended as display text, so the
// outcome has to be recovered by substring matching. Rules are checked in
// order against the lowercased reason; the first hit wins. Keep this table
// the only place that knows about platform wording.
var invalidationRules = []invalidationRule{
	{"first ndef tag read", InvalidationClosed},
	{"session invalidated by user", InvalidationUserCancelled},
	{"user canceled", InvalidationUserCancelled},
	{"user cancelled", InvalidationUserCancelled},
	{"cancelled by user", InvalidationUserCancelled},
	{"canceled by user", InvalidationUserCancelled},
	{"system resource unavailable", InvalidationTransient},
	{"resource unavailable", InvalidationTransient},
	{"resource busy", InvalidationTransient},
	{"reader busy", InvalidationTransient},
}

// Classify maps an invalidation reason to an outcome. writeInFlight reports
// whether a tag write had been issued without a result when the session
// ended.
func Classify(message string, writeInFlight bool) InvalidationClass {
	reason := strings.ToLower(strings.TrimSpace(message))
	if reason == "" {
		return InvalidationClosed
	}
	for _, rule := range invalidationRules {
		if !strings.Contains(reason, rule.substr) {
			continue
		}
		if rule.class == InvalidationUserCancelled && writeInFlight {
			return InvalidationWritePresumed
		}
		return rule.class
	}
	return InvalidationFailed
}

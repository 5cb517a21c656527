package types

import (
	"encoding/hex"
	"fmt"

	"gopkg.in/yaml.v3"
	"lukechampine.com/blake3"
)

// ReviewNow is the record value requesting that an item be stamped with
// its current fingerprint on the next validation pass.
const ReviewNow = "review now"

// Stamp is a content fingerprint used for change tracking. A stamp is
// either unset, pending (confirmed by a user without a known digest, to
// be replaced on the next validation), or a BLAKE3-256 hex digest.
type Stamp struct {
	value   string
	pending bool
}

// NewStamp hashes the given values into a stamp. Values are fed to the
// digest in order, each terminated by a zero byte so that adjacent
// values cannot collide.
func NewStamp(values ...string) Stamp {
	h := blake3.New(32, nil)
	for _, v := range values {
		h.Write([]byte(v))
		h.Write([]byte{0})
	}
	return Stamp{value: hex.EncodeToString(h.Sum(nil))}
}

// StampFromString wraps an existing digest string. Empty input yields
// the unset stamp.
func StampFromString(s string) Stamp {
	if s == "" {
		return Stamp{}
	}
	return Stamp{value: s}
}

// PendingStamp returns the pending marker stamp.
func PendingStamp() Stamp { return Stamp{pending: true} }

// IsSet reports whether the stamp holds a digest.
func (s Stamp) IsSet() bool { return s.value != "" }

// IsPending reports whether the stamp is the pending marker.
func (s Stamp) IsPending() bool { return s.pending }

// Equal reports exact digest equality. An unset or pending stamp never
// equals anything, including another unset stamp.
func (s Stamp) Equal(other Stamp) bool {
	return s.value != "" && s.value == other.value
}

func (s Stamp) String() string { return s.value }

// MarshalYAML emits the digest, null when unset, or the review-now
// marker while pending.
func (s Stamp) MarshalYAML() (interface{}, error) {
	if s.pending {
		return ReviewNow, nil
	}
	if s.value == "" {
		return nil, nil
	}
	return s.value, nil
}

// UnmarshalYAML accepts a digest string, null, boolean true (legacy
// pending marker), or the review-now marker.
func (s *Stamp) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("stamp must be a scalar, got %s", node.Tag)
	}
	switch node.Tag {
	case "!!null":
		*s = Stamp{}
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return err
		}
		if b {
			*s = PendingStamp()
		} else {
			*s = Stamp{}
		}
	default:
		if node.Value == ReviewNow {
			*s = PendingStamp()
		} else {
			*s = StampFromString(node.Value)
		}
	}
	return nil
}

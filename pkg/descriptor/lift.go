package descriptor

import (
	"fmt"
	"strings"
)

type SemanticPolicyType string

const (
	// Requires signature matching a public key
	SemanticPolicyTypeKey SemanticPolicyType = "key"

	// Relative locktime constraint
	SemanticPolicyTypeOlder SemanticPolicyType = "older"

	// Threshold combination of multiple policies
	SemanticPolicyTypeThresh SemanticPolicyType = "thresh"
)

// SemanticPolicy is the abstract spending policy of an expression, without
// script details.
type SemanticPolicy struct {
	Type SemanticPolicyType `json:"type"`

	// Public key expression (present when Type is "key")
	Key *string `json:"key,omitempty"`

	// Locktime in blocks (present when Type is "older")
	LockTime *uint32 `json:"lockTime,omitempty"`

	// Required threshold count (present when Type is "thresh")
	Threshold *uint `json:"threshold,omitempty"`

	// Nested policies (present when Type is "thresh")
	Policies []*SemanticPolicy `json:"policies,omitempty"`
}

func (p *SemanticPolicy) String() string {
	switch p.Type {
	case SemanticPolicyTypeKey:
		return fmt.Sprintf("pk(%s)", *p.Key)
	case SemanticPolicyTypeOlder:
		return fmt.Sprintf("older(%d)", *p.LockTime)
	default:
		subs := make([]string, 0, len(p.Policies))
		for _, sub := range p.Policies {
			subs = append(subs, sub.String())
		}
		return fmt.Sprintf("thresh(%d,%s)", *p.Threshold, strings.Join(subs, ","))
	}
}

func keyPolicy(key *Key) *SemanticPolicy {
	str := key.String()
	return &SemanticPolicy{Type: SemanticPolicyTypeKey, Key: &str}
}

func threshPolicy(threshold uint, policies ...*SemanticPolicy) *SemanticPolicy {
	return &SemanticPolicy{
		Type:      SemanticPolicyTypeThresh,
		Threshold: &threshold,
		Policies:  policies,
	}
}

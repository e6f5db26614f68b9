// Package entitlement answers what a tenant may do by merging the feature
// grants of every product it currently owns.
package entitlement

import (
	"encoding/json"
	"math"
	"strconv"

	catalogdomain "github.com/smallbiznis/tenantbilling/internal/catalog/domain"
)

const (
	MessageUpgrade        = "upgrade"
	MessageNoSubscription = "no_subscription"
	MessageLimitReached   = "limit_reached"
	MessageUnavailable    = "unavailable"

	unlimitedLabel = "unlimited"
)

// Remaining is a quota left over, or unlimited.
type Remaining struct {
	Value     int64
	Unlimited bool
}

func (r Remaining) String() string {
	if r.Unlimited {
		return unlimitedLabel
	}
	return strconv.FormatInt(r.Value, 10)
}

func (r Remaining) MarshalJSON() ([]byte, error) {
	if r.Unlimited {
		return json.Marshal(unlimitedLabel)
	}
	return json.Marshal(r.Value)
}

func (r *Remaining) UnmarshalJSON(data []byte) error {
	var label string
	if err := json.Unmarshal(data, &label); err == nil {
		*r = Remaining{Unlimited: label == unlimitedLabel}
		return nil
	}
	var value int64
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	*r = Remaining{Value: value}
	return nil
}

// FeatureUsage is a tenant's effective entitlement to one feature.
type FeatureUsage struct {
	Name      string                  `json:"name"`
	Title     string                  `json:"title"`
	Type      catalogdomain.LimitType `json:"type"`
	Value     int64                   `json:"value"`
	Used      int64                   `json:"used"`
	Remaining *Remaining              `json:"remaining,omitempty"`
	Enabled   bool                    `json:"enabled"`
	Message   string                  `json:"message,omitempty"`
}

// Merged is the combination of several grants of one feature.
type Merged struct {
	Type  catalogdomain.LimitType
	Value int64
}

// Grant is one owned product's declaration of a feature, held Quantity
// times.
type Grant struct {
	Feature  catalogdomain.Feature
	Quantity int64
}

// Merge folds grants in order. The type only ever moves up the rank
// order. Accumulating grants add Value per unit of quantity; of the flat
// grants only the first contributes its value. Sums saturate at MaxInt64.
func Merge(grants []Grant) Merged {
	merged := Merged{Type: catalogdomain.LimitNotIncluded}
	flatSeen := false
	for _, grant := range grants {
		f := grant.Feature
		if f.LimitType.Rank() > merged.Type.Rank() {
			merged.Type = f.LimitType
		}
		if f.Accumulate {
			quantity := grant.Quantity
			if quantity < 1 {
				quantity = 1
			}
			merged.Value = saturatingAdd(merged.Value, saturatingMul(f.Value, quantity))
			continue
		}
		if !flatSeen {
			merged.Value = saturatingAdd(merged.Value, f.Value)
			flatSeen = true
		}
	}
	return merged
}

// saturatingMul and saturatingAdd work on the non-negative values the
// catalog accepts.
func saturatingMul(a, b int64) int64 {
	if a <= 0 || b <= 0 {
		return 0
	}
	if a > math.MaxInt64/b {
		return math.MaxInt64
	}
	return a * b
}

func saturatingAdd(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

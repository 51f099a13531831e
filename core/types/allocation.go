package types

import "strings"

// AllocationType tells how a consumer record obtains its allocation keys
type AllocationType string

const (
	// AllocationKey uses the keys read from the allocation key file
	AllocationKey AllocationType = "Key"

	// AllocationCost uses the consumer's own cost as key, known after a first pass
	AllocationCost AllocationType = "Cost"

	// AllocationCloudTagSelector uses the amounts of the cloud records matched by a selector
	AllocationCloudTagSelector AllocationType = "CloudTagSelector"

	// AllocationConsumerTag is synthesized from consumer tags, with key 1
	AllocationConsumerTag AllocationType = "ConsumerTag"

	// AllocationDefaultProduct declares the product receiving unproducted cost
	AllocationDefaultProduct AllocationType = "DefaultProduct"
)

// String returns the string representation
func (t AllocationType) String() string {
	return string(t)
}

// ParseAllocationType parses an allocation type; empty defaults to Key
func ParseAllocationType(s string) (AllocationType, bool) {
	switch strings.TrimSpace(s) {
	case "", string(AllocationKey):
		return AllocationKey, true
	case string(AllocationCost):
		return AllocationCost, true
	case string(AllocationCloudTagSelector):
		return AllocationCloudTagSelector, true
	case string(AllocationConsumerTag):
		return AllocationConsumerTag, true
	case string(AllocationDefaultProduct):
		return AllocationDefaultProduct, true
	}
	return "", false
}

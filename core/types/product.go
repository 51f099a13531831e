package types

import "strings"

// ProductInfo identifies a product bucket: product, product dimensions and
// product meter names. Meter values do not take part in the identity.
type ProductInfo struct {
	Product    string
	Dimensions []ProductDimension
	Meters     []Meter
}

// IsZero reports whether no product is set
func (p ProductInfo) IsZero() bool {
	return p.Product == ""
}

// Key returns a string identifying the bucket
func (p ProductInfo) Key() string {
	if p.Product == "" {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(p.Product)
	sb.WriteByte('|')
	for _, d := range p.Dimensions {
		if d.Name == "" && d.Element == "" {
			continue
		}
		sb.WriteString(d.Name)
		sb.WriteByte('=')
		sb.WriteString(d.Element)
		sb.WriteByte(';')
	}
	sb.WriteByte('|')
	for _, m := range p.Meters {
		if m.Name == "" {
			continue
		}
		sb.WriteString(m.Name)
		sb.WriteByte(';')
	}
	return sb.String()
}

// Similarity scores how closely other matches p: the number of leading
// product dimensions equal in name and element, then the number of leading
// product meters with equal names. Products are not compared.
func (p ProductInfo) Similarity(other ProductInfo) (dimensions, meters int) {
	for i := 0; i < len(p.Dimensions) && i < len(other.Dimensions); i++ {
		if p.Dimensions[i] != other.Dimensions[i] {
			break
		}
		dimensions++
	}
	for i := 0; i < len(p.Meters) && i < len(other.Meters); i++ {
		if p.Meters[i].Name != other.Meters[i].Name {
			break
		}
		meters++
	}
	return dimensions, meters
}

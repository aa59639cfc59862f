package utils

import (
	"fmt"
	"strings"
)

type HasValue interface {
	Value() string
}

// FormatEnumTypes lists the accepted values of an enum.
func FormatEnumTypes[T HasValue](enums []T) string {
	return bracketed(enums, func(e T) string { return e.Value() })
}

// FormatList renders items as "[a, b]", e.g. the link candidates a
// negotiation attempted.
func FormatList[T fmt.Stringer](items []T) string {
	return bracketed(items, func(item T) string { return item.String() })
}

func bracketed[T any](items []T, render func(T) string) string {
	mapped := make([]string, 0, len(items))
	for _, item := range items {
		mapped = append(mapped, render(item))
	}
	return "[" + strings.Join(mapped, ", ") + "]"
}

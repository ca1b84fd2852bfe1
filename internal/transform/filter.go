package transform

import "strings"

// Filter is a named convolution filter. The declaration order is the order in
// which the pipeline applies them.
type Filter uint8

const (
	FilterBlur Filter = iota
	FilterContour
	FilterDetail
	FilterEdgeEnhance
	FilterEdgeEnhanceMore
	FilterFindEdges
	FilterSharpen
	FilterSmooth
	FilterSmoothMore

	filterCount
)

var filterNames = [filterCount]string{
	"BLUR",
	"CONTOUR",
	"DETAIL",
	"EDGE_ENHANCE",
	"EDGE_ENHANCE_MORE",
	"FIND_EDGES",
	"SHARPEN",
	"SMOOTH",
	"SMOOTH_MORE",
}

func (f Filter) String() string {
	if f >= filterCount {
		return "UNKNOWN"
	}
	return filterNames[f]
}

// ParseFilter resolves a filter name case-insensitively.
func ParseFilter(name string) (Filter, bool) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for i, n := range filterNames {
		if n == name {
			return Filter(i), true
		}
	}
	return 0, false
}

// FilterSet is an order-independent set of filters stored as a bitmask.
type FilterSet uint16

func NewFilterSet(filters ...Filter) FilterSet {
	var s FilterSet
	for _, f := range filters {
		s = s.With(f)
	}
	return s
}

func (s FilterSet) With(f Filter) FilterSet {
	if f >= filterCount {
		return s
	}
	return s | 1<<f
}

func (s FilterSet) Has(f Filter) bool {
	return f < filterCount && s&(1<<f) != 0
}

func (s FilterSet) Empty() bool { return s == 0 }

// Filters lists the members in application order.
func (s FilterSet) Filters() []Filter {
	out := make([]Filter, 0, filterCount)
	for f := Filter(0); f < filterCount; f++ {
		if s.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

func (s FilterSet) String() string {
	filters := s.Filters()
	names := make([]string, len(filters))
	for i, f := range filters {
		names[i] = f.String()
	}
	return strings.Join(names, ",")
}

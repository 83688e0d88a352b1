package classifier

import "sort"

// LabelEncoder maps category names to stable integer indexes. Classes are
// sorted so the encoding only depends on the label set, not sample order.
type LabelEncoder struct {
	Classes []string `json:"classes"`

	index map[string]int
}

// FitEncoder builds an encoder over the distinct labels in the input.
func FitEncoder(labels []string) *LabelEncoder {
	seen := make(map[string]struct{}, len(labels))
	for _, label := range labels {
		seen[label] = struct{}{}
	}
	classes := make([]string, 0, len(seen))
	for label := range seen {
		classes = append(classes, label)
	}
	sort.Strings(classes)

	enc := &LabelEncoder{Classes: classes}
	enc.buildIndex()
	return enc
}

func (e *LabelEncoder) buildIndex() {
	e.index = make(map[string]int, len(e.Classes))
	for i, class := range e.Classes {
		e.index[class] = i
	}
}

// Encode returns the index of a label.
func (e *LabelEncoder) Encode(label string) (int, bool) {
	if e.index == nil {
		e.buildIndex()
	}
	idx, ok := e.index[label]
	return idx, ok
}

// Decode returns the label at an index.
func (e *LabelEncoder) Decode(idx int) string {
	if idx < 0 || idx >= len(e.Classes) {
		return ""
	}
	return e.Classes[idx]
}

// NumClasses returns the number of known labels.
func (e *LabelEncoder) NumClasses() int {
	return len(e.Classes)
}

package operator

import (
	"fmt"

	"github.com/l7mp/deltaflow/pkg/zset"
)

// FieldExtractor extracts a single top-level field from a tuple.
type FieldExtractor struct {
	field string
}

// NewFieldExtractor creates an extractor for a top-level field.
func NewFieldExtractor(field string) *FieldExtractor {
	return &FieldExtractor{field: field}
}

func (e *FieldExtractor) Extract(t zset.Tuple) (any, error) {
	return t[e.field], nil
}

func (e *FieldExtractor) String() string {
	return fmt.Sprintf("field(%s)", e.field)
}

// ConstExtractor returns the same key for every tuple, collapsing the whole
// input into a single group (COUNT(*)-style global aggregates).
type ConstExtractor struct {
	value any
}

// NewConstExtractor creates a constant extractor.
func NewConstExtractor(value any) *ConstExtractor {
	return &ConstExtractor{value: value}
}

func (e *ConstExtractor) Extract(zset.Tuple) (any, error) {
	return e.value, nil
}

func (e *ConstExtractor) String() string {
	return fmt.Sprintf("const(%v)", e.value)
}

// ProjectMapper keeps only the named fields of a tuple.
type ProjectMapper struct {
	fields []string
}

// NewProjectMapper creates a projection over the given fields.
func NewProjectMapper(fields ...string) *ProjectMapper {
	return &ProjectMapper{fields: fields}
}

func (m *ProjectMapper) Map(t zset.Tuple) ([]zset.Tuple, error) {
	result := zset.NewTuple()
	for _, f := range m.fields {
		if val, ok := t[f]; ok {
			result[f] = val
		}
	}
	return []zset.Tuple{result}, nil
}

func (m *ProjectMapper) String() string {
	return fmt.Sprintf("project(%v)", m.fields)
}

// MergeCombiner joins matched tuples by merging their fields under the
// configured side names.
type MergeCombiner struct {
	leftName, rightName string
}

// NewMergeCombiner creates a combiner nesting the two sides under names.
func NewMergeCombiner(leftName, rightName string) *MergeCombiner {
	return &MergeCombiner{leftName: leftName, rightName: rightName}
}

func (c *MergeCombiner) Combine(left, right zset.Tuple) ([]zset.Tuple, error) {
	return []zset.Tuple{{c.leftName: left, c.rightName: right}}, nil
}

func (c *MergeCombiner) String() string {
	return fmt.Sprintf("merge(%s,%s)", c.leftName, c.rightName)
}

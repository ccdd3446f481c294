package segment

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FieldType is the declared value type of a segmentable attribute.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeDate    FieldType = "date"
	TypeBoolean FieldType = "boolean"
)

// Operator is one token of the global operator vocabulary.
type Operator string

const (
	OpGt         Operator = ">"
	OpLt         Operator = "<"
	OpGte        Operator = ">="
	OpLte        Operator = "<="
	OpEq         Operator = "="
	OpNeq        Operator = "!="
	OpContains   Operator = "contains"
	OpStartsWith Operator = "startsWith"
	OpEndsWith   Operator = "endsWith"
	OpBefore     Operator = "before"
	OpAfter      Operator = "after"
	OpBetween    Operator = "between"
)

var vocabulary = map[Operator]string{
	OpGt:         "Greater than",
	OpLt:         "Less than",
	OpGte:        "Greater than or equal",
	OpLte:        "Less than or equal",
	OpEq:         "Equal to",
	OpNeq:        "Not equal to",
	OpContains:   "Contains",
	OpStartsWith: "Starts with",
	OpEndsWith:   "Ends with",
	OpBefore:     "Before",
	OpAfter:      "After",
	OpBetween:    "Between",
}

// Label returns the display label of an operator, or the token itself.
func (o Operator) Label() string {
	if l, ok := vocabulary[o]; ok {
		return l
	}
	return string(o)
}

// Known reports whether the operator belongs to the global vocabulary.
func (o Operator) Known() bool {
	_, ok := vocabulary[o]
	return ok
}

var (
	ErrFieldNotFound   = errors.New("field not found")
	ErrUnknownOperator = errors.New("operator not in vocabulary")
	ErrUnknownType     = errors.New("unknown field type")
	ErrEmptyCatalog    = errors.New("field catalog is empty")
)

// FieldOption describes one segmentable attribute.
type FieldOption struct {
	ID        string     `json:"id" yaml:"id"`
	Label     string     `json:"label" yaml:"label"`
	Type      FieldType  `json:"type" yaml:"type"`
	Operators []Operator `json:"operators" yaml:"operators"`
}

// Catalog is the static registry of segmentable attributes. It is built once
// and never mutated afterwards, so it is safe for concurrent readers.
type Catalog struct {
	fields []FieldOption
	byID   map[string]int
}

// NewCatalog validates the options and builds a catalog preserving their order.
func NewCatalog(fields []FieldOption) (*Catalog, error) {
	if len(fields) == 0 {
		return nil, ErrEmptyCatalog
	}
	c := &Catalog{
		fields: make([]FieldOption, 0, len(fields)),
		byID:   make(map[string]int, len(fields)),
	}
	for _, f := range fields {
		if f.ID == "" {
			return nil, fmt.Errorf("field option without id")
		}
		if _, dup := c.byID[f.ID]; dup {
			return nil, fmt.Errorf("duplicate field %q", f.ID)
		}
		switch f.Type {
		case TypeString, TypeNumber, TypeDate, TypeBoolean:
		default:
			return nil, fmt.Errorf("field %q: %w: %q", f.ID, ErrUnknownType, f.Type)
		}
		if len(f.Operators) == 0 {
			return nil, fmt.Errorf("field %q has no operators", f.ID)
		}
		for _, op := range f.Operators {
			if !op.Known() {
				return nil, fmt.Errorf("field %q: %w: %q", f.ID, ErrUnknownOperator, op)
			}
		}
		f.Operators = append([]Operator(nil), f.Operators...)
		c.byID[f.ID] = len(c.fields)
		c.fields = append(c.fields, f)
	}
	return c, nil
}

// ListFields returns the field options in declaration order.
func (c *Catalog) ListFields() []FieldOption {
	out := make([]FieldOption, len(c.fields))
	for i, f := range c.fields {
		f.Operators = append([]Operator(nil), f.Operators...)
		out[i] = f
	}
	return out
}

// Field looks up a field option by id.
func (c *Catalog) Field(id string) (FieldOption, bool) {
	i, ok := c.byID[id]
	if !ok {
		return FieldOption{}, false
	}
	return c.fields[i], true
}

// OperatorsFor returns the legal operators of a field in declared order.
func (c *Catalog) OperatorsFor(fieldID string) ([]Operator, error) {
	f, ok := c.Field(fieldID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrFieldNotFound, fieldID)
	}
	return append([]Operator(nil), f.Operators...), nil
}

// Allows reports whether op is legal for the field.
func (f FieldOption) Allows(op Operator) bool {
	for _, o := range f.Operators {
		if o == op {
			return true
		}
	}
	return false
}

// DefaultValue is the value a rule takes when it starts referencing this field.
func (f FieldOption) DefaultValue() any {
	if f.Type == TypeBoolean {
		return true
	}
	return ""
}

var (
	numericOps = []Operator{OpGt, OpLt, OpGte, OpLte, OpEq, OpNeq}
	dateOps    = []Operator{OpBefore, OpAfter, OpBetween}
)

// DefaultFields is the stock customer catalog used when no catalog file is configured.
func DefaultFields() []FieldOption {
	return []FieldOption{
		{ID: "spend", Label: "Total Spend", Type: TypeNumber, Operators: numericOps},
		{ID: "inactive", Label: "Inactive Days", Type: TypeNumber, Operators: numericOps},
		{ID: "lastPurchase", Label: "Last Purchase Date", Type: TypeDate, Operators: dateOps},
		{ID: "purchaseCount", Label: "Purchase Count", Type: TypeNumber, Operators: numericOps},
		{ID: "location", Label: "Location", Type: TypeString, Operators: []Operator{OpEq, OpNeq, OpContains, OpStartsWith}},
		{ID: "email", Label: "Email", Type: TypeString, Operators: []Operator{OpEq, OpNeq, OpContains, OpEndsWith}},
		{ID: "subscribed", Label: "Is Subscribed", Type: TypeBoolean, Operators: []Operator{OpEq}},
	}
}

// DefaultCatalog builds the stock catalog. It panics only if DefaultFields is broken.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultFields())
	if err != nil {
		panic(err)
	}
	return c
}

// LoadCatalog reads a YAML list of field options:
//
//	fields:
//	  - id: spend
//	    label: Total Spend
//	    type: number
//	    operators: [">", "<"]
func LoadCatalog(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}
	defer f.Close()

	var doc struct {
		Fields []FieldOption `yaml:"fields"`
	}
	if err := yaml.NewDecoder(f).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode catalog %s: %w", path, err)
	}
	return NewCatalog(doc.Fields)
}

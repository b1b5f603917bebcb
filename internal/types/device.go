package types

type DataType string

const (
	DataTypeVoid    DataType = "void"
	DataTypeBool    DataType = "bool"
	DataTypeInt32   DataType = "int32"
	DataTypeFloat64 DataType = "float64"
	DataTypeString  DataType = "string"
)

type AccessType string

const (
	AccessTypeReadOnly  AccessType = "read_only"
	AccessTypeReadWrite AccessType = "read_write"
)

// DisplayLevel controls which clients list an attribute by default.
type DisplayLevel string

const (
	DisplayLevelOperator DisplayLevel = "operator"
	DisplayLevelExpert   DisplayLevel = "expert"
)

// AttributeInfo describes one attribute exposed by a hosted device.
type AttributeInfo struct {
	Name        string       `json:"name" yaml:"name"`
	Label       string       `json:"label" yaml:"label"`
	DataType    DataType     `json:"data_type" yaml:"data_type"`
	Access      AccessType   `json:"access" yaml:"access"`
	Display     DisplayLevel `json:"display_level" yaml:"display_level"`
	Unit        string       `json:"unit,omitempty" yaml:"unit,omitempty"`
	Description string       `json:"description" yaml:"description"`
}

// Readable reports whether clients may read the attribute.
func (a AttributeInfo) Readable() bool {
	return a.Access == AccessTypeReadOnly || a.Access == AccessTypeReadWrite
}

// CommandInfo describes one command exposed by a hosted device.
type CommandInfo struct {
	Name        string   `json:"name" yaml:"name"`
	InputType   DataType `json:"input_type" yaml:"input_type"`
	OutputType  DataType `json:"output_type" yaml:"output_type"`
	Description string   `json:"description" yaml:"description"`
}

// AttributeValue is a single successful attribute read.
type AttributeValue struct {
	Device    string  `json:"device"`
	Attribute string  `json:"attribute"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
}

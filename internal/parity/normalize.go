package parity

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

const DefaultPrecision = 6

var ErrUnsupportedType = errors.New("parity: unsupported value type")

// Normalizer canonicalizes a structured record into a byte encoding
// that is independent of insertion order and iteration order.
//
// Floats are rounded to a fixed decimal precision to absorb platform
// floating-point noise, mapping keys and struct fields are sorted
// lexicographically, and fields with a leading underscore are treated
// as private bookkeeping and excluded.
type Normalizer struct {
	precision int
}

// NewNormalizer builds a normalizer with the given float precision.
// Non-positive precision falls back to the default of 6.
func NewNormalizer(precision int) *Normalizer {
	if precision <= 0 {
		precision = DefaultPrecision
	}
	return &Normalizer{precision: precision}
}

// Precision returns the configured rounding precision.
func (n *Normalizer) Precision() int { return n.precision }

// Normalize encodes v canonically.
func (n *Normalizer) Normalize(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := n.write(&buf, reflect.ValueOf(v)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (n *Normalizer) write(buf *bytes.Buffer, v reflect.Value) error {
	if !v.IsValid() {
		buf.WriteString("null")
		return nil
	}
	switch v.Kind() {
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			buf.WriteString("null")
			return nil
		}
		return n.write(buf, v.Elem())
	case reflect.Bool:
		buf.WriteString(strconv.FormatBool(v.Bool()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		buf.WriteString(strconv.FormatInt(v.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		buf.WriteString(strconv.FormatUint(v.Uint(), 10))
	case reflect.Float32, reflect.Float64:
		buf.WriteString(n.FormatFloat(v.Float()))
	case reflect.String:
		buf.WriteString(strconv.Quote(v.String()))
	case reflect.Slice, reflect.Array:
		return n.writeSequence(buf, v)
	case reflect.Map:
		return n.writeMap(buf, v)
	case reflect.Struct:
		return n.writeStruct(buf, v)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedType, v.Kind())
	}
	return nil
}

func (n *Normalizer) writeSequence(buf *bytes.Buffer, v reflect.Value) error {
	buf.WriteByte('[')
	for i := 0; i < v.Len(); i++ {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := n.write(buf, v.Index(i)); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

func (n *Normalizer) writeMap(buf *bytes.Buffer, v reflect.Value) error {
	keys := make([]string, 0, v.Len())
	values := make(map[string]reflect.Value, v.Len())
	for _, k := range v.MapKeys() {
		name := keyString(k)
		if isPrivateName(name) {
			continue
		}
		keys = append(keys, name)
		values[name] = v.MapIndex(k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(';')
		}
		buf.WriteString(k)
		buf.WriteByte('=')
		if err := n.write(buf, values[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func (n *Normalizer) writeStruct(buf *bytes.Buffer, v reflect.Value) error {
	t := v.Type()
	keys := make([]string, 0, t.NumField())
	values := make(map[string]reflect.Value, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name := fieldName(field)
		if name == "" || isPrivateName(name) {
			continue
		}
		keys = append(keys, name)
		values[name] = v.Field(i)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(';')
		}
		buf.WriteString(k)
		buf.WriteByte('=')
		if err := n.write(buf, values[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

// FormatFloat renders a float rounded to the configured precision.
func (n *Normalizer) FormatFloat(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "null"
	}
	shift := math.Pow10(n.precision)
	rounded := math.Round(f*shift) / shift
	return strconv.FormatFloat(rounded, 'f', n.precision, 64)
}

func keyString(k reflect.Value) string {
	switch k.Kind() {
	case reflect.String:
		return k.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(k.Uint(), 10)
	default:
		return fmt.Sprint(k.Interface())
	}
}

func fieldName(field reflect.StructField) string {
	tag := field.Tag.Get("json")
	if tag == "" {
		return field.Name
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "-" {
		return ""
	}
	if name == "" {
		return field.Name
	}
	return name
}

func isPrivateName(name string) bool {
	return strings.HasPrefix(name, "_")
}

// Package canonical produces the RFC 8785 (JCS) serialization of JSON-like
// values and the SHA-256 digests that bind terms documents to consent and
// settlement.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/gowebpki/jcs"
)

var (
	// ErrUnsupportedValue is returned when the top-level value has no JSON form
	ErrUnsupportedValue = errors.New("canonicalization does not support non-JSON values")

	// ErrNonFiniteNumber is returned for NaN and infinite numbers anywhere in the tree
	ErrNonFiniteNumber = errors.New("canonicalization requires finite numbers")
)

var (
	jsonMarshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
	jsonNumberType    = reflect.TypeOf(json.Number(""))
)

// Canonicalize returns the JCS text of v.
//
// Object keys are sorted, arrays keep their order and -0 becomes 0. Values
// with no JSON form (funcs, channels, complex numbers) are dropped from
// objects and become null inside arrays.
func Canonicalize(v interface{}) ([]byte, error) {
	tree, keep, err := normalize(reflect.ValueOf(v), false)
	if err != nil {
		return nil, err
	}
	if !keep {
		return nil, ErrUnsupportedValue
	}

	raw, err := marshal(tree)
	if err != nil {
		return nil, err
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("jcs transform: %w", err)
	}
	return out, nil
}

// Hash returns the lowercase hex SHA-256 of the canonical text of v
func Hash(v interface{}) (string, error) {
	text, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return HashBytes(text), nil
}

// HashBytes returns the lowercase hex SHA-256 of b
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// marshal encodes without HTML escaping so strings reach jcs untouched
func marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// normalize converts v into a tree of nil, bool, string, json.Number,
// []interface{} and map[string]interface{}. keep is false when v has no
// JSON form.
func normalize(v reflect.Value, inArray bool) (interface{}, bool, error) {
	if !v.IsValid() {
		return nil, true, nil
	}

	if v.Type() == jsonNumberType {
		return normalizeDecoded(json.Number(v.String()))
	}

	if v.Type().Implements(jsonMarshalerType) || v.Type().Implements(textMarshalerType) {
		if (v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface) && v.IsNil() {
			return nil, true, nil
		}
		return viaValue(v)
	}
	if v.Kind() != reflect.Ptr && v.CanAddr() {
		pt := reflect.PointerTo(v.Type())
		if pt.Implements(jsonMarshalerType) || pt.Implements(textMarshalerType) {
			return viaValue(v.Addr())
		}
	}

	switch v.Kind() {
	case reflect.Interface, reflect.Ptr:
		if v.IsNil() {
			return nil, true, nil
		}
		return normalize(v.Elem(), inArray)

	case reflect.Bool:
		return v.Bool(), true, nil

	case reflect.String:
		return v.String(), true, nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return json.Number(strconv.FormatInt(v.Int(), 10)), true, nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return json.Number(strconv.FormatUint(v.Uint(), 10)), true, nil

	case reflect.Float32, reflect.Float64:
		n, err := finite(v.Float())
		return n, err == nil, err

	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return viaValue(v)
		}
		if v.IsNil() {
			return nil, true, nil
		}
		out := make(map[string]interface{}, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			child, keep, err := normalize(iter.Value(), false)
			if err != nil {
				return nil, false, err
			}
			if keep {
				out[iter.Key().String()] = child
			}
		}
		return out, true, nil

	case reflect.Slice:
		if v.IsNil() {
			return nil, true, nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return viaValue(v)
		}
		fallthrough
	case reflect.Array:
		out := make([]interface{}, v.Len())
		for i := 0; i < v.Len(); i++ {
			child, keep, err := normalize(v.Index(i), true)
			if err != nil {
				return nil, false, err
			}
			if keep {
				out[i] = child
			}
		}
		return out, true, nil

	case reflect.Struct:
		return normalizeStruct(v)

	default:
		// func, chan, complex, unsafe.Pointer
		if inArray {
			return nil, true, nil
		}
		return nil, false, nil
	}
}

// normalizeStruct walks exported fields under their json names. Fields are
// object members, so unsupported values are dropped like map values.
func normalizeStruct(v reflect.Value) (interface{}, bool, error) {
	fields := structFields(v.Type())
	out := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		fv, ok := fieldByIndex(v, f.index)
		if !ok {
			continue
		}
		if f.omitEmpty && isEmptyValue(fv) {
			continue
		}
		child, keep, err := normalize(fv, false)
		if err != nil {
			return nil, false, err
		}
		if keep {
			out[f.name] = child
		}
	}
	return out, true, nil
}

type structField struct {
	name      string
	index     []int
	tagged    bool
	omitEmpty bool
}

var fieldCache sync.Map // reflect.Type -> []structField

// structFields lists the JSON members of t with encoding/json's rules:
// json:"-" is skipped, untagged embedded structs are flattened, and among
// fields sharing a name the shallowest (then the tagged) one wins. Ambiguous
// names are dropped.
func structFields(t reflect.Type) []structField {
	if cached, ok := fieldCache.Load(t); ok {
		return cached.([]structField)
	}

	var all []structField
	var walk func(t reflect.Type, index []int, visiting map[reflect.Type]bool)
	walk = func(t reflect.Type, index []int, visiting map[reflect.Type]bool) {
		visiting[t] = true
		defer delete(visiting, t)

		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			tag := sf.Tag.Get("json")
			if tag == "-" {
				continue
			}
			name, opts, _ := strings.Cut(tag, ",")
			idx := append(append(make([]int, 0, len(index)+1), index...), i)

			ft := sf.Type
			if ft.Kind() == reflect.Ptr {
				ft = ft.Elem()
			}
			if sf.Anonymous && name == "" && ft.Kind() == reflect.Struct {
				if !visiting[ft] {
					walk(ft, idx, visiting)
				}
				continue
			}
			if !sf.IsExported() {
				continue
			}

			field := structField{name: name, index: idx, tagged: name != ""}
			if !field.tagged {
				field.name = sf.Name
			}
			for _, opt := range strings.Split(opts, ",") {
				if opt == "omitempty" {
					field.omitEmpty = true
				}
			}
			all = append(all, field)
		}
	}
	walk(t, nil, map[reflect.Type]bool{})

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].name != all[j].name {
			return all[i].name < all[j].name
		}
		if len(all[i].index) != len(all[j].index) {
			return len(all[i].index) < len(all[j].index)
		}
		return all[i].tagged && !all[j].tagged
	})

	fields := make([]structField, 0, len(all))
	for i := 0; i < len(all); {
		j := i + 1
		for j < len(all) && all[j].name == all[i].name {
			j++
		}
		best := all[i]
		ambiguous := j > i+1 && len(all[i+1].index) == len(best.index) && all[i+1].tagged == best.tagged
		if !ambiguous {
			fields = append(fields, best)
		}
		i = j
	}

	fieldCache.Store(t, fields)
	return fields
}

// fieldByIndex follows index through embedded pointers. ok is false when a
// nil embedded pointer hides the field.
func fieldByIndex(v reflect.Value, index []int) (reflect.Value, bool) {
	for i, x := range index {
		if i > 0 && v.Kind() == reflect.Ptr {
			if v.IsNil() {
				return reflect.Value{}, false
			}
			v = v.Elem()
		}
		v = v.Field(x)
	}
	return v, true
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Interface, reflect.Ptr:
		return v.IsNil()
	}
	return false
}

func viaValue(v reflect.Value) (interface{}, bool, error) {
	if !v.CanInterface() {
		return nil, false, fmt.Errorf("canonical: %s is reachable only through an unexported field", v.Type())
	}
	return viaJSON(v.Interface())
}

// viaJSON round-trips v through encoding/json so custom marshalers apply,
// then normalizes the decoded tree.
func viaJSON(v interface{}) (interface{}, bool, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		var ute *json.UnsupportedValueError
		if errors.As(err, &ute) {
			return nil, false, fmt.Errorf("%w: %v", ErrNonFiniteNumber, err)
		}
		return nil, false, fmt.Errorf("canonical: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree interface{}
	if err := dec.Decode(&tree); err != nil {
		return nil, false, fmt.Errorf("canonical: %w", err)
	}
	return normalizeDecoded(tree)
}

func normalizeDecoded(tree interface{}) (interface{}, bool, error) {
	switch t := tree.(type) {
	case json.Number:
		if t == "" {
			return json.Number("0"), true, nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, false, fmt.Errorf("%w: %s", ErrNonFiniteNumber, t)
		}
		n, err := finite(f)
		if err != nil {
			return nil, false, err
		}
		if f == 0 {
			return n, true, nil
		}
		return t, true, nil
	case map[string]interface{}:
		for k, child := range t {
			n, _, err := normalizeDecoded(child)
			if err != nil {
				return nil, false, err
			}
			t[k] = n
		}
		return t, true, nil
	case []interface{}:
		for i, child := range t {
			n, _, err := normalizeDecoded(child)
			if err != nil {
				return nil, false, err
			}
			t[i] = n
		}
		return t, true, nil
	default:
		return t, true, nil
	}
}

func finite(f float64) (json.Number, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", ErrNonFiniteNumber
	}
	if f == 0 {
		return json.Number("0"), nil
	}
	return json.Number(strconv.FormatFloat(f, 'g', -1, 64)), nil
}

package canonical

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// objectText renders keys/values as a JSON object in the given order
func objectText(keys []string, values map[string]string, reverse bool) json.RawMessage {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i := range keys {
		k := keys[i]
		if reverse {
			k = keys[len(keys)-1-i]
		}
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		vb, _ := json.Marshal(values[k])
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes()
}

func TestHashIgnoresKeyOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("digest is independent of key insertion order", prop.ForAll(
		func(keys []string, vals []string) bool {
			values := make(map[string]string)
			var unique []string
			for i, k := range keys {
				if _, seen := values[k]; seen {
					continue
				}
				v := ""
				if i < len(vals) {
					v = vals[i]
				}
				values[k] = v
				unique = append(unique, k)
			}

			forward, err1 := Hash(objectText(unique, values, false))
			backward, err2 := Hash(objectText(unique, values, true))
			if err1 != nil || err2 != nil {
				return false
			}
			return forward == backward
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AnyString()),
	))

	properties.Property("canonical text is stable under re-canonicalization", prop.ForAll(
		func(keys []string) bool {
			obj := make(map[string]interface{})
			for i, k := range keys {
				obj[k] = []interface{}{i, k}
			}
			first, err := Canonicalize(obj)
			if err != nil {
				return false
			}
			second, err := Canonicalize(json.RawMessage(first))
			if err != nil {
				return false
			}
			return bytes.Equal(first, second)
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

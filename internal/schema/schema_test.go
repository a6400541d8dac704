package schema

import "testing"

const testSchema = `{
	"type": "object",
	"required": ["id"],
	"properties": {
		"id": {"type": "string", "pattern": "\\S"}
	}
}`

func TestSchemaValidate(t *testing.T) {
	s := MustCompile("test", testSchema)

	if r := s.Validate(map[string]string{"id": "x"}); !r.Valid {
		t.Errorf("Expected valid document, got %v", r.Errors)
	}

	r := s.Validate(map[string]string{"id": " "})
	if r.Valid {
		t.Fatalf("Expected blank id to fail")
	}
	if len(r.Errors) == 0 {
		t.Errorf("Expected error descriptions")
	}

	if r := s.Validate(map[string]int{}); r.Valid {
		t.Errorf("Expected missing id to fail")
	}
}

func TestMustCompilePanicsOnBadSchema(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("Expected panic")
		}
	}()
	MustCompile("bad", `{"type": 12}`)
}

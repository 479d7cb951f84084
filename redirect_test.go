package oauth

import "testing"

func TestConstructRedirectURI(t *testing.T) {
	tests := []struct {
		name    string
		baseURI string
		params  []QueryParam
		want    string
	}{
		{
			name:    "no existing query",
			baseURI: "https://cb.example.com/cb",
			params:  []QueryParam{Param("code", "abc"), Param("state", "xyz")},
			want:    "https://cb.example.com/cb?code=abc&state=xyz",
		},
		{
			name:    "existing query preserved before new params",
			baseURI: "https://cb.example.com/cb?foo=1",
			params:  []QueryParam{Param("code", "abc"), AbsentParam("state")},
			want:    "https://cb.example.com/cb?foo=1&code=abc",
		},
		{
			name:    "absent params skipped entirely",
			baseURI: "https://cb.example.com/cb",
			params:  []QueryParam{AbsentParam("code"), AbsentParam("state")},
			want:    "https://cb.example.com/cb",
		},
		{
			name:    "existing query order preserved",
			baseURI: "https://cb.example.com/cb?z=26&a=1&m=13",
			params:  []QueryParam{Param("code", "abc")},
			want:    "https://cb.example.com/cb?z=26&a=1&m=13&code=abc",
		},
		{
			name:    "values are escaped",
			baseURI: "https://cb.example.com/cb",
			params:  []QueryParam{Param("error_description", "bad request value")},
			want:    "https://cb.example.com/cb?error_description=bad+request+value",
		},
		{
			name:    "empty value is present not absent",
			baseURI: "https://cb.example.com/cb",
			params:  []QueryParam{Param("state", "")},
			want:    "https://cb.example.com/cb?state=",
		},
		{
			name:    "duplicate keys kept",
			baseURI: "https://cb.example.com/cb?code=old",
			params:  []QueryParam{Param("code", "new")},
			want:    "https://cb.example.com/cb?code=old&code=new",
		},
		{
			name:    "no params leaves base untouched",
			baseURI: "https://cb.example.com/cb?foo=1&bar=2",
			params:  nil,
			want:    "https://cb.example.com/cb?foo=1&bar=2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ConstructRedirectURI(tt.baseURI, tt.params...)
			if err != nil {
				t.Fatalf("ConstructRedirectURI() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ConstructRedirectURI() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConstructRedirectURI_InvalidBase(t *testing.T) {
	_, err := ConstructRedirectURI("://not-a-url", Param("code", "abc"))
	if err == nil {
		t.Fatal("expected error for invalid base URI")
	}
}

func TestConstructRedirectURI_InvalidQueryEscape(t *testing.T) {
	_, err := ConstructRedirectURI("https://cb.example.com/cb?bad=%zz", Param("code", "abc"))
	if err == nil {
		t.Fatal("expected error for invalid percent escape in base query")
	}
}

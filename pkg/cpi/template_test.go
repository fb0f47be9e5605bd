package cpi

import "testing"

func TestRenderScalars(t *testing.T) {
	got := Render("docker run {image} --name {name}", map[string]any{
		"image": "nginx",
		"name":  "web",
	})
	want := "docker run nginx --name web"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestRenderMissingPlaceholderPassesThrough(t *testing.T) {
	got := Render("echo {missing}", map[string]any{})
	if got != "echo {missing}" {
		t.Errorf("expected placeholder left verbatim, got %q", got)
	}
}

func TestRenderRepeatedPlaceholder(t *testing.T) {
	got := Render("docker stop {name} && docker rm {name}", map[string]any{"name": "web"})
	want := "docker stop web && docker rm web"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestRenderSequenceFlattening(t *testing.T) {
	got := Render("-p {ports}", map[string]any{"ports": []string{"80:80", "443:443"}})
	want := `-p "80:80","443:443"`
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestRenderEmptySequence(t *testing.T) {
	got := Render("-p {ports}", map[string]any{"ports": []string{}})
	if got != "-p " {
		t.Errorf("expected empty expansion, got %q", got)
	}
}

func TestRenderMappingFlattening(t *testing.T) {
	// Map keys serialize sorted, so the output is deterministic.
	got := Render("-e {env}", map[string]any{"env": map[string]string{"B": "2", "A": "1"}})
	want := `-e "A":"1","B":"2"`
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestRenderScalarForms(t *testing.T) {
	tests := []struct {
		name     string
		template string
		params   map[string]any
		want     string
	}{
		{"bool", "flag={v}", map[string]any{"v": true}, "flag=true"},
		{"int", "t={v}", map[string]any{"v": 30}, "t=30"},
		{"int64", "t={v}", map[string]any{"v": int64(8081)}, "t=8081"},
		{"float", "cpu={v}", map[string]any{"v": 1.5}, "cpu=1.5"},
		{"whole float", "port={v}", map[string]any{"v": float64(8081)}, "port=8081"},
		{"null", "v={v}", map[string]any{"v": nil}, "v=null"},
	}

	for _, tc := range tests {
		if got := Render(tc.template, tc.params); got != tc.want {
			t.Errorf("[%s] expected %q, got %q", tc.name, tc.want, got)
		}
	}
}

func TestRenderNestedMappingKeepsInnerDelimiters(t *testing.T) {
	got := Render("{cfg}", map[string]any{
		"cfg": map[string]any{"a": map[string]any{"b": 1}},
	})
	want := `"a":{"b":1}`
	if got != want {
		t.Errorf("expected only the outermost braces stripped, got %q", got)
	}
}

func TestRenderNoHTMLEscaping(t *testing.T) {
	got := Render("{v}", map[string]any{"v": []string{"a&b>c"}})
	want := `"a&b>c"`
	if got != want {
		t.Errorf("expected shell characters untouched, got %q", got)
	}
}

func TestRenderFormatStringsUntouched(t *testing.T) {
	// docker --format templates share the brace syntax; only exact
	// parameter keys are substituted.
	got := Render("docker inspect --format '{{.State.Status}}' {name}", map[string]any{"name": "web"})
	want := "docker inspect --format '{{.State.Status}}' web"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestRenderDeterministic(t *testing.T) {
	template := "docker run -p {ports} -e {env} {image}"
	params := map[string]any{
		"ports": []string{"80:80"},
		"env":   map[string]string{"A": "1"},
		"image": "nginx",
	}

	first := Render(template, params)
	for i := 0; i < 10; i++ {
		if got := Render(template, params); got != first {
			t.Fatalf("render not deterministic: %q vs %q", first, got)
		}
	}
}

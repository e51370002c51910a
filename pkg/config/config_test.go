package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type sample struct {
	Name    string `yaml:"name"`
	Port    int    `yaml:"port"`
	Derived string `yaml:"-"`
}

func (s *sample) SetDefaults() { s.Derived = s.Name + "-derived" }

func (s *sample) Validate() error {
	if s.Port <= 0 {
		return errors.New("port must be positive")
	}
	return nil
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("SAMPLE_NAME", "lair")
	p := writeFile(t, "name: ${SAMPLE_NAME}\nport: 9000\n")

	var s sample
	if err := Load(p, &s); err != nil {
		t.Fatal(err)
	}
	if s.Name != "lair" || s.Port != 9000 || s.Derived != "lair-derived" {
		t.Errorf("loaded = %+v", s)
	}
}

func TestLoadValidates(t *testing.T) {
	p := writeFile(t, "name: x\nport: 0\n")
	var s sample
	err := Load(p, &s)
	if err == nil || !strings.Contains(err.Error(), "port must be positive") {
		t.Errorf("err = %v", err)
	}
}

func TestLoadWithDefaultsMissingFile(t *testing.T) {
	s := sample{Name: "default", Port: 8080}
	if err := LoadWithDefaults(filepath.Join(t.TempDir(), "absent.yaml"), &s); err != nil {
		t.Fatal(err)
	}
	if s.Name != "default" || s.Derived != "default-derived" {
		t.Errorf("defaults = %+v", s)
	}
}

func TestLoadBadYAML(t *testing.T) {
	p := writeFile(t, "name: [unclosed\n")
	var s sample
	if err := Load(p, &s); err == nil {
		t.Error("expected parse error")
	}
}

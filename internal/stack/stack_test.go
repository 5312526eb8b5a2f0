package stack

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	spec := Default()
	if err := spec.Validate(); err != nil {
		t.Fatalf("default spec invalid: %v", err)
	}
	if spec.AccessScope != ScopeHost || spec.IngressPort != 80 {
		t.Errorf("default exposure = %s:%d", spec.AccessScope, spec.IngressPort)
	}
	want := []string{"a2a", "api", "chat"}
	got := spec.ChannelNames()
	if len(got) != len(want) {
		t.Fatalf("channels = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("channels = %v, want %v", got, want)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Spec)
		wantOK bool
	}{
		{"default", func(s *Spec) {}, true},
		{"lan scope", func(s *Spec) { s.AccessScope = ScopeLAN }, true},
		{"public scope", func(s *Spec) { s.AccessScope = ScopePublic }, true},
		{"bad scope", func(s *Spec) { s.AccessScope = "internet" }, false},
		{"port zero", func(s *Spec) { s.IngressPort = 0 }, false},
		{"port too high", func(s *Spec) { s.IngressPort = 65536 }, false},
		{"empty channel name", func(s *Spec) { s.Channels[""] = ChannelSpec{} }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := Default()
			tt.mutate(spec)
			err := spec.Validate()
			if tt.wantOK && err != nil {
				t.Errorf("err = %v", err)
			}
			if !tt.wantOK && err == nil {
				t.Error("accepted")
			}
		})
	}

	spec := Default()
	spec.IngressPort = -1
	if err := spec.Validate(); !errors.Is(err, ErrInvalidIngressPort) {
		t.Errorf("err = %v, want ErrInvalidIngressPort", err)
	}
}

func TestBindAddress(t *testing.T) {
	spec := Default()
	if spec.BindAddress() != "127.0.0.1" {
		t.Errorf("host scope bind = %s", spec.BindAddress())
	}
	spec.AccessScope = ScopeLAN
	if spec.BindAddress() != "0.0.0.0" {
		t.Errorf("lan scope bind = %s", spec.BindAddress())
	}
}

func TestCloneIsDeep(t *testing.T) {
	spec := Default()
	spec.Channels["api"] = ChannelSpec{Env: map[string]string{"K": "v"}}

	cp := spec.Clone()
	cp.Channels["api"].Env["K"] = "changed"
	cp.Services[0] = "other"

	if spec.Channels["api"].Env["K"] != "v" {
		t.Error("clone shares channel env maps")
	}
	if spec.Services[0] == "other" {
		t.Error("clone shares the services slice")
	}
}

func TestLoadSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "openpalm.yaml")

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Channels) != 3 {
		t.Errorf("missing file should load defaults, got %+v", loaded)
	}

	loaded.AccessScope = ScopeLAN
	loaded.IngressPort = 8080
	loaded.Channels["discord"] = ChannelSpec{Env: map[string]string{"X": "1"}}
	if err := Save(path, loaded); err != nil {
		t.Fatal(err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.AccessScope != ScopeLAN || reloaded.IngressPort != 8080 {
		t.Errorf("reloaded = %+v", reloaded)
	}
	if reloaded.Channels["discord"].Env["X"] != "1" {
		t.Errorf("channels = %+v", reloaded.Channels)
	}
}

func TestLoadRejectsInvalidSpec(t *testing.T) {
	path := filepath.Join(t.TempDir(), "openpalm.yaml")
	os.WriteFile(path, []byte("accessScope: internet\ningressPort: 80\n"), 0o644)
	if _, err := Load(path); err == nil {
		t.Error("invalid spec accepted")
	}
}

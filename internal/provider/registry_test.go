package provider

import (
	"errors"
	"testing"
)

func TestRegistry_Ordered(t *testing.T) {
	r := NewRegistry()
	for _, d := range []Descriptor{
		{ID: "local", Priority: 100, Provider: NewMock("local")},
		{ID: "openai", Priority: 1, Provider: NewMock("openai")},
		{ID: "elevenlabs", Priority: 2, Provider: NewMock("elevenlabs")},
		{ID: "backup", Priority: 2, Provider: NewMock("backup")},
	} {
		if err := r.Register(d); err != nil {
			t.Fatalf("Register(%s) error = %v", d.ID, err)
		}
	}

	var ids []string
	for _, d := range r.Ordered() {
		ids = append(ids, d.ID)
	}
	want := []string{"openai", "elevenlabs", "backup", "local"}
	if len(ids) != len(want) {
		t.Fatalf("Ordered() = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("Ordered()[%d] = %s, want %s", i, ids[i], want[i])
		}
	}
	if r.Len() != 4 {
		t.Errorf("Len() = %d, want 4", r.Len())
	}
}

func TestRegistry_RegisterErrors(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Descriptor{ID: "openai", Provider: NewMock("openai")}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		d    Descriptor
		want error
	}{
		{"duplicate", Descriptor{ID: "OpenAI", Provider: NewMock("x")}, ErrDuplicateProvider},
		{"missing id", Descriptor{Provider: NewMock("x")}, ErrInvalidDescriptor},
		{"missing provider", Descriptor{ID: "x"}, ErrInvalidDescriptor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := r.Register(tt.d); !errors.Is(err, tt.want) {
				t.Errorf("Register() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRegistry_DescriptorsAreCopied(t *testing.T) {
	r := NewRegistry()
	formats := []string{"mp3"}
	r.Register(Descriptor{ID: "a", Provider: NewMock("a"), Criteria: Criteria{SupportedFormats: formats}})

	formats[0] = "wav"
	d, ok := r.ByID("A")
	if !ok {
		t.Fatal("ByID() did not find provider")
	}
	if d.Criteria.SupportedFormats[0] != "mp3" {
		t.Error("registered descriptor shares caller's slice")
	}

	d.Criteria.SupportedFormats[0] = "flac"
	again, _ := r.ByID("a")
	if again.Criteria.SupportedFormats[0] != "mp3" {
		t.Error("returned descriptor shares registry's slice")
	}
}

func TestDescriptor_Supports(t *testing.T) {
	d := Descriptor{
		ID:       "openai",
		Provider: NewMock("openai"),
		Criteria: Criteria{
			SupportedVoices:  []string{"alloy", "nova"},
			SupportedFormats: []string{"mp3", "wav"},
		},
	}

	tests := []struct {
		name string
		got  bool
		want bool
	}{
		{"listed format", d.SupportsFormat("mp3"), true},
		{"format case", d.SupportsFormat("WAV"), true},
		{"unlisted format", d.SupportsFormat("flac"), false},
		{"listed voice", d.SupportsVoice("nova"), true},
		{"unlisted voice", d.SupportsVoice("rachel"), false},
		{"default voice", d.SupportsVoice(""), true},
		{"empty list accepts all", Descriptor{}.SupportsFormat("opus"), true},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestDescriptor_IsAvailable(t *testing.T) {
	m := NewMock("m")
	d := Descriptor{ID: "m", Provider: m}
	if !d.IsAvailable() {
		t.Error("mock should be available by default")
	}
	m.SetAvailable(false)
	if d.IsAvailable() {
		t.Error("IsAvailable() should follow the provider")
	}

	d.Available = func() bool { return true }
	if !d.IsAvailable() {
		t.Error("Available override should win")
	}
	if (Descriptor{ID: "none"}).IsAvailable() {
		t.Error("descriptor without provider should be unavailable")
	}
}

func TestNewLimiter(t *testing.T) {
	if NewLimiter(0) != nil {
		t.Error("NewLimiter(0) should be nil")
	}
	l := NewLimiter(60)
	if l == nil || l.Burst() != 1 {
		t.Errorf("NewLimiter(60) = %v", l)
	}
}

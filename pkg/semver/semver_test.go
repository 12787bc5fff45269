package semver

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: "7.4p1 Debian 10+deb9u7", want: "7.4.0"},
		{raw: "2.4.49", want: "2.4.49"},
		{raw: "v1", want: "1.0.0"},
		{raw: "1.18.0 (Ubuntu)", want: "1.18.0"},
		{raw: "unknown", wantErr: true},
		{raw: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := Normalize(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Normalize() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.String() != tt.want {
				t.Errorf("Normalize() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSatisfies(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		constraint string
		want       bool
		wantErr    bool
	}{
		{name: "old openssh", raw: "7.4p1", constraint: "< 7.7", want: true},
		{name: "patched openssh", raw: "8.9p1", constraint: "< 7.7", want: false},
		{name: "range", raw: "2.4.49", constraint: ">= 2.4.49, <= 2.4.50", want: true},
		{name: "bad constraint", raw: "1.0", constraint: "foo", wantErr: true},
		{name: "bad version", raw: "n/a", constraint: "< 1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Satisfies(tt.raw, tt.constraint)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Satisfies() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Satisfies() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSort(t *testing.T) {
	got, err := Sort([]string{"2.1.0", "1.0.0", "1.2.0p3", "2.0"})
	if err != nil {
		t.Fatalf("Sort() error = %v", err)
	}
	want := []string{"1.0.0", "1.2.0", "2.0.0", "2.1.0"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Sort() mismatch (-want +got):\n%s", diff)
	}
	if _, err := Sort([]string{"x"}); err == nil {
		t.Error("Sort() expected error for invalid version")
	}
}

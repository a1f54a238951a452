package config

import "testing"

func TestProfileID(t *testing.T) {
	tests := []struct {
		display string
		want    string
	}{
		{"Default", "default"},
		{"Gaming", "gaming"},
		{"Video Editing", "video_editing"},
		{"  Photo  ", "photo"},
		{"", "default"},
		{"   ", "default"},
	}

	for _, tt := range tests {
		if got := ProfileID(tt.display); got != tt.want {
			t.Errorf("ProfileID(%q) = %q, want %q", tt.display, got, tt.want)
		}
	}
}

func TestProfileNames(t *testing.T) {
	got := ProfileNames("default", "video_editing", "gaming", "Video Editing", "photo")
	want := []string{"Default", "Gaming", "Editing", "video_editing", "photo"}

	if len(got) != len(want) {
		t.Fatalf("ProfileNames() = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ProfileNames()[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if got := ProfileNames(); len(got) != len(DefaultProfileNames) {
		t.Errorf("ProfileNames() with no stored profiles = %q", got)
	}
}

func TestDeviceSection_Profiles(t *testing.T) {
	d := DefaultDeviceSection()

	p, ok := d.DefaultProfile()
	if !ok {
		t.Fatal("DefaultProfile() found nothing")
	}
	if p.KeyCount() != 12 {
		t.Errorf("DefaultProfile().KeyCount() = %d, want 12", p.KeyCount())
	}
	if p.UI.Keys[0] != "K1" || p.UI.Keys[11] != "K12" {
		t.Errorf("DefaultProfile().UI.Keys = %v", p.UI.Keys)
	}

	if _, ok := d.MatchProfile(DefaultSignature); !ok {
		t.Error("MatchProfile() should match the stock firmware type")
	}
	if _, ok := d.MatchProfile("someone-elses-board"); ok {
		t.Error("MatchProfile() matched an unknown type")
	}

	if d.Signature() != DefaultSignature {
		t.Errorf("Signature() = %q, want %q", d.Signature(), DefaultSignature)
	}

	d.Profiles = append(d.Profiles, DeviceProfile{ID: "mini", Name: "Mini", Match: DeviceMatch{Type: "mini-pad"}, UI: DeviceUI{Keys: []string{"K1", "K2", "K3", "K4"}}})
	d.DefaultID = "mini"
	p, _ = d.MatchProfile("mini-pad")
	if p.ID != "mini" || p.KeyCount() != 4 {
		t.Errorf("MatchProfile(mini-pad) = %+v", p)
	}
	if d.Signature() != "mini-pad" {
		t.Errorf("Signature() = %q, want mini-pad", d.Signature())
	}

	empty := DeviceSection{}
	if _, ok := empty.DefaultProfile(); ok {
		t.Error("DefaultProfile() on an empty section should report false")
	}
	if empty.Signature() != DefaultSignature {
		t.Errorf("empty Signature() = %q, want %q", empty.Signature(), DefaultSignature)
	}
}

package config

import (
	"path/filepath"
	"testing"
)

func TestLoadRuntimeProfileMissingFileReturnsZeroValue(t *testing.T) {
	dir := t.TempDir()
	profile, err := LoadRuntimeProfile(dir)
	if err != nil {
		t.Fatal(err)
	}
	if profile.SessionHostID != "" || len(profile.ConvRoots) != 0 {
		t.Fatalf("expected zero-value profile, got %+v", profile)
	}
}

func TestSaveAndLoadRuntimeProfileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	original := &RuntimeProfile{
		SessionHostID: "host-1",
		Label:         "laptop",
		ConvRoots:     []string{"~/repos/api", "~/repos/infra"},
		Labels:        []string{"dev"},
		Debug:         true,
	}
	if err := SaveRuntimeProfile(dir, original); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadRuntimeProfile(dir)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.SessionHostID != original.SessionHostID || loaded.Label != original.Label {
		t.Fatalf("got %+v", loaded)
	}
	if len(loaded.ConvRoots) != 2 || loaded.ConvRoots[1] != "~/repos/infra" {
		t.Fatalf("got %+v", loaded.ConvRoots)
	}
	if !loaded.Debug {
		t.Fatalf("expected debug flag preserved")
	}

	if _, err := filepath.Abs(dir); err != nil {
		t.Fatal(err)
	}
}

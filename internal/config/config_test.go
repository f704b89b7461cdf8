// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInitMissingFileKeepsDefaults(t *testing.T) {
	if err := Init(filepath.Join(t.TempDir(), "does-not-exist.json")); err != nil {
		t.Fatalf("Init() on missing file returned error: %v", err)
	}
	if Keys.Port != 6789 {
		t.Errorf("expected default port 6789, got %d", Keys.Port)
	}
}

func TestInitOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	fp := filepath.Join(dir, "config.json")
	if err := os.WriteFile(fp, []byte(`{"port": 7000, "datapath": "/tmp/scanrec"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Init(fp); err != nil {
		t.Fatalf("Init() returned error: %v", err)
	}
	if Keys.Port != 7000 {
		t.Errorf("expected port 7000, got %d", Keys.Port)
	}
	if Keys.Datapath != "/tmp/scanrec" {
		t.Errorf("expected datapath /tmp/scanrec, got %s", Keys.Datapath)
	}
}

func TestInitRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	fp := filepath.Join(dir, "config.json")
	if err := os.WriteFile(fp, []byte(`{"bogus-key": true}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := Init(fp); err == nil {
		t.Fatal("expected Init() to reject an unknown config key")
	}
}

package store

import (
	"io"
	"log/slog"
	"testing"

	"github.com/epiforge/cascade/internal/library"
)

const validDoc = `
name: sir
compartments:
  - {name: sus, default: 990}
  - {name: inf, default: 10}
parameters:
  - {name: foi, units: probability, default: 0.2}
transitions:
  - {from: sus, to: inf, parameter: foi}
`

func testLib(t *testing.T) (string, library.Provider) {
	t.Helper()
	dir := t.TempDir()
	lib, err := library.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, lib
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSync_CatalogsValidAndInvalid(t *testing.T) {
	_, lib := testLib(t)
	db := testDB(t)

	_ = lib.Write("sir.yaml", []byte(validDoc))
	_ = lib.Write("broken.yaml", []byte("name: broken\ncompartments: []\nparameters: []\n"))
	_ = lib.Write("notes.txt", []byte("not a model"))

	if err := Sync(db, lib, discard()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	rows, err := db.ListModels()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d catalog rows, want 2", len(rows))
	}

	sir, err := db.GetModel("sir.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if !sir.Valid || sir.Name != "sir" || sir.Compartments != 2 || sir.Parameters != 1 {
		t.Errorf("sir row = %+v", sir)
	}

	broken, err := db.GetModel("broken.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if broken.Valid || broken.Error == "" {
		t.Errorf("broken row should carry a validation error: %+v", broken)
	}
}

func TestSync_RemovesStaleEntries(t *testing.T) {
	_, lib := testLib(t)
	db := testDB(t)

	_ = lib.Write("sir.yaml", []byte(validDoc))
	if err := Sync(db, lib, discard()); err != nil {
		t.Fatal(err)
	}

	_ = lib.Delete("sir.yaml")
	if err := Sync(db, lib, discard()); err != nil {
		t.Fatal(err)
	}

	rows, _ := db.ListModels()
	if len(rows) != 0 {
		t.Errorf("stale rows remain: %+v", rows)
	}
}

func TestSync_SkipsUnchanged(t *testing.T) {
	_, lib := testLib(t)
	db := testDB(t)

	_ = lib.Write("sir.yaml", []byte(validDoc))
	if err := Sync(db, lib, discard()); err != nil {
		t.Fatal(err)
	}
	before, _ := db.GetModel("sir.yaml")

	if err := Sync(db, lib, discard()); err != nil {
		t.Fatal(err)
	}
	after, _ := db.GetModel("sir.yaml")
	if !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Error("unchanged document was re-cataloged")
	}
}

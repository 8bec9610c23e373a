package storage

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestBackendsRoundTrip(t *testing.T) {
	dir := t.TempDir()

	ldb, err := NewLevelDB(filepath.Join(dir, "leveldb"))
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	bdb, err := NewBoltDB(filepath.Join(dir, "bolt.db"))
	if err != nil {
		t.Fatalf("open bolt: %v", err)
	}

	backends := map[string]Database{
		"memory":  NewMemDB(),
		"leveldb": ldb,
		"bolt":    bdb,
	}
	for name, db := range backends {
		if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrKeyNotFound) {
			t.Fatalf("%s: expected ErrKeyNotFound for missing key, got %v", name, err)
		}
		if err := db.Put([]byte("pool/0x01"), []byte("payload")); err != nil {
			t.Fatalf("%s: put: %v", name, err)
		}
		got, err := db.Get([]byte("pool/0x01"))
		if err != nil {
			t.Fatalf("%s: get: %v", name, err)
		}
		if string(got) != "payload" {
			t.Fatalf("%s: unexpected value %q", name, got)
		}
		if err := db.Put([]byte("pool/0x01"), []byte("updated")); err != nil {
			t.Fatalf("%s: overwrite: %v", name, err)
		}
		got, err = db.Get([]byte("pool/0x01"))
		if err != nil {
			t.Fatalf("%s: get after overwrite: %v", name, err)
		}
		if string(got) != "updated" {
			t.Fatalf("%s: unexpected value after overwrite %q", name, got)
		}
		db.Close()
	}
}

func TestMemDBCopiesValues(t *testing.T) {
	db := NewMemDB()
	value := []byte("original")
	if err := db.Put([]byte("k"), value); err != nil {
		t.Fatalf("put: %v", err)
	}
	value[0] = 'X'
	got, err := db.Get([]byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "original" {
		t.Fatalf("stored value aliased caller buffer: %q", got)
	}
}

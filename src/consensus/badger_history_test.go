package consensus

import (
	"fmt"
	"io/ioutil"
	"os"
	"path"
	"testing"
)

func TestBadgerHistoryAppendGet(t *testing.T) {
	dir, err := ioutil.TempDir("", "opsmesh")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer os.RemoveAll(dir)

	history, err := NewBadgerHistory(path.Join(dir, "badger"), 100)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer history.Close()

	record := makeRecord(0)
	if err := history.Append(record); err != nil {
		t.Fatalf("err: %v", err)
	}

	got, err := history.Get(record.ID)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if got == nil || got.ID != record.ID || got.Topic != record.Topic {
		t.Fatalf("expected record %s back, got %+v", record.ID, got)
	}

	missing, err := history.Get("nope")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if missing != nil {
		t.Fatalf("unknown ID should return nil")
	}
}

func TestBadgerHistoryBootstrap(t *testing.T) {
	dir, err := ioutil.TempDir("", "opsmesh")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer os.RemoveAll(dir)

	dbPath := path.Join(dir, "badger")

	history, err := NewBadgerHistory(dbPath, 100)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := history.Append(makeRecord(i)); err != nil {
			t.Fatalf("err: %v", err)
		}
	}

	if err := history.Close(); err != nil {
		t.Fatalf("err: %v", err)
	}

	// Reopen and check the records came back.
	reopened, err := NewBadgerHistory(dbPath, 100)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer reopened.Close()

	if reopened.Len() != 5 {
		t.Fatalf("expected 5 records after bootstrap, got %d", reopened.Len())
	}

	for i := 0; i < 5; i++ {
		got, err := reopened.Get(fmt.Sprintf("record-%d", i))
		if err != nil {
			t.Fatalf("err: %v", err)
		}
		if got == nil {
			t.Fatalf("record-%d missing after bootstrap", i)
		}
	}
}

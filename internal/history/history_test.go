package history_test

import (
	"errors"
	"testing"
	"time"

	"github.com/pamuduchat/syncshare/internal/history"
)

type memStore struct {
	saved   []history.Entry
	failing bool
}

func (m *memStore) AppendHistory(e history.Entry) error {
	if m.failing {
		return errors.New("disk full")
	}
	m.saved = append(m.saved, e)
	return nil
}

func (m *memStore) LoadHistory() ([]history.Entry, error) { return m.saved, nil }

func (m *memStore) ClearHistory() error {
	m.saved = nil
	return nil
}

func TestAppendKeepsInsertionOrder(t *testing.T) {
	log, err := history.NewLog(nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	log.Append(history.Entry{FolderName: "Photos", Status: history.StatusStarted})
	log.Append(history.Entry{FolderName: "Photos", Status: history.StatusCompleted, Details: "1 file(s) transferred"})

	entries := log.Entries()
	if len(entries) != 2 || entries[0].Status != history.StatusStarted || entries[1].Status != history.StatusCompleted {
		t.Fatalf("unexpected entries %+v", entries)
	}
	if entries[0].Timestamp.IsZero() {
		t.Error("timestamp not set")
	}

	// Callers cannot mutate the log through the returned slice.
	entries[0].Status = "tampered"
	if log.Entries()[0].Status != history.StatusStarted {
		t.Error("Entries leaked internal storage")
	}
}

func TestLogLoadsAndClearsStore(t *testing.T) {
	store := &memStore{saved: []history.Entry{{Timestamp: time.Now(), FolderName: "Docs", Status: history.StatusError}}}
	log, err := history.NewLog(store, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(log.Entries()) != 1 {
		t.Fatalf("expected persisted entry, got %+v", log.Entries())
	}

	log.Append(history.Entry{FolderName: "Docs", Status: history.StatusStarted})
	if len(store.saved) != 2 {
		t.Errorf("append not persisted: %+v", store.saved)
	}

	if err := log.Clear(); err != nil {
		t.Fatal(err)
	}
	if len(log.Entries()) != 0 || len(store.saved) != 0 {
		t.Error("clear did not empty log and store")
	}
}

func TestStoreFailureKeepsMemoryEntry(t *testing.T) {
	log, _ := history.NewLog(&memStore{failing: true}, nil)
	log.Append(history.Entry{FolderName: "Docs", Status: history.StatusStarted})
	if len(log.Entries()) != 1 {
		t.Error("entry dropped on store failure")
	}
}

func TestSubscribeSeesAppends(t *testing.T) {
	log, _ := history.NewLog(nil, nil)
	ch, unsubscribe := log.Subscribe()
	defer unsubscribe()
	<-ch

	log.Append(history.Entry{FolderName: "Music", Status: history.StatusStarted})
	select {
	case entries := <-ch:
		if len(entries) != 1 {
			t.Errorf("unexpected snapshot %+v", entries)
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot")
	}
}

package ljournal

import (
	"context"
	"errors"
	"testing"

	"github.com/ValentinKolb/dMem/lib/journal"
	jtesting "github.com/ValentinKolb/dMem/lib/journal/testing"
)

func Test(t *testing.T) {
	jtesting.RunJournalTests(t, "LocalJournal", func(t *testing.T) journal.Journal {
		return NewLocalJournal()
	})
}

func TestClosed(t *testing.T) {
	j := NewLocalJournal()
	if err := j.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	err := j.Append(context.Background(), "pid", journal.Event{Seq: 1})
	var jerr *journal.Error
	if !errors.As(err, &jerr) || jerr.Code != journal.RetCClosed {
		t.Errorf("Expected RetCClosed after close, got %v", err)
	}
}

// Package testing provides a conformance suite for journal.Journal implementations.
//
// Every implementation runs RunJournalTests from its own package test:
//
//	func Test(t *testing.T) {
//	    jtesting.RunJournalTests(t, "LocalJournal", func(t *testing.T) journal.Journal {
//	        return NewLocalJournal()
//	    })
//	}
//
// Durable implementations additionally run RunDurabilityTests, which closes and
// reopens the journal on the same directory and expects the data to survive.
package testing

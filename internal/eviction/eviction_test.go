package eviction

import (
	"testing"
	"time"
)

func TestSelectEvictsByAge(t *testing.T) {
	now := time.Now()
	entries := []Entry{
		{Key: "old", Size: 1, LastAccess: now.Add(-40 * 24 * time.Hour), Timestamp: now.Add(-40 * 24 * time.Hour)},
		{Key: "new", Size: 1, LastAccess: now, Timestamp: now},
	}
	budget := Budget{MaxSize: 1000, MaxEntries: 1000, MaxAge: 30 * 24 * time.Hour}
	evicted := Select(entries, budget, now)
	if len(evicted) != 1 || evicted[0] != "old" {
		t.Fatalf("evicted = %v, want [old]", evicted)
	}
}

func TestSelectEvictsLeastRecentlyAccessedForSize(t *testing.T) {
	now := time.Now()
	entries := []Entry{
		{Key: "a", Size: 10, LastAccess: now.Add(-3 * time.Hour), Timestamp: now},
		{Key: "b", Size: 10, LastAccess: now.Add(-2 * time.Hour), Timestamp: now},
		{Key: "c", Size: 10, LastAccess: now.Add(-1 * time.Hour), Timestamp: now},
	}
	budget := Budget{MaxSize: 20, MaxEntries: 1000, MaxAge: 0}
	evicted := Select(entries, budget, now)
	if len(evicted) != 1 || evicted[0] != "a" {
		t.Fatalf("evicted = %v, want [a]", evicted)
	}
}

func TestSelectTieBreaksByTimestampThenKey(t *testing.T) {
	now := time.Now()
	sameAccess := now.Add(-1 * time.Hour)
	entries := []Entry{
		{Key: "z", Size: 10, LastAccess: sameAccess, Timestamp: now.Add(-2 * time.Hour)},
		{Key: "a", Size: 10, LastAccess: sameAccess, Timestamp: now.Add(-2 * time.Hour)},
	}
	budget := Budget{MaxSize: 10, MaxEntries: 1000}
	evicted := Select(entries, budget, now)
	// both tie on LastAccess and Timestamp; key ascending means "a" evicts first.
	if len(evicted) != 1 || evicted[0] != "a" {
		t.Fatalf("evicted = %v, want [a]", evicted)
	}
}

func TestSelectRespectsMaxEntries(t *testing.T) {
	now := time.Now()
	entries := []Entry{
		{Key: "a", Size: 1, LastAccess: now.Add(-3 * time.Hour)},
		{Key: "b", Size: 1, LastAccess: now.Add(-2 * time.Hour)},
		{Key: "c", Size: 1, LastAccess: now.Add(-1 * time.Hour)},
	}
	budget := Budget{MaxSize: 1000, MaxEntries: 2}
	evicted := Select(entries, budget, now)
	if len(evicted) != 1 || evicted[0] != "a" {
		t.Fatalf("evicted = %v, want [a]", evicted)
	}
}

func TestSelectNoEvictionWithinBudget(t *testing.T) {
	now := time.Now()
	entries := []Entry{{Key: "a", Size: 1, LastAccess: now}}
	budget := Budget{MaxSize: 1000, MaxEntries: 1000, MaxAge: 30 * 24 * time.Hour}
	if evicted := Select(entries, budget, now); len(evicted) != 0 {
		t.Fatalf("evicted = %v, want none", evicted)
	}
}

package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/Alby2007/PLTM-sub001/internal/ontology"
)

func createMemory(t *testing.T, db *DB, m *Memory) *Memory {
	t.Helper()
	if m.Strength == 0 {
		m.Strength = 1
	}
	if m.Confidence == 0 {
		m.Confidence = 0.8
	}
	if err := db.CreateMemory(context.Background(), m); err != nil {
		t.Fatalf("CreateMemory: %v", err)
	}
	return m
}

func TestCreateAndGetMemory(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	m := createMemory(t, db, &Memory{
		Type:     ontology.Procedural,
		UserID:   "u1",
		Content:  "Run the linter before pushing",
		Trigger:  "before git push",
		Action:   "make lint",
		Tags:     []string{"Workflow", "lint", "workflow", " "},
		Metadata: map[string]any{"team": "core"},
	})

	if m.ID == "" {
		t.Fatal("expected an id")
	}
	if m.CreatedAt == 0 || m.LastAccessed != m.CreatedAt {
		t.Errorf("timestamps = %d/%d", m.CreatedAt, m.LastAccessed)
	}

	got, err := db.GetMemory(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if got == nil {
		t.Fatal("expected memory, got nil")
	}
	if got.Type != ontology.Procedural || got.Trigger != "before git push" || got.Action != "make lint" {
		t.Errorf("got %+v", got)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "lint" || got.Tags[1] != "workflow" {
		t.Errorf("tags = %v, want [lint workflow]", got.Tags)
	}
	if got.Metadata["team"] != "core" {
		t.Errorf("metadata = %v", got.Metadata)
	}
	if got.EvidenceFor == nil || got.EvidenceAgainst == nil {
		t.Error("evidence lists should decode as empty, not nil")
	}

	missing, err := db.GetMemory(ctx, "nope")
	if err != nil {
		t.Fatalf("GetMemory missing: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for missing memory")
	}
}

func TestQueryMemories(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	createMemory(t, db, &Memory{Type: ontology.Semantic, UserID: "u1", Content: "Paris is in France", Tags: []string{"geo"}, CreatedAt: 1000})
	createMemory(t, db, &Memory{Type: ontology.Semantic, UserID: "u1", Content: "Lyon is in France", Tags: []string{"geo", "food"}, CreatedAt: 2000})
	createMemory(t, db, &Memory{Type: ontology.Episodic, UserID: "u1", Content: "Visited Lyon last May", Tags: []string{"food"}, CreatedAt: 3000})
	createMemory(t, db, &Memory{Type: ontology.Semantic, UserID: "u2", Content: "Rome is in Italy", Tags: []string{"geo"}})

	all, err := db.QueryMemories(ctx, MemoryFilter{UserID: "u1"})
	if err != nil {
		t.Fatalf("QueryMemories: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d memories, want 3", len(all))
	}
	if all[0].CreatedAt != 3000 {
		t.Errorf("expected newest first, got created_at %d", all[0].CreatedAt)
	}

	sem := ontology.Semantic
	typed, err := db.QueryMemories(ctx, MemoryFilter{UserID: "u1", Type: &sem})
	if err != nil {
		t.Fatalf("QueryMemories type: %v", err)
	}
	if len(typed) != 2 {
		t.Errorf("got %d semantic memories, want 2", len(typed))
	}

	tagged, err := db.QueryMemories(ctx, MemoryFilter{UserID: "u1", Tags: []string{"GEO", "food"}})
	if err != nil {
		t.Fatalf("QueryMemories tags: %v", err)
	}
	if len(tagged) != 1 || tagged[0].Content != "Lyon is in France" {
		t.Errorf("tag filter should require every tag, got %v", tagged)
	}
}

func TestSearchMemoriesUnlimitedByDefault(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	const n = 120
	for i := 0; i < n; i++ {
		createMemory(t, db, &Memory{Type: ontology.Semantic, UserID: "alice",
			Content: fmt.Sprintf("Python script number %d cleans the logs", i)})
	}

	all, err := db.SearchMemories(ctx, "alice", "Python", 0)
	if err != nil {
		t.Fatalf("SearchMemories: %v", err)
	}
	if len(all) != n {
		t.Errorf("limit 0 returned %d matches, want %d", len(all), n)
	}

	page, err := db.SearchMemories(ctx, "alice", "Python", 7)
	if err != nil {
		t.Fatalf("SearchMemories limited: %v", err)
	}
	if len(page) != 7 {
		t.Errorf("limit 7 returned %d matches", len(page))
	}
}

func TestSearchMemories(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	createMemory(t, db, &Memory{Type: ontology.Semantic, UserID: "u1", Content: "The deploy pipeline uses GitHub Actions"})
	createMemory(t, db, &Memory{Type: ontology.Semantic, UserID: "u1", Content: "Coffee is best without sugar"})
	createMemory(t, db, &Memory{Type: ontology.Semantic, UserID: "u2", Content: "Another deploy story"})

	got, err := db.SearchMemories(ctx, "u1", "deploy", 10)
	if err != nil {
		t.Fatalf("SearchMemories: %v", err)
	}
	if len(got) != 1 || got[0].UserID != "u1" {
		t.Fatalf("got %v, want one u1 match", got)
	}

	// Query syntax characters are treated as plain text.
	got, err = db.SearchMemories(ctx, "u1", `coffee" OR NEAR(`, 10)
	if err != nil {
		t.Fatalf("SearchMemories with operators: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("got %d results, want 1", len(got))
	}

	none, err := db.SearchMemories(ctx, "u1", "  ?! ", 10)
	if err != nil {
		t.Fatalf("SearchMemories empty: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("blank query should match nothing, got %d", len(none))
	}
}

func TestFTSExpression(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"deploy", `"deploy"`},
		{"Deploy the DEPLOY", `"deploy" OR "the"`},
		{`a"b`, `"a" OR "b"`},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ftsExpression(tt.in); got != tt.want {
			t.Errorf("ftsExpression(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestUpdateMemory(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	m := createMemory(t, db, &Memory{Type: ontology.BeliefMemory, UserID: "u1", Content: "Tests catch regressions", Confidence: 0.5})

	got, err := db.UpdateMemory(ctx, m.ID, func(m *Memory) error {
		m.Confidence = 1.7
		m.EvidenceFor = append(m.EvidenceFor, "ci caught a bug")
		m.LastAccessed = 42
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateMemory: %v", err)
	}
	if got.Confidence != 1 {
		t.Errorf("confidence = %f, want clamped to 1", got.Confidence)
	}

	reread, err := db.GetMemory(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if len(reread.EvidenceFor) != 1 || reread.LastAccessed != 42 {
		t.Errorf("update not persisted: %+v", reread)
	}

	boom := errors.New("boom")
	_, err = db.UpdateMemory(ctx, m.ID, func(m *Memory) error {
		m.Confidence = 0
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("UpdateMemory error = %v, want boom", err)
	}
	reread, _ = db.GetMemory(ctx, m.ID)
	if reread.Confidence != 1 {
		t.Error("failed update should not persist")
	}

	missing, err := db.UpdateMemory(ctx, "nope", func(m *Memory) error { return nil })
	if err != nil || missing != nil {
		t.Errorf("UpdateMemory missing = %v, %v", missing, err)
	}
}

func TestDeleteMemory(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	m := createMemory(t, db, &Memory{Type: ontology.Semantic, UserID: "u1", Content: "Ephemeral fact about gardens", Tags: []string{"x"}})
	if _, err := db.SaveVectors(ctx, []VectorRecord{{Kind: KindMemory, RecordID: m.ID, Embedding: []float64{1}, ContentHash: "h", Model: "m"}}); err != nil {
		t.Fatalf("SaveVectors: %v", err)
	}

	deleted, err := db.DeleteMemory(ctx, m.ID)
	if err != nil {
		t.Fatalf("DeleteMemory: %v", err)
	}
	if !deleted {
		t.Error("expected a row to be deleted")
	}

	if got, _ := db.GetMemory(ctx, m.ID); got != nil {
		t.Error("memory still present")
	}
	if hits, _ := db.SearchMemories(ctx, "u1", "gardens", 10); len(hits) != 0 {
		t.Error("full-text entry still present")
	}
	if v, _ := db.GetVector(ctx, KindMemory, m.ID); v != nil {
		t.Error("embedding still present")
	}
	var tags int
	db.QueryRow("SELECT COUNT(*) FROM memory_tags WHERE memory_id = ?", m.ID).Scan(&tags)
	if tags != 0 {
		t.Errorf("%d tag rows left", tags)
	}

	again, err := db.DeleteMemory(ctx, m.ID)
	if err != nil {
		t.Fatalf("DeleteMemory again: %v", err)
	}
	if again {
		t.Error("second delete should report nothing")
	}
}

func TestCountMemories(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	createMemory(t, db, &Memory{Type: ontology.Semantic, UserID: "u1", Content: "one semantic", Confidence: 0.4})
	createMemory(t, db, &Memory{Type: ontology.Semantic, UserID: "u1", Content: "two semantic", Confidence: 0.6, Quarantined: true})
	createMemory(t, db, &Memory{Type: ontology.Episodic, UserID: "u1", Content: "an episode"})
	createMemory(t, db, &Memory{Type: ontology.Episodic, UserID: "u2", Content: "other user"})

	counts, err := db.CountMemories(ctx, "u1")
	if err != nil {
		t.Fatalf("CountMemories: %v", err)
	}
	byType := map[ontology.MemoryType]TypeCount{}
	for _, c := range counts {
		byType[c.Type] = c
	}
	sem := byType[ontology.Semantic]
	if sem.Count != 2 || sem.Quarantined != 1 {
		t.Errorf("semantic = %+v", sem)
	}
	if sem.AvgConfidence < 0.49 || sem.AvgConfidence > 0.51 {
		t.Errorf("avg confidence = %f, want 0.5", sem.AvgConfidence)
	}
	if byType[ontology.Episodic].Count != 1 {
		t.Errorf("episodic = %+v", byType[ontology.Episodic])
	}
}

func TestRecentContents(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	createMemory(t, db, &Memory{Type: ontology.Semantic, UserID: "u1", Content: "older", CreatedAt: 1000})
	createMemory(t, db, &Memory{Type: ontology.Semantic, UserID: "u1", Content: "newer", CreatedAt: 2000})

	got, err := db.RecentContents(ctx, "u1", 1)
	if err != nil {
		t.Fatalf("RecentContents: %v", err)
	}
	if len(got) != 1 || got[0] != "newer" {
		t.Errorf("RecentContents = %v, want [newer]", got)
	}
}

package recommend_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"reelay/internal/database"
	"reelay/models"
	"reelay/services/catalog"
	"reelay/services/library"
	"reelay/services/recommend"
)

// scriptedGenerator returns one candidate batch per round.
type scriptedGenerator struct {
	rounds  [][]models.Suggestion
	calls   int
	prompts []string
	err     error
}

func (g *scriptedGenerator) Generate(_ context.Context, prompt string) ([]models.Suggestion, error) {
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return nil, g.err
	}
	if g.calls >= len(g.rounds) {
		return nil, nil
	}
	batch := g.rounds[g.calls]
	g.calls++
	return batch, nil
}

// titleResolver resolves titles from a fixed table; unknown titles miss.
type titleResolver struct {
	byTitle map[string]models.CatalogMovie
}

func (r *titleResolver) Resolve(_ context.Context, title string, _ int) (models.CatalogMovie, error) {
	movie, ok := r.byTitle[strings.ToLower(title)]
	if !ok {
		return models.CatalogMovie{}, catalog.ErrNoMatch
	}
	return movie, nil
}

func newLibrary(t *testing.T) *library.Service {
	t.Helper()

	db, err := database.OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return library.NewService(db)
}

func suggestion(title string, year int) models.Suggestion {
	return models.Suggestion{Title: title, Year: year, Reason: "because " + title}
}

func resolverFor(ids map[string]int64) *titleResolver {
	table := make(map[string]models.CatalogMovie, len(ids))
	for title, id := range ids {
		table[strings.ToLower(title)] = models.CatalogMovie{
			ID:          id,
			Title:       title,
			ReleaseDate: "2005-03-01",
		}
	}
	return &titleResolver{byTitle: table}
}

func defaultOptions() recommend.Options {
	return recommend.Options{Target: 3, MaxRounds: 3, OverRequest: 2}
}

func TestSuggestStoresTargetSuggestions(t *testing.T) {
	lib := newLibrary(t)
	gen := &scriptedGenerator{rounds: [][]models.Suggestion{{
		suggestion("Alpha", 2001),
		suggestion("Beta", 2002),
		suggestion("Gamma", 2003),
		suggestion("Delta", 2004),
	}}}
	res := resolverFor(map[string]int64{"Alpha": 1, "Beta": 2, "Gamma": 3, "Delta": 4})

	svc := recommend.NewService(lib, res, gen, defaultOptions())

	saved, err := svc.Suggest(context.Background())
	if err != nil {
		t.Fatalf("suggest returned error: %v", err)
	}
	if len(saved) != 3 {
		t.Fatalf("expected 3 suggestions, got %d", len(saved))
	}
	for _, rec := range saved {
		if !rec.Suggested() {
			t.Fatalf("expected stored record to carry a reason: %+v", rec)
		}
	}

	// Target reached in round one; no second generation call.
	if gen.calls != 1 {
		t.Fatalf("expected a single generation round, got %d", gen.calls)
	}

	stored, err := lib.QueryBy(library.FilterSuggested)
	if err != nil {
		t.Fatalf("query returned error: %v", err)
	}
	if len(stored) != 3 {
		t.Fatalf("expected 3 stored suggestions, got %d", len(stored))
	}
}

func TestSuggestSkipsExcludedMovies(t *testing.T) {
	lib := newLibrary(t)

	// Movie 1 is already seen, so the pipeline must not store it again even
	// if the generator offers it.
	if _, err := lib.MarkSeen(models.CatalogMovie{ID: 1, Title: "Alpha", ReleaseDate: "2001-01-01"}); err != nil {
		t.Fatalf("mark seen returned error: %v", err)
	}

	gen := &scriptedGenerator{rounds: [][]models.Suggestion{{
		suggestion("Alpha", 2001),
		suggestion("Beta", 2002),
	}}}
	res := resolverFor(map[string]int64{"Alpha": 1, "Beta": 2})

	opts := defaultOptions()
	opts.Target = 2
	opts.MaxRounds = 1
	svc := recommend.NewService(lib, res, gen, opts)

	saved, err := svc.Suggest(context.Background())
	if err != nil {
		t.Fatalf("suggest returned error: %v", err)
	}
	if len(saved) != 1 || saved[0].ID != 2 {
		t.Fatalf("expected only the unseen movie stored, got %+v", saved)
	}
}

func TestSuggestSkipsUnresolvableCandidates(t *testing.T) {
	lib := newLibrary(t)
	gen := &scriptedGenerator{rounds: [][]models.Suggestion{{
		suggestion("Hallucinated Masterpiece", 2030),
		suggestion("Beta", 2002),
	}}}
	res := resolverFor(map[string]int64{"Beta": 2})

	opts := defaultOptions()
	opts.Target = 2
	opts.MaxRounds = 1
	svc := recommend.NewService(lib, res, gen, opts)

	saved, err := svc.Suggest(context.Background())
	if err != nil {
		t.Fatalf("suggest returned error: %v", err)
	}
	if len(saved) != 1 || saved[0].ID != 2 {
		t.Fatalf("expected the unresolvable candidate dropped, got %+v", saved)
	}
}

func TestSuggestDeduplicatesAcrossRounds(t *testing.T) {
	lib := newLibrary(t)
	gen := &scriptedGenerator{rounds: [][]models.Suggestion{
		{suggestion("Alpha", 2001)},
		{suggestion("Alpha", 2001), suggestion("Beta", 2002)},
	}}
	res := resolverFor(map[string]int64{"Alpha": 1, "Beta": 2})

	opts := defaultOptions()
	opts.Target = 2
	svc := recommend.NewService(lib, res, gen, opts)

	saved, err := svc.Suggest(context.Background())
	if err != nil {
		t.Fatalf("suggest returned error: %v", err)
	}
	if len(saved) != 2 {
		t.Fatalf("expected 2 unique suggestions, got %d", len(saved))
	}
	if saved[0].ID == saved[1].ID {
		t.Fatalf("expected distinct movies, got %d twice", saved[0].ID)
	}
}

func TestSuggestStopsAfterMaxRounds(t *testing.T) {
	lib := newLibrary(t)

	// Every candidate fails to resolve, so every round comes up empty.
	gen := &scriptedGenerator{rounds: [][]models.Suggestion{
		{suggestion("Nope", 0)},
		{suggestion("Still Nope", 0)},
		{suggestion("Nope Again", 0)},
		{suggestion("Never Called", 0)},
	}}
	res := resolverFor(nil)

	svc := recommend.NewService(lib, res, gen, defaultOptions())

	saved, err := svc.Suggest(context.Background())
	if err != nil {
		t.Fatalf("suggest returned error: %v", err)
	}
	if len(saved) != 0 {
		t.Fatalf("expected no suggestions, got %d", len(saved))
	}
	if gen.calls != 3 {
		t.Fatalf("expected exactly 3 rounds, got %d", gen.calls)
	}
}

func TestSuggestGenerationFailureSurfaces(t *testing.T) {
	lib := newLibrary(t)
	gen := &scriptedGenerator{err: fmt.Errorf("%w: model overloaded", recommend.ErrGeneration)}
	svc := recommend.NewService(lib, resolverFor(nil), gen, defaultOptions())

	_, err := svc.Suggest(context.Background())
	if !errors.Is(err, recommend.ErrGeneration) {
		t.Fatalf("expected ErrGeneration, got %v", err)
	}
}

func TestSuggestLaterRoundFailureKeepsPartialResult(t *testing.T) {
	lib := newLibrary(t)
	gen := &failSecondRoundGenerator{
		first: []models.Suggestion{suggestion("Alpha", 2001)},
	}
	res := resolverFor(map[string]int64{"Alpha": 1})

	opts := defaultOptions()
	opts.Target = 3
	svc := recommend.NewService(lib, res, gen, opts)

	saved, err := svc.Suggest(context.Background())
	if err != nil {
		t.Fatalf("expected partial result without error, got %v", err)
	}
	if len(saved) != 1 {
		t.Fatalf("expected the first round's suggestion kept, got %d", len(saved))
	}
}

type failSecondRoundGenerator struct {
	first []models.Suggestion
	calls int
}

func (g *failSecondRoundGenerator) Generate(context.Context, string) ([]models.Suggestion, error) {
	g.calls++
	if g.calls == 1 {
		return g.first, nil
	}
	return nil, fmt.Errorf("%w: model overloaded", recommend.ErrGeneration)
}

func TestPromptCarriesTasteAndExclusions(t *testing.T) {
	lib := newLibrary(t)

	seen := models.CatalogMovie{ID: 1, Title: "Blade Runner", ReleaseDate: "1982-06-25"}
	if _, err := lib.MarkSeen(seen); err != nil {
		t.Fatalf("mark seen returned error: %v", err)
	}
	if _, err := lib.SetFavorite(1, true); err != nil {
		t.Fatalf("set favorite returned error: %v", err)
	}
	if _, err := lib.SetNotInterested(models.CatalogMovie{ID: 2, Title: "Cats", ReleaseDate: "2019-12-20"}); err != nil {
		t.Fatalf("set not interested returned error: %v", err)
	}

	gen := &scriptedGenerator{}
	svc := recommend.NewService(lib, resolverFor(nil), gen, defaultOptions())

	if _, err := svc.Suggest(context.Background()); err != nil {
		t.Fatalf("suggest returned error: %v", err)
	}

	if len(gen.prompts) == 0 {
		t.Fatal("expected at least one generation call")
	}
	prompt := gen.prompts[0]
	if !strings.Contains(prompt, "Blade Runner (1982)") {
		t.Fatalf("expected favorite in prompt, got:\n%s", prompt)
	}
	if !strings.Contains(prompt, "Cats (2019)") {
		t.Fatalf("expected not-interested title in prompt, got:\n%s", prompt)
	}
}

// Package recommend turns the user's viewing history into new library
// entries: it prompts the text-generation backend for candidates, resolves
// each one against the movie catalog and stores the survivors as active
// recommendations.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"reelay/models"
	"reelay/services/catalog"
	"reelay/services/library"
)

// recordStore is the slice of the library service the pipeline needs.
type recordStore interface {
	QueryBy(f library.Filter) ([]models.MovieRecord, error)
	ExclusionIDs() (map[int64]struct{}, error)
	SaveSuggestion(m models.CatalogMovie, reason string) (models.MovieRecord, error)
}

// resolver maps generated titles to canonical catalog entries.
type resolver interface {
	Resolve(ctx context.Context, title string, year int) (models.CatalogMovie, error)
}

var (
	_ recordStore = (*library.Service)(nil)
	_ resolver    = (*catalog.Service)(nil)
)

// Options tune the generation loop.
type Options struct {
	// Target is how many stored recommendations one invocation aims for.
	Target int
	// MaxRounds caps generation rounds when candidates keep failing to
	// resolve or collide with the exclusion set.
	MaxRounds int
	// OverRequest is how many extra candidates to ask for beyond the current
	// shortfall, absorbing resolution losses without an extra round.
	OverRequest int
}

func (o *Options) normalize() {
	if o.Target <= 0 {
		o.Target = 5
	}
	if o.MaxRounds <= 0 {
		o.MaxRounds = 3
	}
	if o.OverRequest < 0 {
		o.OverRequest = 3
	}
}

// Service runs the recommendation pipeline.
type Service struct {
	library   recordStore
	catalog   resolver
	generator Generator
	opts      Options
}

func NewService(lib recordStore, cat resolver, gen Generator, opts Options) *Service {
	opts.normalize()
	return &Service{library: lib, catalog: cat, generator: gen, opts: opts}
}

// Suggest generates up to Target new recommendations, stores each as an
// active recommendation and returns the stored records in generation order.
// It can return fewer than Target when rounds run out; that partial result
// comes back with a nil error. A generation failure with nothing stored yet
// surfaces as ErrGeneration.
func (s *Service) Suggest(ctx context.Context) ([]models.MovieRecord, error) {
	exclude, err := s.library.ExclusionIDs()
	if err != nil {
		return nil, err
	}

	taste, err := s.tasteProfile()
	if err != nil {
		return nil, err
	}

	// Titles already offered this invocation, so repeated rounds cannot
	// produce duplicates even before catalog resolution.
	offered := make(map[string]struct{})

	var saved []models.MovieRecord
	for round := 1; round <= s.opts.MaxRounds && len(saved) < s.opts.Target; round++ {
		want := s.opts.Target - len(saved) + s.opts.OverRequest
		prompt := s.buildPrompt(taste, offered, want)

		candidates, err := s.generator.Generate(ctx, prompt)
		if err != nil {
			if len(saved) > 0 {
				log.Printf("[recommend] round %d failed, keeping %d suggestions: %v", round, len(saved), err)
				return saved, nil
			}
			return nil, err
		}
		log.Printf("[recommend] round %d: %d candidates for %d slots", round, len(candidates), want)

		for _, cand := range candidates {
			if len(saved) >= s.opts.Target {
				break
			}
			key := strings.ToLower(cand.Title)
			if _, dup := offered[key]; dup {
				continue
			}
			offered[key] = struct{}{}

			movie, err := s.catalog.Resolve(ctx, cand.Title, cand.Year)
			if err != nil {
				if errors.Is(err, catalog.ErrNoMatch) {
					log.Printf("[recommend] dropping %q (%d): no catalog match", cand.Title, cand.Year)
					continue
				}
				return saved, err
			}
			if _, skip := exclude[movie.ID]; skip {
				continue
			}
			exclude[movie.ID] = struct{}{}

			rec, err := s.library.SaveSuggestion(movie, cand.Reason)
			if err != nil {
				if errors.Is(err, library.ErrNotInterested) {
					continue
				}
				return saved, err
			}
			saved = append(saved, rec)
		}
	}

	log.Printf("[recommend] stored %d/%d suggestions", len(saved), s.opts.Target)
	return saved, nil
}

// tasteSummary is what the prompt knows about the user.
type tasteSummary struct {
	favorites  []string
	highRated  []string
	seen       []string
	watchlist  []string
	notWanted  []string
	suggestedT []string
}

func (s *Service) tasteProfile() (tasteSummary, error) {
	var t tasteSummary

	seen, err := s.library.QueryBy(library.FilterSeen)
	if err != nil {
		return t, err
	}
	for _, m := range seen {
		label := titleWithYear(m)
		switch {
		case m.IsFavorite:
			t.favorites = append(t.favorites, label)
		case m.Rating != nil && *m.Rating >= 4:
			t.highRated = append(t.highRated, fmt.Sprintf("%s (rated %.1f/5)", label, *m.Rating))
		default:
			t.seen = append(t.seen, label)
		}
	}

	watchlist, err := s.library.QueryBy(library.FilterWatchlist)
	if err != nil {
		return t, err
	}
	for _, m := range watchlist {
		t.watchlist = append(t.watchlist, titleWithYear(m))
	}

	rejected, err := s.library.QueryBy(library.FilterNotInterested)
	if err != nil {
		return t, err
	}
	for _, m := range rejected {
		t.notWanted = append(t.notWanted, titleWithYear(m))
	}

	active, err := s.library.QueryBy(library.FilterSuggested)
	if err != nil {
		return t, err
	}
	for _, m := range active {
		t.suggestedT = append(t.suggestedT, titleWithYear(m))
	}

	return t, nil
}

func titleWithYear(m models.MovieRecord) string {
	if y := m.Year(); y > 0 {
		return fmt.Sprintf("%s (%d)", m.Title, y)
	}
	return m.Title
}

func (s *Service) buildPrompt(t tasteSummary, offered map[string]struct{}, count int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a movie recommendation engine. Suggest exactly %d movies the user has not seen.\n\n", count)

	writeList := func(header string, items []string) {
		if len(items) == 0 {
			return
		}
		b.WriteString(header)
		b.WriteString("\n")
		for _, item := range items {
			b.WriteString("- ")
			b.WriteString(item)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	writeList("Favorite movies (weight these most heavily):", t.favorites)
	writeList("Highly rated:", t.highRated)
	writeList("Also seen:", t.seen)
	writeList("On the watchlist (do not suggest these):", t.watchlist)
	writeList("Explicitly not interested (never suggest these or anything too similar):", t.notWanted)

	var excluded []string
	excluded = append(excluded, t.suggestedT...)
	for title := range offered {
		excluded = append(excluded, title)
	}
	writeList("Already suggested (do not repeat):", excluded)

	b.WriteString("Respond with ONLY a JSON array, no prose and no markdown, where each element is ")
	b.WriteString(`{"title": string, "year": number, "reason": string}. `)
	b.WriteString("The reason must be one short sentence tying the pick to the user's taste.")
	return b.String()
}

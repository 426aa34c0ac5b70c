package search

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/mozhou-tech/photo-search-ai/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupEngine(t *testing.T, photos ...*store.Photo) (*Engine, *store.Store) {
	t.Helper()
	s, err := store.Open(store.Options{Path: filepath.Join(t.TempDir(), "search.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	base := time.Now().Add(-time.Hour)
	for i, p := range photos {
		if p.CreatedAt.IsZero() {
			p.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		}
		require.NoError(t, s.UpsertPhoto(context.Background(), p))
	}
	return New(s, Options{}), s
}

func paths(photos []store.Photo) []string {
	out := make([]string, len(photos))
	for i, p := range photos {
		out[i] = p.Path
	}
	return out
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"red", "car"}, Tokenize("Red  CAR"))
	assert.Equal(t, []string{"the", "dog"}, Tokenize("a the is dog"))
	assert.Empty(t, Tokenize("a an"))
}

func TestScore(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		photo   store.Photo
		want    int
		matched bool
	}{
		{
			name:    "phrase in description",
			query:   "red car",
			photo:   store.Photo{Description: "A red car on a street"},
			want:    100,
			matched: true,
		},
		{
			name:    "phrase in filename",
			query:   "beach day",
			photo:   store.Photo{Filename: "Beach Day.jpg"},
			want:    100,
			matched: true,
		},
		{
			name:    "terms in description with word start bonus",
			query:   "car red",
			photo:   store.Photo{Description: "red car, another car"},
			want:    10 + 5 + 20 + 5,
			matched: true,
		},
		{
			name:    "term inside word gets no bonus",
			query:   "cat red",
			photo:   store.Photo{Description: "concatenate red"},
			want:    10 + 10 + 5,
			matched: true,
		},
		{
			name:    "terms split across fields",
			query:   "invoice stop",
			photo:   store.Photo{Filename: "invoice.png", ExtractedText: "STOP"},
			want:    5 + 15,
			matched: true,
		},
		{
			name:    "missing term excludes",
			query:   "red car",
			photo:   store.Photo{Description: "a red bicycle"},
			matched: false,
		},
		{
			name:    "only short terms",
			query:   "a b",
			photo:   store.Photo{Description: "a b c"},
			want:    100,
			matched: true,
		},
		{
			name:    "short terms without phrase",
			query:   "x y",
			photo:   store.Photo{Description: "nothing"},
			matched: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Score(tt.query, Tokenize(tt.query), tt.photo)
			assert.Equal(t, tt.matched, ok)
			if tt.matched {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestSearchRanksPhraseFirst(t *testing.T) {
	engine, _ := setupEngine(t,
		&store.Photo{Path: "blue.jpg", Filename: "blue.jpg", Description: "a blue car", Processed: true},
		&store.Photo{Path: "red.jpg", Filename: "red.jpg", Description: "a red car on a street", Processed: true},
		&store.Photo{Path: "redonly.jpg", Filename: "x.jpg", Description: "a red apple", Processed: true},
		&store.Photo{Path: "paint.jpg", Filename: "y.jpg", Description: "red paint on an old car", Processed: true},
	)

	results, err := engine.Rank(context.Background(), "red car")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "red.jpg", results[0].Photo.Path)
	assert.Equal(t, 100, results[0].Score)
	assert.Equal(t, "paint.jpg", results[1].Photo.Path)
	assert.Equal(t, 30, results[1].Score)
}

func TestSearchMatchesQuotesVerbatim(t *testing.T) {
	engine, _ := setupEngine(t,
		&store.Photo{Path: "bowl.jpg", Filename: "bowl.jpg", Description: "the dog's bowl is red", Processed: true},
		&store.Photo{Path: "sign.jpg", Filename: "sign.jpg", ExtractedText: `Sign reads "OPEN"`, Processed: true},
		&store.Photo{Path: "dogs.jpg", Filename: "dogs.jpg", Description: "two dogs near a bowl", Processed: true},
	)

	results, err := engine.Rank(context.Background(), "dog's bowl")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "bowl.jpg", results[0].Photo.Path)
	assert.Equal(t, 100, results[0].Score)

	results, err = engine.Rank(context.Background(), ` "open" `)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "sign.jpg", results[0].Photo.Path)
	assert.Equal(t, 100, results[0].Score)
}

func TestSearchSkipsUnprocessed(t *testing.T) {
	engine, _ := setupEngine(t,
		&store.Photo{Path: "p.jpg", Filename: "p.jpg", Description: "sunset over sea", Processed: false},
		&store.Photo{Path: "q.jpg", Filename: "q.jpg", Description: "sunset in city", Processed: true},
	)

	photos, err := engine.Search(context.Background(), "sunset")
	require.NoError(t, err)
	assert.Equal(t, []string{"q.jpg"}, paths(photos))

	recent, err := engine.Search(context.Background(), "   ")
	require.NoError(t, err)
	assert.Equal(t, []string{"q.jpg"}, paths(recent))
}

func TestSearchEmptyQueryReturnsRecent(t *testing.T) {
	var photos []*store.Photo
	for i := 0; i < DefaultRecentLimit+5; i++ {
		photos = append(photos, &store.Photo{
			Path:      fmt.Sprintf("%02d.jpg", i),
			Filename:  fmt.Sprintf("%02d.jpg", i),
			Processed: true,
		})
	}
	engine, _ := setupEngine(t, photos...)

	results, err := engine.Rank(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, results, DefaultRecentLimit)
	assert.Equal(t, fmt.Sprintf("%02d.jpg", DefaultRecentLimit+4), results[0].Photo.Path)
	for _, r := range results {
		assert.Zero(t, r.Score)
	}
}

func TestSearchStableAndCapped(t *testing.T) {
	var photos []*store.Photo
	for i := 0; i < 5; i++ {
		photos = append(photos, &store.Photo{
			Path:        fmt.Sprintf("tie%d.jpg", i),
			Filename:    fmt.Sprintf("tie%d.jpg", i),
			Description: "mountain lake",
			Processed:   true,
		})
	}
	engine, s := setupEngine(t, photos...)

	results, err := engine.Search(context.Background(), "lake")
	require.NoError(t, err)
	assert.Equal(t, []string{"tie0.jpg", "tie1.jpg", "tie2.jpg", "tie3.jpg", "tie4.jpg"}, paths(results))

	capped := New(s, Options{MaxResults: 2})
	results, err = capped.Search(context.Background(), "lake")
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestByClassificationAndFolder(t *testing.T) {
	engine, s := setupEngine(t)
	ctx := context.Background()

	folder, err := s.RecordFolderUpload(ctx, "zoo", "Zoo", 2, time.Now())
	require.NoError(t, err)
	base := time.Now().Add(-time.Hour)
	for _, p := range []*store.Photo{
		{Path: "zoo/1.jpg", Filename: "1.jpg", FolderID: folder.ID, Classification: "Animal", Processed: true, CreatedAt: base},
		{Path: "zoo/2.jpg", Filename: "2.jpg", FolderID: folder.ID, Classification: "Animal", Processed: false, CreatedAt: base.Add(time.Minute)},
		{Path: "x.jpg", Filename: "x.jpg", Classification: "Food", Processed: true, CreatedAt: base.Add(2 * time.Minute)},
	} {
		require.NoError(t, s.UpsertPhoto(ctx, p))
	}

	animals, err := engine.ByClassification(ctx, "Animal")
	require.NoError(t, err)
	assert.Equal(t, []string{"zoo/1.jpg"}, paths(animals))

	all, err := engine.ByClassification(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"x.jpg", "zoo/1.jpg"}, paths(all))

	inFolder, err := engine.ByFolder(ctx, folder.ID)
	require.NoError(t, err)
	assert.Len(t, inFolder, 2)

	labels, err := engine.Classifications(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Animal", "Food"}, labels)
}

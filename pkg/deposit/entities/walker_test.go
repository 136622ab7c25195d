package entities_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-deposit/pkg/deposit"
	"github.com/tendant/simple-deposit/pkg/deposit/builder"
	"github.com/tendant/simple-deposit/pkg/deposit/entities"
	"github.com/tendant/simple-deposit/pkg/deposit/entities/memory"
)

func loadFixture(t *testing.T) *memory.Source {
	t.Helper()
	src, err := memory.LoadFile("testdata/submission.json")
	require.NoError(t, err)
	return src
}

func ids(set *deposit.EntitySet) []string {
	var out []string
	for _, e := range set.All() {
		out = append(out, e.EntityID())
	}
	return out
}

func TestResolveCollectsReachableGraph(t *testing.T) {
	src := loadFixture(t)

	set, err := src.Resolve(context.Background(), "submissions/1/")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"submissions/1",
		"users/submitter",
		"publications/1",
		"repositories/pmc",
		"grants/1",
		"journals/1",
		"funders/nih",
		"users/pi",
		"files/2",
		"files/1",
	}, ids(set))

	_, ok := set.Get("users/unrelated")
	assert.False(t, ok)
	_, ok = set.Get("files/other")
	assert.False(t, ok)
}

func TestResolvedGraphBuilds(t *testing.T) {
	src := loadFixture(t)
	ctx := context.Background()
	b, err := builder.New()
	require.NoError(t, err)

	set, err := src.Resolve(ctx, "submissions/1")
	require.NoError(t, err)
	_, err = b.Build(ctx, "submissions/1", set)
	var refErr *deposit.ReferenceError
	require.ErrorAs(t, err, &refErr)
	assert.Equal(t, "grants/missing", refErr.ID)

	root, err := src.Get(ctx, "submissions/1")
	require.NoError(t, err)
	fixed := *root.(*deposit.SubmissionEntity)
	fixed.Grants = []string{"grants/1"}
	require.NoError(t, src.Put(&fixed))

	set, err = src.Resolve(ctx, "submissions/1")
	require.NoError(t, err)
	sub, err := b.Build(ctx, "submissions/1", set)
	require.NoError(t, err)

	files := sub.Files()
	require.Len(t, files, 2)
	assert.Equal(t, "data.csv", files[0].Name)
	assert.Equal(t, "manuscript.pdf", files[1].Name)
	assert.Equal(t, "Journal of Studies", sub.Metadata.Journal.Title)
}

func TestResolveUnknownSubmission(t *testing.T) {
	src := loadFixture(t)

	_, err := src.Resolve(context.Background(), "submissions/404")
	assert.ErrorIs(t, err, deposit.ErrSubmissionNotFound)

	_, err = src.Resolve(context.Background(), " ")
	assert.ErrorIs(t, err, deposit.ErrSubmissionNotFound)
}

type scriptedFetcher struct {
	entities map[string]deposit.Entity
	failOn   string
	files    []*deposit.File
}

func (f *scriptedFetcher) Get(ctx context.Context, id string) (deposit.Entity, error) {
	if id == f.failOn {
		return nil, errors.New("connection reset")
	}
	e, ok := f.entities[id]
	if !ok {
		return nil, entities.ErrNotFound
	}
	return e, nil
}

func (f *scriptedFetcher) FilesFor(ctx context.Context, submissionID string) ([]*deposit.File, error) {
	return f.files, nil
}

func cyclicFetcher() *scriptedFetcher {
	return &scriptedFetcher{entities: map[string]deposit.Entity{
		"s":  &deposit.SubmissionEntity{ID: "s", Grants: []string{"g1", "g2"}},
		"g1": &deposit.Grant{ID: "g1", PI: "u", CoPIs: []string{"u"}},
		"g2": &deposit.Grant{ID: "g2", PI: "u"},
		"u":  &deposit.User{ID: "u"},
	}}
}

func TestResolveVisitsEachEntityOnce(t *testing.T) {
	f := cyclicFetcher()
	f.files = []*deposit.File{{ID: "f", Submission: "s"}, {ID: "u"}}

	set, err := entities.NewWalker(f).Resolve(context.Background(), "s")
	require.NoError(t, err)
	assert.Equal(t, []string{"s", "g1", "g2", "u", "f"}, ids(set))
}

func TestResolveFailures(t *testing.T) {
	t.Run("FetchError", func(t *testing.T) {
		f := cyclicFetcher()
		f.failOn = "g2"
		_, err := entities.NewWalker(f).Resolve(context.Background(), "s")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection reset")
		assert.NotErrorIs(t, err, deposit.ErrSubmissionNotFound)
	})

	t.Run("Limit", func(t *testing.T) {
		_, err := entities.NewWalker(cyclicFetcher(), entities.WithLimit(2)).Resolve(context.Background(), "s")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exceeds 2 entities")
	})

	t.Run("Cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := entities.NewWalker(cyclicFetcher()).Resolve(ctx, "s")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

package gitlab_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/helm_updater/git"
	"github.com/byte4ever/helm_updater/git/gitlab"
)

func TestNewProvider_valid(t *testing.T) {
	t.Parallel()

	pv, err := gitlab.NewProvider(gitlab.Config{
		Repo:        "org/charts",
		AccessToken: "secret",
	})

	require.NoError(t, err)
	assert.NotNil(t, pv)
}

func TestNewProvider_missing_token(t *testing.T) {
	t.Parallel()

	pv, err := gitlab.NewProvider(gitlab.Config{
		Repo: "org/charts",
	})

	assert.Nil(t, pv)
	assert.ErrorContains(t, err, "access token")
}

func TestNewProvider_missing_repo(t *testing.T) {
	t.Parallel()

	pv, err := gitlab.NewProvider(gitlab.Config{
		AccessToken: "secret",
	})

	assert.Nil(t, pv)
	assert.ErrorContains(t, err, "repo must be set")
}

func TestProvider_EnsureLabel_created(t *testing.T) {
	t.Parallel()

	var gotBody []byte

	pv := fakeProvider(t, func(
		w http.ResponseWriter,
		r *http.Request,
	) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/labels")

		var err error

		gotBody, err = io.ReadAll(r.Body)
		require.NoError(t, err)

		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":1,"name":"deployment"}`)
	})

	res := pv.EnsureLabel(
		context.Background(), "deployment", "0e8a16",
	)

	assert.True(t, res.IsSuccess())
	// GitLab colors carry a '#' prefix.
	assert.Contains(
		t, string(gotBody), `"color":"#0e8a16"`,
	)
}

func TestProvider_EnsureLabel_already_exists(
	t *testing.T,
) {
	t.Parallel()

	pv := fakeProvider(t, func(
		w http.ResponseWriter,
		_ *http.Request,
	) {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprint(
			w, `{"message":"Label already exists"}`,
		)
	})

	res := pv.EnsureLabel(
		context.Background(), "deployment", "0e8a16",
	)

	assert.True(t, res.IsConflict())
}

func TestProvider_EnsureLabel_server_error(t *testing.T) {
	t.Parallel()

	pv := fakeProvider(t, func(
		w http.ResponseWriter,
		_ *http.Request,
	) {
		w.WriteHeader(http.StatusBadRequest)
	})

	res := pv.EnsureLabel(
		context.Background(), "deployment", "0e8a16",
	)

	assert.True(t, res.IsFailure())
}

func TestProvider_CreatePullRequest_created(
	t *testing.T,
) {
	t.Parallel()

	pv := fakeProvider(t, func(
		w http.ResponseWriter,
		r *http.Request,
	) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(
			t, r.URL.Path, "/merge_requests",
		)

		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(
			w,
			`{"iid":7,"web_url":"https://gitlab.com/`+
				`org/charts/-/merge_requests/7"}`,
		)
	})

	pr, res := pv.CreatePullRequest(
		context.Background(),
		git.NewPullRequest{
			Head:  "update-prod-api-v2",
			Base:  "main",
			Title: "Update prod api image tag to v2",
			Body:  "Automated image tag update.",
		},
	)

	assert.True(t, res.IsSuccess())
	require.NotNil(t, pr)
	assert.Equal(t, 7, pr.Number)
	assert.Contains(t, pr.URL, "/merge_requests/7")
}

func TestProvider_CreatePullRequest_already_exists(
	t *testing.T,
) {
	t.Parallel()

	pv := fakeProvider(t, func(
		w http.ResponseWriter,
		_ *http.Request,
	) {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprint(
			w,
			`{"message":"Another open merge request `+
				`already exists"}`,
		)
	})

	pr, res := pv.CreatePullRequest(
		context.Background(),
		git.NewPullRequest{
			Head: "update-prod-api-v2",
			Base: "main",
		},
	)

	assert.Nil(t, pr)
	assert.True(t, res.IsConflict())
}

func TestProvider_AddLabels(t *testing.T) {
	t.Parallel()

	pv := fakeProvider(t, func(
		w http.ResponseWriter,
		r *http.Request,
	) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Contains(
			t, r.URL.Path, "/merge_requests/7",
		)

		fmt.Fprint(w, `{"iid":7}`)
	})

	res := pv.AddLabels(
		context.Background(), 7,
		[]string{"deployment", "prod", "api"},
	)

	assert.True(t, res.IsSuccess())
}

func TestProvider_Mergeability(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want git.Mergeability
	}{
		{
			name: "mergeable",
			body: `{"iid":7,` +
				`"detailed_merge_status":"mergeable"}`,
			want: git.MergeabilityReady,
		},
		{
			name: "still checking",
			body: `{"iid":7,` +
				`"detailed_merge_status":"checking"}`,
			want: git.MergeabilityUnknown,
		},
		{
			name: "blocked",
			body: `{"iid":7,"detailed_merge_status":` +
				`"broken_status"}`,
			want: git.MergeabilityBlocked,
		},
		{
			name: "legacy can be merged",
			body: `{"iid":7,` +
				`"merge_status":"can_be_merged"}`,
			want: git.MergeabilityReady,
		},
		{
			name: "legacy cannot be merged",
			body: `{"iid":7,` +
				`"merge_status":"cannot_be_merged"}`,
			want: git.MergeabilityBlocked,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			pv := fakeProvider(t, func(
				w http.ResponseWriter,
				_ *http.Request,
			) {
				fmt.Fprint(w, tt.body)
			})

			got, err := pv.Mergeability(
				context.Background(), 7,
			)

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProvider_Merge_success(t *testing.T) {
	t.Parallel()

	pv := fakeProvider(t, func(
		w http.ResponseWriter,
		r *http.Request,
	) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Contains(t, r.URL.Path, "/merge")

		fmt.Fprint(w, `{"iid":7,"state":"merged"}`)
	})

	res := pv.Merge(context.Background(), 7)

	assert.True(t, res.IsSuccess())
}

func TestProvider_Merge_not_ready(t *testing.T) {
	t.Parallel()

	pv := fakeProvider(t, func(
		w http.ResponseWriter,
		_ *http.Request,
	) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	})

	res := pv.Merge(context.Background(), 7)

	assert.True(t, res.IsConflict())
}

func TestProvider_Merge_server_error(t *testing.T) {
	t.Parallel()

	pv := fakeProvider(t, func(
		w http.ResponseWriter,
		_ *http.Request,
	) {
		w.WriteHeader(http.StatusBadRequest)
	})

	res := pv.Merge(context.Background(), 7)

	assert.True(t, res.IsFailure())
}

// fakeProvider returns a Provider pointed at an httptest
// server running handler.
func fakeProvider(
	tb testing.TB,
	handler http.HandlerFunc,
) *gitlab.Provider {
	tb.Helper()

	ts := httptest.NewServer(handler)
	tb.Cleanup(ts.Close)

	pv, err := gitlab.NewProvider(gitlab.Config{
		Host:        ts.URL,
		Repo:        "org/charts",
		AccessToken: "secret",
	})
	require.NoError(tb, err)

	return pv
}

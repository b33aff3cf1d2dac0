package strutils_test

import (
	"net/url"
	"testing"

	"github.com/changzhi777/A-TeamUI-1-sub003/internal/strutils"
	"github.com/stretchr/testify/require"
)

func TestRequestKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		method string
		path   string
		query  url.Values
		want   string
	}{
		{
			name:   "no query",
			method: "GET",
			path:   "/projects/42",
			want:   "GET /projects/42",
		},
		{
			name:   "lowercase method",
			method: "get",
			path:   "/projects",
			query:  url.Values{},
			want:   "GET /projects",
		},
		{
			name:   "sorted parameters",
			method: "GET",
			path:   "/projects",
			query:  url.Values{"pageSize": {"20"}, "page": {"1"}},
			want:   "GET /projects?page=1&pageSize=20",
		},
		{
			name:   "sorted repeated values",
			method: "GET",
			path:   "/assets",
			query:  url.Values{"type": {"prop", "character"}},
			want:   "GET /assets?type=character&type=prop",
		},
		{
			name:   "escaped values",
			method: "GET",
			path:   "/projects",
			query:  url.Values{"q": {"a&b=c"}, "empty": {""}},
			want:   "GET /projects?empty=&q=a%26b%3Dc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, strutils.RequestKey(tt.method, tt.path, tt.query))
		})
	}

	t.Run("parameter order does not matter", func(t *testing.T) {
		t.Parallel()

		a, err := url.ParseQuery("page=1&pageSize=20&status=draft")
		require.NoError(t, err)
		b, err := url.ParseQuery("status=draft&pageSize=20&page=1")
		require.NoError(t, err)

		require.Equal(t, strutils.RequestKey("GET", "/projects", a), strutils.RequestKey("GET", "/projects", b))
	})

	t.Run("input is not modified", func(t *testing.T) {
		t.Parallel()

		query := url.Values{"type": {"prop", "character"}}
		strutils.RequestKey("GET", "/assets", query)
		require.Equal(t, []string{"prop", "character"}, query["type"])
	})
}

func TestHashSecret(t *testing.T) {
	t.Parallel()

	require.Equal(t, "", strutils.HashSecret(""))
	require.Len(t, strutils.HashSecret("Bearer token"), 16)
	require.Equal(t, strutils.HashSecret("Bearer token"), strutils.HashSecret("Bearer token"))
	require.NotEqual(t, strutils.HashSecret("Bearer token"), strutils.HashSecret("Bearer other"))
	require.NotContains(t, strutils.HashSecret("Bearer token"), "token")
}

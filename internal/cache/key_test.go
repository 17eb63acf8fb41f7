package cache

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestKey(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{
			name: "path only",
			url:  "/products/42",
			want: "/products/42",
		},
		{
			name: "single parameter",
			url:  "/products?q=shoes",
			want: "/products?q=shoes",
		},
		{
			name: "parameters sorted by name",
			url:  "/products?sort=price&q=shoes",
			want: "/products?q=shoes&sort=price",
		},
		{
			name: "repeated parameter values sorted",
			url:  "/products?tag=red&tag=blue",
			want: "/products?tag=blue&tag=red",
		},
		{
			name: "mixed",
			url:  "/products?page=2&category=boots&page=1",
			want: "/products?category=boots&page=1&page=2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.url, nil)
			assert.Equal(t, tt.want, RequestKey(r))
		})
	}
}

func TestRequestKey_EquivalentURLsShareKey(t *testing.T) {
	a := httptest.NewRequest("GET", "/products?page=1&sort=price", nil)
	b := httptest.NewRequest("GET", "/products?sort=price&page=1", nil)

	assert.Equal(t, RequestKey(a), RequestKey(b))
}

func TestHashKey(t *testing.T) {
	h1 := HashKey("/products?q=shoes")
	h2 := HashKey("/products?q=shoes")
	h3 := HashKey("/products?q=boots")

	assert.Len(t, h1, 64)
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
}

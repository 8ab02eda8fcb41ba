package shopify

import (
	"context"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"catalogsync/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Current export shape: media images, measurement weights, no __typename.
var currentExport = []string{
	`{"id":"gid://shopify/Product/1","title":"Trail Shoe","descriptionHtml":"<p>Light</p>","vendor":"Acme","productType":"Shoes","status":"ACTIVE","tags":["run","trail"],"updatedAt":"2024-05-01T10:00:00Z"}`,
	`{"id":"gid://shopify/ProductVariant/11","title":"42","price":"89.90","sku":"TS-42","position":2,"inventoryQuantity":4,"inventoryItem":{"measurement":{"weight":{"unit":"GRAMS","value":450}}},"__parentId":"gid://shopify/Product/1"}`,
	`{"id":"gid://shopify/ProductVariant/10","title":"41","price":"79.90","sku":"TS-41","position":1,"inventoryQuantity":7,"inventoryItem":{"measurement":{"weight":{"unit":"GRAMS","value":400}}},"__parentId":"gid://shopify/Product/1"}`,
	`{"id":"gid://shopify/MediaImage/21","image":{"url":"https://cdn.example.com/a.jpg","altText":"front"},"__parentId":"gid://shopify/Product/1"}`,
	`{"id":"gid://shopify/MediaImage/22","image":{"url":"https://cdn.example.com/b.jpg"},"__parentId":"gid://shopify/Product/1"}`,
	`{"id":"gid://shopify/MediaImage/23","image":{"url":"https://cdn.example.com/c.jpg"},"__parentId":"gid://shopify/Product/1"}`,
	`{"id":"gid://shopify/Metafield/31","namespace":"custom","key":"material","value":"mesh","type":"single_line_text_field","__parentId":"gid://shopify/Product/1"}`,
}

// Older export shape: __typename present, ProductImage with src, flat weight
// fields and comma separated tags.
var legacyExport = []string{
	`{"__typename":"Product","id":"gid://shopify/Product/1","title":"Trail Shoe","bodyHtml":"<p>Light</p>","vendor":"Acme","productType":"Shoes","status":"active","tags":"run, trail","updatedAt":"2024-05-01T10:00:00Z"}`,
	`{"__typename":"ProductVariant","id":"gid://shopify/ProductVariant/10","title":"41","price":79.90,"sku":"TS-41","position":1,"inventoryQuantity":7,"weight":0.4,"weightUnit":"KILOGRAMS","__parentId":"gid://shopify/Product/1"}`,
	`{"__typename":"ProductVariant","id":"gid://shopify/ProductVariant/11","title":"42","price":"89.90","sku":"TS-42","position":2,"inventoryQuantity":4,"weight":0.45,"weightUnit":"KILOGRAMS","__parentId":"gid://shopify/Product/1"}`,
	`{"__typename":"ProductImage","id":"gid://shopify/ProductImage/21","src":"https://cdn.example.com/a.jpg","altText":"front","__parentId":"gid://shopify/Product/1"}`,
	`{"__typename":"ProductImage","id":"gid://shopify/ProductImage/22","originalSrc":"https://cdn.example.com/b.jpg","__parentId":"gid://shopify/Product/1"}`,
	`{"__typename":"ProductImage","id":"gid://shopify/ProductImage/23","url":"https://cdn.example.com/c.jpg","__parentId":"gid://shopify/Product/1"}`,
	`{"__typename":"Metafield","id":"gid://shopify/Metafield/31","namespace":"custom","key":"material","value":"mesh","type":"single_line_text_field","__parentId":"gid://shopify/Product/1"}`,
}

func parse(t *testing.T, lines []string) *BulkParseResult {
	t.Helper()
	res, err := ParseBulkJSONL(strings.NewReader(strings.Join(lines, "\n")), logger.NewNop())
	require.NoError(t, err)
	return res
}

func scramble(lines []string, seed int64) []string {
	out := append([]string(nil), lines...)
	r := rand.New(rand.NewSource(seed))
	r.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

func assertTrailShoe(t *testing.T, res *BulkParseResult) {
	t.Helper()
	require.Len(t, res.Products, 1)
	p := res.Products[0]

	assert.Equal(t, "gid://shopify/Product/1", p.ID)
	assert.Equal(t, "Trail Shoe", p.Title)
	assert.Equal(t, []string{"run", "trail"}, p.Tags)

	require.Len(t, p.Variants, 2)
	assert.Equal(t, "TS-41", p.Variants[0].SKU, "variants are ordered by position")
	assert.Equal(t, "TS-42", p.Variants[1].SKU)

	var urls []string
	for _, img := range p.Images {
		urls = append(urls, img.URL)
	}
	assert.ElementsMatch(t, []string{
		"https://cdn.example.com/a.jpg",
		"https://cdn.example.com/b.jpg",
		"https://cdn.example.com/c.jpg",
	}, urls)

	require.Len(t, p.Metafields, 1)
	assert.Equal(t, "material", p.Metafields[0].Key)
	assert.Zero(t, res.Skipped)
	assert.Zero(t, res.Orphans)
}

func TestParseBulkJSONLCurrentFormat(t *testing.T) {
	res := parse(t, currentExport)
	assertTrailShoe(t, res)
	assert.Equal(t, 7, res.Lines)

	local := FromBulkProduct(&res.Products[0])
	assert.Equal(t, "79.9", local.Price.String())
	assert.Equal(t, 7, local.Inventory)
	require.NotNil(t, local.Weight)
	assert.InDelta(t, 0.4, *local.Weight, 1e-9)
	require.NotNil(t, local.Description)
	assert.Equal(t, "Light", *local.Description)
}

func TestParseBulkJSONLLegacyFormat(t *testing.T) {
	res := parse(t, legacyExport)
	assertTrailShoe(t, res)

	local := FromBulkProduct(&res.Products[0])
	assert.Equal(t, "79.9", local.Price.String())
	require.NotNil(t, local.Weight)
	assert.InDelta(t, 0.4, *local.Weight, 1e-9)
}

func TestParseBulkJSONLIsOrderInvariant(t *testing.T) {
	lines := append(append([]string(nil), currentExport...),
		`{"id":"gid://shopify/Product/2","title":"Sock","status":"DRAFT"}`,
		`{"id":"gid://shopify/ProductVariant/40","price":"5.00","position":1,"__parentId":"gid://shopify/Product/2"}`,
	)
	want := parse(t, lines).Products
	require.Len(t, want, 2)
	assert.Equal(t, "gid://shopify/Product/1", want[0].ID)
	assert.Equal(t, "https://cdn.example.com/a.jpg", want[0].Images[0].URL)

	for seed := int64(1); seed <= 25; seed++ {
		got := parse(t, scramble(lines, seed)).Products
		assert.Equal(t, want, got, "seed %d", seed)
	}
}

func TestParseBulkJSONLOrdersChildrenByID(t *testing.T) {
	res := parse(t, []string{
		`{"id":"gid://shopify/MediaImage/300","image":{"url":"https://cdn.example.com/third.jpg"},"__parentId":"gid://shopify/Product/5"}`,
		`{"id":"gid://shopify/MediaImage/9","image":{"url":"https://cdn.example.com/first.jpg"},"__parentId":"gid://shopify/Product/5"}`,
		`{"id":"gid://shopify/Metafield/70","namespace":"custom","key":"b","value":"2","__parentId":"gid://shopify/Product/5"}`,
		`{"id":"gid://shopify/Product/5","title":"Hat","status":"ACTIVE"}`,
		`{"id":"gid://shopify/MediaImage/40","image":{"url":"https://cdn.example.com/second.jpg"},"__parentId":"gid://shopify/Product/5"}`,
		`{"id":"gid://shopify/Metafield/8","namespace":"custom","key":"a","value":"1","__parentId":"gid://shopify/Product/5"}`,
	})
	require.Len(t, res.Products, 1)
	p := res.Products[0]

	var urls []string
	for _, img := range p.Images {
		urls = append(urls, img.URL)
	}
	assert.Equal(t, []string{
		"https://cdn.example.com/first.jpg",
		"https://cdn.example.com/second.jpg",
		"https://cdn.example.com/third.jpg",
	}, urls)
	require.Len(t, p.Metafields, 2)
	assert.Equal(t, "a", p.Metafields[0].Key)

	local := FromBulkProduct(&p)
	assert.Equal(t, "https://cdn.example.com/first.jpg", local.Images[0])
}

func TestParseBulkJSONLSkipsMalformedLines(t *testing.T) {
	lines := append([]string{
		`{"id":"gid://shopify/Product/1","title":`,
		`not json at all`,
		``,
		`{"id":"gid://shopify/Collection/9","title":"Summer"}`,
		`{"id":"gid://shopify/ProductVariant/99","price":"1.00","__parentId":"gid://shopify/Product/404"}`,
		`{"__parentId":"gid://shopify/Product/1"}`,
	}, currentExport...)

	res := parse(t, lines)
	require.Len(t, res.Products, 1)
	assert.Len(t, res.Products[0].Variants, 2)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, 2, res.Unknown, "a collection and a line without id")
	assert.Equal(t, 1, res.Orphans)
	assert.Equal(t, 12, res.Lines, "blank lines are not counted")
}

func TestParseBulkJSONLHandlesLongLines(t *testing.T) {
	long := `{"id":"gid://shopify/Product/1","title":"Big","descriptionHtml":"` + strings.Repeat("x", 200_000) + `"}`
	res := parse(t, []string{long})
	require.Len(t, res.Products, 1)
	assert.Len(t, res.Products[0].DescriptionHTML, 200_000)
}

func TestDownloadBulkResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("X-Shopify-Access-Token"), "signed download urls take no token")
		_, _ = w.Write([]byte(strings.Join(currentExport, "\n") + "\n"))
	}))
	defer srv.Close()

	c := NewClient("demo", "shpat", logger.NewNop())
	res, err := c.DownloadBulkResults(context.Background(), srv.URL)
	require.NoError(t, err)
	assertTrailShoe(t, res)

	empty, err := c.DownloadBulkResults(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, empty.Products)
}

func TestGIDType(t *testing.T) {
	assert.Equal(t, "Product", GIDType("gid://shopify/Product/1"))
	assert.Equal(t, "MediaImage", GIDType("gid://shopify/MediaImage/2"))
	assert.Equal(t, "", GIDType("gid://shopify/Product"))
	assert.Equal(t, "", GIDType("123"))
	assert.Equal(t, "", GIDType(""))
}

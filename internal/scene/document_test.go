package scene

import (
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testScene = `<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" xmlns:xlink="http://www.w3.org/1999/xlink" width="210mm" height="297mm" viewBox="0 0 210 297">
  <!-- keep me -->
  <path d="M0 0   L10 10"/>
  <image xlink:href="a.png" width="10" height="10"/>
</svg>
`

func TestParse(t *testing.T) {
	doc, err := Parse([]byte(testScene))
	require.NoError(t, err)

	assert.Equal(t, Length{210, "mm"}, doc.Width)
	assert.Equal(t, Length{297, "mm"}, doc.Height)
	w, h := doc.UserSize()
	assert.Equal(t, 210.0, w)
	assert.Equal(t, 297.0, h)
	assert.Equal(t, []string{"a.png"}, doc.ImageReferences())
}

func TestParse_NoViewBox(t *testing.T) {
	doc, err := Parse([]byte(`<svg width="1in" height="0.5in"><rect/></svg>`))
	require.NoError(t, err)

	w, h := doc.UserSize()
	assert.Equal(t, 96.0, w)
	assert.Equal(t, 48.0, h)
}

func TestParse_Invalid(t *testing.T) {
	for name, data := range map[string]string{
		"not svg":          `<html width="1in" height="1in"></html>`,
		"no width":         `<svg height="1in"></svg>`,
		"relative width":   `<svg width="100%" height="1in"></svg>`,
		"bad viewBox":      `<svg width="1in" height="1in" viewBox="0 0 10"></svg>`,
		"empty viewBox":    `<svg width="1in" height="1in" viewBox="0 0 0 10"></svg>`,
		"unclosed":         `<svg width="1in" height="1in"><g></svg>`,
		"empty":            ``,
		"two roots":        `<svg width="1in" height="1in"></svg><svg width="1in" height="1in"></svg>`,
	} {
		_, err := Parse([]byte(data))
		assert.Error(t, err, name)
	}
}

func TestResolveReferences(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.png"), []byte("png"), 0600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "tiles"), 0700))

	doc, err := Parse([]byte(`<svg xmlns:xlink="http://www.w3.org/1999/xlink" width="1in" height="1in">
<image href="a.png"/>
<image xlink:href="missing.png"/>
<image href="data:image/png;base64,AAAA"/>
<image href="https://tiles.example.com/1.png"/>
<image href="#sprite"/>
<image href="tiles"/>
<image href="file:///nonexistent/vegetation.png"/>
</svg>`))
	require.NoError(t, err)

	err = doc.ResolveReferences(dir)
	require.Error(t, err)

	missing, ok := err.(*MissingDataError)
	require.True(t, ok)
	assert.Equal(t, []string{"missing.png", "tiles", "file:///nonexistent/vegetation.png"}, missing.References)
}

func TestResolveReferences_FileURL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relief.png")
	require.NoError(t, os.WriteFile(path, []byte("png"), 0600))
	fileURL := (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()

	doc, err := Parse([]byte(`<svg width="1in" height="1in"><image href="` + fileURL + `"/></svg>`))
	require.NoError(t, err)
	require.NoError(t, doc.ResolveReferences(t.TempDir()))

	assert.Contains(t, string(doc.Rewrite(RewriteOptions{})), `href="`+fileURL+`"`)
}

func TestRewrite(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.png"), []byte("png"), 0600))

	doc, err := Parse([]byte(testScene))
	require.NoError(t, err)
	require.NoError(t, doc.ResolveReferences(dir))

	imageURL := (&url.URL{Scheme: "file", Path: filepath.ToSlash(filepath.Join(dir, "a.png"))}).String()

	expected := `<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" xmlns:xlink="http://www.w3.org/1999/xlink" width="420mm" height="594mm" viewBox="0 0 210 297" style="overflow: hidden"><g transform="rotate(3)">
  <!-- keep me -->
  <path d="M0 0   L10 10"/>
  <image xlink:href="` + imageURL + `" width="10" height="10"/>
</g></svg>
`

	out := doc.Rewrite(RewriteOptions{Zoom: 2, Transform: "rotate(3)", ClipOverflow: true})
	assert.Equal(t, expected, string(out))
}

func TestRewrite_AddsViewBoxAndKeepsStyle(t *testing.T) {
	doc, err := Parse([]byte(`<svg width="10mm" height="5mm" style="background: white;"></svg>`))
	require.NoError(t, err)

	out := doc.Rewrite(RewriteOptions{
		Zoom:         1.5,
		Width:        Length{20, "mm"},
		ClipOverflow: true,
	})

	assert.Equal(t, `<svg width="30mm" height="7.5mm" style="background: white; overflow: hidden" viewBox="0 0 37.795275590551185 18.897637795275593"></svg>`, string(out))
}

func TestRewrite_SelfClosingRoot(t *testing.T) {
	doc, err := Parse([]byte(`<svg width="1in" height="1in" viewBox="0 0 10 10"/>`))
	require.NoError(t, err)

	out := doc.Rewrite(RewriteOptions{Zoom: 2, Transform: "rotate(10)"})
	assert.Equal(t, `<svg width="2in" height="2in" viewBox="0 0 10 10"/>`, string(out))
}

package extract

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classmate-app/classmate/internal/core/errs"
)

const slideXMLTemplate = `<?xml version="1.0"?>
<p:sld xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main"
       xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main">
  <p:cSld><p:spTree>
    <p:sp><p:txBody>
      <a:p><a:r><a:t>%TITLE%</a:t></a:r></a:p>
      <a:p><a:r><a:t>%BODY%</a:t></a:r></a:p>
    </p:txBody></p:sp>
  </p:spTree></p:cSld>
</p:sld>`

func slideXML(title, body string) string {
	s := strings.ReplaceAll(slideXMLTemplate, "%TITLE%", title)
	return strings.ReplaceAll(s, "%BODY%", body)
}

func buildPPTX(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestDocumentExtractsPerSlide(t *testing.T) {
	data := buildPPTX(t, map[string]string{
		"[Content_Types].xml":              "<Types/>",
		"ppt/slides/slide1.xml":            slideXML("Groups", "A group is a set with an operation"),
		"ppt/slides/slide2.xml":            slideXML("Subgroups", "A subgroup is a subset closed under the operation"),
		"ppt/notesSlides/notesSlide2.xml":  slideXML("", "mention the subgroup test here"),
		"ppt/media/image1.png":             "not-xml",
		"ppt/slides/_rels/slide1.xml.rels": "<Relationships/>",
	})

	units, err := Document("asset-1", data, "application/vnd.openxmlformats-officedocument.presentationml.presentation", "lecture.pptx")
	require.NoError(t, err)
	require.Len(t, units, 2)

	assert.Equal(t, 1.0, units[0].StartPos)
	assert.Equal(t, 1.0, units[0].EndPos)
	assert.Contains(t, units[0].Text, "Groups")
	assert.Contains(t, units[0].Text, "set with an operation")

	// Slide two carries its speaker notes.
	assert.Equal(t, 2.0, units[1].StartPos)
	assert.Contains(t, units[1].Text, "Subgroups")
	assert.Contains(t, units[1].Text, "subgroup test")

	for i, u := range units {
		assert.Equal(t, i, u.Seq)
		assert.Equal(t, "asset-1", u.AssetID)
	}
}

func TestDocumentExtractsSlidesByExtension(t *testing.T) {
	data := buildPPTX(t, map[string]string{
		"ppt/slides/slide1.xml": slideXML("Only slide", "content"),
	})

	units, err := Document("asset-1", data, "", "deck.pptx")
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Contains(t, units[0].Text, "Only slide")
}

func TestPPTXKeepsEmptySlidesAddressable(t *testing.T) {
	data := buildPPTX(t, map[string]string{
		"ppt/slides/slide1.xml": slideXML("Intro", "welcome"),
		"ppt/slides/slide2.xml": `<p:sld xmlns:p="ns"><p:cSld/></p:sld>`,
		"ppt/slides/slide3.xml": slideXML("Outro", "questions"),
	})

	units, err := pptxSlides("asset-1", data)
	require.NoError(t, err)
	require.Len(t, units, 3)
	assert.Equal(t, "", units[1].Text)
	assert.Equal(t, 2.0, units[1].StartPos)
	assert.Equal(t, 3.0, units[2].StartPos)
}

func TestPPTXRejectsDeckWithoutSlides(t *testing.T) {
	data := buildPPTX(t, map[string]string{"[Content_Types].xml": "<Types/>"})

	_, err := Document("asset-1", data, "", "deck.pptx")
	var exErr *errs.ExtractionError
	require.ErrorAs(t, err, &exErr)
}

func TestIsPPTX(t *testing.T) {
	zipMagic := []byte("PK\x03\x04rest")
	assert.True(t, isPPTX(zipMagic, "application/vnd.openxmlformats-officedocument.presentationml.presentation", "x.bin"))
	assert.True(t, isPPTX(zipMagic, "", "Deck.PPTX"))
	assert.False(t, isPPTX([]byte("not a zip"), "", "deck.pptx"))
	assert.False(t, isPPTX(zipMagic, "application/zip", "archive.zip"))
}

package pdf

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildPDF assembles a minimal PDF with one page per content stream.
func buildPDF(t *testing.T, pages ...string) []byte {
	t.Helper()

	n := len(pages)
	fontObj := 3 + 2*n
	infoObj := fontObj + 1

	objs := make([]string, infoObj+1)
	objs[1] = "<< /Type /Catalog /Pages 2 0 R >>"
	kids := ""
	for i := range pages {
		kids += fmt.Sprintf("%d 0 R ", 3+2*i)
	}
	objs[2] = fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, n)
	for i, content := range pages {
		pageObj, contentObj := 3+2*i, 4+2*i
		objs[pageObj] = fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] "+
			"/Contents %d 0 R /Resources << /Font << /F1 %d 0 R >> >> >>", contentObj, fontObj)
		objs[contentObj] = fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content)
	}
	objs[fontObj] = "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>"
	objs[infoObj] = "<< /Title (Port Atlas) /Author (Ana) /ModDate (D:20250102030405Z) >>"

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i := 1; i < len(objs); i++ {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i, objs[i])
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objs))
	for i := 1; i < len(objs); i++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[i])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R /Info %d 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs), infoObj, xref)
	return buf.Bytes()
}

func TestImporter_Basics(t *testing.T) {
	imp := New()
	assert.Equal(t, "pdf", imp.Name())
	assert.Equal(t, []string{".pdf"}, imp.Extensions())
}

func TestImport_Pages(t *testing.T) {
	data := buildPDF(t,
		"BT /F1 12 Tf 72 720 Td (Antwerp is a port.) Tj ET",
		"q 612 0 0 792 0 0 cm /Im0 Do Q",
		"BT /F1 12 Tf 72 720 Td [(Second) -300 (text)] TJ ET",
	)

	results, err := New().Import(context.Background(), "/kb/atlas.pdf", data)
	require.NoError(t, err)
	require.Len(t, results, 1)
	res := results[0]

	assert.Equal(t, "pdf", res.Meta.ContentType)
	assert.Equal(t, "Port Atlas", res.Meta.Title)
	assert.Equal(t, "Ana", res.Meta.Author)

	require.Len(t, res.Sections, 3)
	assert.Equal(t, 1, res.Sections[0].Page)
	assert.Equal(t, "Antwerp is a port.", res.Sections[0].Text)
	assert.False(t, res.Sections[0].NeedsOCR)

	assert.Equal(t, 2, res.Sections[1].Page)
	assert.True(t, res.Sections[1].NeedsOCR)
	assert.True(t, res.Sections[1].Partial)

	assert.Equal(t, 3, res.Sections[2].Page)
	assert.Equal(t, "Second text", res.Sections[2].Text)
	assert.True(t, res.Partial())
}

func TestImport_NotAPDF(t *testing.T) {
	_, err := New().Import(context.Background(), "/kb/fake.pdf", []byte("hello"))
	assert.Error(t, err)
}

func TestImport_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Import(ctx, "/kb/atlas.pdf", buildPDF(t, "BT (x) Tj ET"))
	assert.ErrorIs(t, err, context.Canceled)
}

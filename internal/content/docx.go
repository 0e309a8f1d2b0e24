package content

import (
	"archive/zip"
	"encoding/xml"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// extractDOCX pulls paragraph text out of word/document.xml inside the
// DOCX container. Runs inside a paragraph are concatenated; paragraphs
// become lines.
func extractDOCX(path string) (string, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return "", eris.Wrapf(err, "content: open docx %s", path)
	}
	defer r.Close()

	var doc *zip.File
	for _, f := range r.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return "", eris.Errorf("content: docx %s has no word/document.xml", path)
	}

	rc, err := doc.Open()
	if err != nil {
		return "", eris.Wrap(err, "content: open docx document.xml")
	}
	defer rc.Close()

	return decodeDocumentXML(rc)
}

// decodeDocumentXML streams WordprocessingML, emitting text runs and a
// newline at each paragraph end. Tabs and explicit breaks map to their
// plain-text equivalents.
func decodeDocumentXML(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var b strings.Builder
	inText := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", eris.Wrap(err, "content: decode docx xml")
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}

	return b.String(), nil
}

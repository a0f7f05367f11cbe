package extractor

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// extractDocx reads word/document.xml from a .docx container.
func extractDocx(path string) (string, error) {
	return extractZipXML(path, "word/document.xml", "p")
}

// extractODT reads content.xml from an .odt container.
func extractODT(path string) (string, error) {
	return extractZipXML(path, "content.xml", "p")
}

// extractZipXML opens the named XML entry of a ZIP container and collects
// character data, one line per paragraph element.
func extractZipXML(path, entry, paragraphTag string) (string, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("open zip: %w", err)
	}
	defer r.Close()

	var docFile *zip.File
	for _, f := range r.File {
		if f.Name == entry {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return "", fmt.Errorf("%s not found in archive", entry)
	}

	rc, err := docFile.Open()
	if err != nil {
		return "", fmt.Errorf("open %s: %w", entry, err)
	}
	defer rc.Close()

	return collectParagraphs(rc, paragraphTag)
}

func collectParagraphs(r io.Reader, paragraphTag string) (string, error) {
	decoder := xml.NewDecoder(r)
	var sb strings.Builder
	var current strings.Builder
	depth := 0

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == paragraphTag {
				depth++
			}
		case xml.CharData:
			if depth > 0 {
				current.Write(t)
			}
		case xml.EndElement:
			if t.Name.Local == paragraphTag && depth > 0 {
				depth--
				if depth == 0 {
					text := strings.TrimSpace(current.String())
					current.Reset()
					if text != "" {
						if sb.Len() > 0 {
							sb.WriteByte('\n')
						}
						sb.WriteString(text)
					}
				}
			}
		}
	}
	return sb.String(), nil
}

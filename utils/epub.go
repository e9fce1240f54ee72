package utils

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

var (
	ErrNotEPUB       = errors.New("not an epub archive")
	ErrEntryTooLarge = errors.New("epub entry exceeds size limit")
)

// Per-entry decompression limits.
const (
	maxPackageBytes = 2 << 20
	maxSectionBytes = 4 << 20
	maxCoverBytes   = 10 << 20
)

// Container represents the EPUB container.xml structure
type Container struct {
	XMLName   xml.Name `xml:"container"`
	RootFiles struct {
		RootFile []struct {
			FullPath  string `xml:"full-path,attr"`
			MediaType string `xml:"media-type,attr"`
		} `xml:"rootfile"`
	} `xml:"rootfiles"`
}

type identifier struct {
	ID     string `xml:"id,attr"`
	Scheme string `xml:"scheme,attr"`
	Value  string `xml:",chardata"`
}

type manifestItem struct {
	ID         string `xml:"id,attr"`
	Href       string `xml:"href,attr"`
	MediaType  string `xml:"media-type,attr"`
	Properties string `xml:"properties,attr"`
}

// Package represents the EPUB OPF package document (the parts we read).
type Package struct {
	XMLName  xml.Name `xml:"package"`
	Metadata struct {
		Titles       []string     `xml:"title"`
		Creators     []string     `xml:"creator"`
		Descriptions []string     `xml:"description"`
		Languages    []string     `xml:"language"`
		Publishers   []string     `xml:"publisher"`
		Dates        []string     `xml:"date"`
		Subjects     []string     `xml:"subject"`
		Identifiers  []identifier `xml:"identifier"`
		Meta         []struct {
			Name     string `xml:"name,attr"`
			Property string `xml:"property,attr"`
			Refines  string `xml:"refines,attr"`
			Content  string `xml:"content,attr"`
			Value    string `xml:",chardata"`
		} `xml:"meta"`
	} `xml:"metadata"`
	Manifest struct {
		Items []manifestItem `xml:"item"`
	} `xml:"manifest"`
	Spine struct {
		ItemRefs []struct {
			IDRef  string `xml:"idref,attr"`
			Linear string `xml:"linear,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
}

// PackageMetadata is the normalized metadata block of an EPUB.
type PackageMetadata struct {
	Title       string
	Creator     string
	Description string
	Language    string
	Publisher   string
	Date        string
	Subjects    []string
	Identifiers []string
	ISBN        string
}

// EPUB is an opened, parsed EPUB archive held in memory.
type EPUB struct {
	zr      *zip.Reader
	opfPath string
	opfDir  string
	rawOPF  []byte
	pkg     Package
}

// OpenEPUB parses the container and package document of data.
func OpenEPUB(data []byte) (*EPUB, error) {
	zr, opfPath, rawOPF, err := readPackageDocument(data)
	if err != nil {
		return nil, err
	}
	var pkg Package
	if err := xml.Unmarshal(rawOPF, &pkg); err != nil {
		return nil, fmt.Errorf("failed to parse OPF file: %w", err)
	}
	return &EPUB{
		zr:      zr,
		opfPath: opfPath,
		opfDir:  path.Dir(opfPath),
		rawOPF:  rawOPF,
		pkg:     pkg,
	}, nil
}

func readPackageDocument(data []byte) (*zip.Reader, string, []byte, error) {
	if len(data) == 0 {
		return nil, "", nil, fmt.Errorf("%w: empty file", ErrNotEPUB)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, "", nil, fmt.Errorf("%w: %v", ErrNotEPUB, err)
	}
	containerFile, err := findAndReadFileFromZip(zr, "META-INF/container.xml", maxPackageBytes)
	if err != nil {
		return nil, "", nil, fmt.Errorf("%w: %v", ErrNotEPUB, err)
	}
	var container Container
	if err := xml.Unmarshal(containerFile, &container); err != nil {
		return nil, "", nil, fmt.Errorf("failed to parse container.xml: %w", err)
	}
	if len(container.RootFiles.RootFile) == 0 {
		return nil, "", nil, fmt.Errorf("no rootfile found in container.xml")
	}
	opfPath := normalizeZipPath(container.RootFiles.RootFile[0].FullPath)
	rawOPF, err := findAndReadFileFromZip(zr, opfPath, maxPackageBytes)
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to read OPF file: %w", err)
	}
	return zr, opfPath, rawOPF, nil
}

func first(values []string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// Metadata returns the package metadata block.
func (e *EPUB) Metadata() PackageMetadata {
	md := e.pkg.Metadata
	out := PackageMetadata{
		Title:       first(md.Titles),
		Creator:     first(md.Creators),
		Description: first(md.Descriptions),
		Language:    first(md.Languages),
		Publisher:   first(md.Publishers),
		Date:        first(md.Dates),
		ISBN:        e.ISBN(),
	}
	for _, s := range md.Subjects {
		if s = strings.TrimSpace(s); s != "" {
			out.Subjects = append(out.Subjects, s)
		}
	}
	for _, id := range md.Identifiers {
		if v := strings.TrimSpace(id.Value); v != "" {
			out.Identifiers = append(out.Identifiers, v)
		}
	}
	return out
}

// ISBN returns the normalized ISBN from the package identifiers, or "".
func (e *EPUB) ISBN() string {
	ids := e.pkg.Metadata.Identifiers

	// 1) Prefer identifiers with explicit ISBN scheme
	for _, id := range ids {
		if isISBNScheme(id.Scheme) {
			if cleaned := SanitizeISBN(id.Value); IsValidISBN(cleaned) {
				return cleaned
			}
		}
	}

	// 2) EPUB 3: meta refines="#id" property="identifier-type" -> find identifier with that id
	for _, m := range e.pkg.Metadata.Meta {
		prop := strings.TrimSpace(strings.ToLower(m.Property))
		if (prop == "identifier-type" || prop == "scheme") && (isISBNScheme(m.Content) || isISBNScheme(m.Value)) {
			refinesID := strings.TrimPrefix(strings.TrimSpace(m.Refines), "#")
			for _, id := range ids {
				if id.ID == refinesID {
					if cleaned := SanitizeISBN(id.Value); IsValidISBN(cleaned) {
						return cleaned
					}
					break
				}
			}
		}
	}

	// 3) Any identifier value that looks like an ISBN
	for _, id := range ids {
		if cleaned := SanitizeISBN(id.Value); IsValidISBN(cleaned) {
			return cleaned
		}
	}

	// 4) Namespace fallback
	if len(ids) == 0 {
		return firstISBN(extractElementContents(string(e.rawOPF), "identifier"))
	}
	return ""
}

func isISBNScheme(s string) bool {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "isbn", "isbn-13", "isbn-10":
		return true
	}
	return false
}

func firstISBN(values []string) string {
	for _, v := range values {
		if cleaned := SanitizeISBN(v); IsValidISBN(cleaned) {
			return cleaned
		}
	}
	return ""
}

// Cover returns the cover image bytes and media type. It looks for
// <meta name="cover"> first, then an EPUB 3 manifest item with the
// cover-image property.
func (e *EPUB) Cover() ([]byte, string, error) {
	var item *manifestItem
	for _, m := range e.pkg.Metadata.Meta {
		if strings.EqualFold(m.Name, "cover") && m.Content != "" {
			item = e.manifestByID(m.Content)
			break
		}
	}
	if item == nil {
		for i := range e.pkg.Manifest.Items {
			if hasProperty(e.pkg.Manifest.Items[i].Properties, "cover-image") {
				item = &e.pkg.Manifest.Items[i]
				break
			}
		}
	}
	if item == nil || item.Href == "" {
		return nil, "", fmt.Errorf("no cover in OPF")
	}
	coverBytes, err := findAndReadFileFromZip(e.zr, e.resolve(item.Href), maxCoverBytes)
	if err != nil {
		return nil, "", err
	}
	mediaType := item.MediaType
	if mediaType == "" {
		mediaType = "image/jpeg"
	}
	return coverBytes, mediaType, nil
}

func hasProperty(props, want string) bool {
	for _, p := range strings.Fields(props) {
		if p == want {
			return true
		}
	}
	return false
}

func (e *EPUB) manifestByID(id string) *manifestItem {
	for i := range e.pkg.Manifest.Items {
		if e.pkg.Manifest.Items[i].ID == id {
			return &e.pkg.Manifest.Items[i]
		}
	}
	return nil
}

// resolve turns a manifest href into a zip entry path.
func (e *EPUB) resolve(href string) string {
	if i := strings.IndexAny(href, "#?"); i >= 0 {
		href = href[:i]
	}
	if unescaped, err := url.PathUnescape(href); err == nil {
		href = unescaped
	}
	return strings.TrimPrefix(path.Join(e.opfDir, normalizeZipPath(href)), "./")
}

// SpineLen is the number of spine entries.
func (e *EPUB) SpineLen() int {
	return len(e.pkg.Spine.ItemRefs)
}

// SpineText returns the visible text of the first maxSections spine entries,
// joined with single spaces and cut to maxChars characters. Entries that
// cannot be read or exceed maxSectionBytes are skipped. Reading stops once
// maxChars characters are collected.
func (e *EPUB) SpineText(maxSections, maxChars int) string {
	var parts []string
	collected := 0
	for i, ref := range e.pkg.Spine.ItemRefs {
		if i >= maxSections || (maxChars > 0 && collected >= maxChars) {
			break
		}
		item := e.manifestByID(ref.IDRef)
		if item == nil {
			continue
		}
		raw, err := findAndReadFileFromZip(e.zr, e.resolve(item.Href), maxSectionBytes)
		if err != nil {
			continue
		}
		doc, err := html.Parse(bytes.NewReader(raw))
		if err != nil {
			continue
		}
		if text := strings.Join(strings.Fields(extractText(doc)), " "); text != "" {
			parts = append(parts, text)
			collected += utf8.RuneCountInString(text) + 1
		}
	}
	return truncateRunes(strings.Join(parts, " "), maxChars)
}

func truncateRunes(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}

func extractText(n *html.Node) string {
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			buf.WriteString(node.Data)
			buf.WriteString(" ")
		case html.ElementNode:
			if node.Data == "script" || node.Data == "style" || node.Data == "head" {
				return
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return buf.String()
}

// normalizeZipPath replaces backslashes with forward slashes for consistent matching.
func normalizeZipPath(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// findAndReadFileFromZip reads a specific file from a zip archive, failing
// with ErrEntryTooLarge past limit bytes. Path matching is case-insensitive
// and normalizes backslashes.
func findAndReadFileFromZip(reader *zip.Reader, p string, limit int64) ([]byte, error) {
	p = normalizeZipPath(p)
	for _, file := range reader.File {
		if strings.EqualFold(normalizeZipPath(file.Name), p) {
			return readZipEntry(file, limit)
		}
	}
	return nil, fmt.Errorf("file not found in zip: %s", p)
}

// readZipEntry trusts neither the declared size nor the stream: the header
// is checked first and the read itself is cut at limit+1 bytes.
func readZipEntry(file *zip.File, limit int64) ([]byte, error) {
	if file.UncompressedSize64 > uint64(limit) {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrEntryTooLarge, file.Name, file.UncompressedSize64)
	}
	rc, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open zip file entry: %w", err)
	}
	defer rc.Close()
	content, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read zip file entry: %w", err)
	}
	if int64(len(content)) > limit {
		return nil, fmt.Errorf("%w: %s", ErrEntryTooLarge, file.Name)
	}
	return content, nil
}

// SanitizeISBN keeps digits and a trailing check character X.
func SanitizeISBN(isbn string) string {
	var cleaned strings.Builder
	for _, r := range strings.TrimSpace(isbn) {
		switch {
		case r >= '0' && r <= '9':
			cleaned.WriteRune(r)
		case r == 'x' || r == 'X':
			cleaned.WriteRune('X')
		}
	}
	s := cleaned.String()
	// X is only meaningful as the last character of an ISBN-10.
	if i := strings.IndexByte(s, 'X'); i >= 0 && i != len(s)-1 {
		s = strings.ReplaceAll(s, "X", "")
	}
	return s
}

// IsValidISBN reports whether a sanitized value has ISBN-10 or ISBN-13 shape.
func IsValidISBN(cleaned string) bool {
	switch len(cleaned) {
	case 13:
		return !strings.Contains(cleaned, "X")
	case 10:
		return true
	}
	return false
}

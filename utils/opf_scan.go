package utils

import (
	"html"
	"strings"
)

// StructuralInfo is what a raw scan of the package document recovers,
// without a typed parse.
type StructuralInfo struct {
	OPFPath string
	Title   string
	Creator string
	ISBN    string
}

// ScanPackage reads container.xml to find the package document and scans it
// for title, creator and identifier elements in any namespace prefix.
func ScanPackage(data []byte) (StructuralInfo, error) {
	_, opfPath, rawOPF, err := readPackageDocument(data)
	if err != nil {
		return StructuralInfo{}, err
	}
	s := string(rawOPF)
	return StructuralInfo{
		OPFPath: opfPath,
		Title:   firstText(extractElementContents(s, "title")),
		Creator: firstText(extractElementContents(s, "creator")),
		ISBN:    firstISBN(extractElementContents(s, "identifier")),
	}, nil
}

func firstText(values []string) string {
	for _, v := range values {
		if v = strings.TrimSpace(html.UnescapeString(v)); v != "" {
			return v
		}
	}
	return ""
}

// extractElementContents returns text content of all elements whose tag is
// name or ends with ":"+name (e.g. <identifier>, <dc:identifier>).
func extractElementContents(xmlStr, name string) []string {
	var out []string
	for i := 0; i < len(xmlStr); i++ {
		if xmlStr[i] != '<' {
			continue
		}
		// Find end of opening tag (allow attributes)
		angle := strings.Index(xmlStr[i:], ">")
		if angle < 0 {
			break
		}
		angle += i
		tagAndAttrs := xmlStr[i+1 : angle]
		// First token is the tag name
		tag := tagAndAttrs
		if sp := strings.IndexAny(tagAndAttrs, " \t\n\r"); sp >= 0 {
			tag = tagAndAttrs[:sp]
		}
		if !matchesTag(tag, name) || strings.HasSuffix(tagAndAttrs, "/") {
			i = angle
			continue
		}
		contentStart := angle + 1
		closeIdx := strings.Index(xmlStr[contentStart:], "</")
		if closeIdx < 0 {
			continue
		}
		closeStart := contentStart + closeIdx
		closeEnd := strings.Index(xmlStr[closeStart:], ">")
		if closeEnd < 0 {
			continue
		}
		closeTag := strings.TrimSpace(xmlStr[closeStart+2 : closeStart+closeEnd])
		if !matchesTag(closeTag, name) {
			continue
		}
		content := xmlStr[contentStart:closeStart]
		if !strings.Contains(content, "<") {
			out = append(out, content)
		}
		i = closeStart + closeEnd
	}
	return out
}

func matchesTag(tag, name string) bool {
	return tag == name || strings.HasSuffix(tag, ":"+name)
}

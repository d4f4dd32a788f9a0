package backup

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var nonAlnum = regexp.MustCompile(`[^A-Za-z0-9]+`)

// SafeFilename builds the document filename for a signer:
// Waiver_<name>_<first 8 of session id>.pdf. The name is folded to ASCII
// and every run of other characters becomes a single underscore.
func SafeFilename(name, sessionID string) string {
	base := asciiFold(name)
	base = strings.Trim(nonAlnum.ReplaceAllString(base, "_"), "_")
	if base == "" {
		base = "Client"
	}

	ref := nonAlnum.ReplaceAllString(sessionID, "")
	if len(ref) > 8 {
		ref = ref[:8]
	}
	if ref == "" {
		return "Waiver_" + base + ".pdf"
	}
	return "Waiver_" + base + "_" + ref + ".pdf"
}

// asciiFold decomposes accented letters and drops the combining marks, so
// "José" becomes "Jose". Characters with no ASCII base survive and are
// replaced by the caller.
func asciiFold(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

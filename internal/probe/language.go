// SPDX-License-Identifier: MIT

package probe

import (
	"strings"

	"golang.org/x/text/language"
)

// bibliographic holds the ISO 639-2 codes where the bibliographic (B)
// form differs from the terminological (T) form. Container tooling
// (mkvmerge and friends) emits the B form, so vpo normalizes to it.
var bibliographic = map[string]string{
	"sqi": "alb", "hye": "arm", "eus": "baq", "mya": "bur",
	"zho": "chi", "ces": "cze", "nld": "dut", "fra": "fre",
	"kat": "geo", "deu": "ger", "ell": "gre", "isl": "ice",
	"mkd": "mac", "mri": "mao", "msa": "may", "fas": "per",
	"ron": "rum", "slk": "slo", "bod": "tib", "cym": "wel",
}

// NormalizeLanguage maps an arbitrary language tag from probe output to
// its ISO 639-2/B three-letter code. Unknown or empty tags become "und".
func NormalizeLanguage(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" || tag == "und" || tag == "unknown" {
		return "und"
	}

	// Already a three-letter bibliographic code.
	if len(tag) == 3 {
		for _, b := range bibliographic {
			if tag == b {
				return tag
			}
		}
		if b, ok := bibliographic[tag]; ok {
			return b
		}
		return tag
	}

	// Two-letter or BCP 47 tags go through x/text.
	parsed, err := language.Parse(tag)
	if err != nil {
		return "und"
	}
	base, conf := parsed.Base()
	if conf == language.No {
		return "und"
	}
	iso3 := base.ISO3()
	if iso3 == "" {
		return "und"
	}
	if b, ok := bibliographic[iso3]; ok {
		return b
	}
	return iso3
}

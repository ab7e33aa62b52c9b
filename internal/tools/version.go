// SPDX-License-Identifier: MIT

package tools

import (
	"fmt"
	"regexp"
	"strconv"
)

// Version is a parsed tool version. Patch is zero when the tool only
// reports major.minor.
type Version struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
	Patch int `json:"patch"`
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// AtLeast reports whether the version is >= major.minor.
func (v Version) AtLeast(major, minor int) bool {
	if v.Major != major {
		return v.Major > major
	}
	return v.Minor >= minor
}

var versionRe = regexp.MustCompile(`(\d+)\.(\d+)(?:\.(\d+))?`)

// ParseVersionLine extracts the first dotted version number from a
// tool's banner line, e.g. "ffmpeg version 6.1.1-3ubuntu5" or
// "mkvmerge v80.0 ('Roundabout') 64-bit".
func ParseVersionLine(line string) (Version, error) {
	m := versionRe.FindStringSubmatch(line)
	if m == nil {
		return Version{}, fmt.Errorf("no version number in %q", line)
	}
	major, _ := strconv.Atoi(m[1])
	minor, _ := strconv.Atoi(m[2])
	patch := 0
	if m[3] != "" {
		patch, _ = strconv.Atoi(m[3])
	}
	return Version{Major: major, Minor: minor, Patch: patch}, nil
}

package model

import "strings"

type AspectRatio string

const (
	AspectSquare        AspectRatio = "1:1"
	AspectLandscape4x3  AspectRatio = "4:3"
	AspectPortrait3x4   AspectRatio = "3:4"
	AspectWide16x9      AspectRatio = "16:9"
	AspectTall9x16      AspectRatio = "9:16"
	AspectUltraWide21x9 AspectRatio = "21:9"
	AspectUltraTall9x21 AspectRatio = "9:21"

	DefaultAspectRatio = AspectSquare
)

// SupportedAspectRatios in display order.
var SupportedAspectRatios = []AspectRatio{
	AspectSquare, AspectLandscape4x3, AspectPortrait3x4,
	AspectWide16x9, AspectTall9x16, AspectUltraWide21x9, AspectUltraTall9x21,
}

func (a AspectRatio) Valid() bool {
	for _, s := range SupportedAspectRatios {
		if a == s {
			return true
		}
	}
	return false
}

type OutputFormat string

const (
	FormatJPEG OutputFormat = "jpeg"
	FormatPNG  OutputFormat = "png"
	FormatWEBP OutputFormat = "webp"

	DefaultOutputFormat = FormatJPEG
)

var SupportedOutputFormats = []OutputFormat{FormatJPEG, FormatPNG, FormatWEBP}

func (f OutputFormat) Valid() bool {
	switch f {
	case FormatJPEG, FormatPNG, FormatWEBP:
		return true
	}
	return false
}

// ParseOutputFormat accepts "jpg" as an alias of jpeg.
func ParseOutputFormat(s string) OutputFormat {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "jpg" {
		return FormatJPEG
	}
	return OutputFormat(s)
}

// Extension is the file extension used when sending results.
func (f OutputFormat) Extension() string {
	if f == FormatJPEG {
		return "jpg"
	}
	return string(f)
}

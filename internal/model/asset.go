package model

import "strings"

// AssetType is the media kind of an extracted asset.
type AssetType string

const (
	AssetImage AssetType = "image"
	AssetVideo AssetType = "video"
	AssetFile  AssetType = "file"
)

// IsValid reports whether t is a known asset type.
func (t AssetType) IsValid() bool {
	return t == AssetImage || t == AssetVideo || t == AssetFile
}

// ExtractedAsset is a media reference found on a page.
type ExtractedAsset struct {
	URL    string    `json:"url"`
	Type   AssetType `json:"type"`
	Alt    string    `json:"alt,omitempty"`
	Title  string    `json:"title,omitempty"`
	Width  int       `json:"width,omitempty"`
	Height int       `json:"height,omitempty"`
}

// NewExtractedAsset validates the url and type.
func NewExtractedAsset(url string, assetType AssetType) (ExtractedAsset, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return ExtractedAsset{}, validationError("asset", "url cannot be empty")
	}
	if !assetType.IsValid() {
		return ExtractedAsset{}, validationError("asset", "unknown asset type %q", assetType)
	}
	return ExtractedAsset{URL: url, Type: assetType}, nil
}

// HasDimensions reports whether both width and height are known.
func (a ExtractedAsset) HasDimensions() bool {
	return a.Width > 0 && a.Height > 0
}

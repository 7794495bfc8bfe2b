package model

// PageTypeName is the functional category of a scraped page.
type PageTypeName string

const (
	PageHomepage PageTypeName = "homepage"
	PageMenu     PageTypeName = "menu"
	PageAbout    PageTypeName = "about"
	PageContact  PageTypeName = "contact"
	PageGallery  PageTypeName = "gallery"
	PageHours    PageTypeName = "hours"
	PageUnknown  PageTypeName = "unknown"
)

// PageTypeNames lists every page type in classification priority order.
var PageTypeNames = []PageTypeName{
	PageHomepage, PageMenu, PageAbout, PageContact, PageGallery, PageHours, PageUnknown,
}

// IsValid reports whether n is a known page type.
func (n PageTypeName) IsValid() bool {
	switch n {
	case PageHomepage, PageMenu, PageAbout, PageContact, PageGallery, PageHours, PageUnknown:
		return true
	}
	return false
}

// PageType is a classification result: a type plus a confidence in [0,1].
type PageType struct {
	Type       PageTypeName `json:"type"`
	Confidence float64      `json:"confidence"`
}

// NewPageType enforces a known type and confidence bounds.
func NewPageType(name PageTypeName, confidence float64) (PageType, error) {
	if !name.IsValid() {
		return PageType{}, validationError("page_type", "unknown page type %q", name)
	}
	// NaN fails both comparisons, so test the accepted range directly.
	if !(confidence >= 0 && confidence <= 1) {
		return PageType{}, validationError("page_type", "confidence %v out of range [0,1]", confidence)
	}
	return PageType{Type: name, Confidence: confidence}, nil
}

// MustPageType is NewPageType for constants known to be valid.
func MustPageType(name PageTypeName, confidence float64) PageType {
	pt, err := NewPageType(name, confidence)
	if err != nil {
		panic(err)
	}
	return pt
}

// IsConfident reports whether the confidence reaches threshold.
func (p PageType) IsConfident(threshold float64) bool {
	return p.Confidence >= threshold
}

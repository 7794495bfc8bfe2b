package model

// BlockType is the kind of a content fragment.
type BlockType string

const (
	BlockHero        BlockType = "hero"
	BlockText        BlockType = "text"
	BlockImage       BlockType = "image"
	BlockGallery     BlockType = "gallery"
	BlockMenuSection BlockType = "menu_section"
	BlockContactInfo BlockType = "contact_info"
	BlockHours       BlockType = "hours"
	BlockTestimonial BlockType = "testimonial"
	BlockCTA         BlockType = "cta"
)

// IsValid reports whether t is a known block type.
func (t BlockType) IsValid() bool {
	switch t {
	case BlockHero, BlockText, BlockImage, BlockGallery, BlockMenuSection,
		BlockContactInfo, BlockHours, BlockTestimonial, BlockCTA:
		return true
	}
	return false
}

// ContentBlock is one typed fragment extracted from a page. Content is
// opaque to the model; its keys depend on Type.
type ContentBlock struct {
	ID       string         `json:"id"`
	Type     BlockType      `json:"type"`
	Content  map[string]any `json:"content"`
	Position int            `json:"position"`
}

// NewContentBlock validates the type and position.
func NewContentBlock(blockType BlockType, content map[string]any, position int) (ContentBlock, error) {
	if !blockType.IsValid() {
		return ContentBlock{}, validationError("content_block", "unknown block type %q", blockType)
	}
	if position < 0 {
		return ContentBlock{}, validationError("content_block", "position %d cannot be negative", position)
	}
	if content == nil {
		content = map[string]any{}
	}
	return ContentBlock{
		ID:       NewID(),
		Type:     blockType,
		Content:  content,
		Position: position,
	}, nil
}

// WithPosition returns a copy moved to position.
func (b ContentBlock) WithPosition(position int) (ContentBlock, error) {
	if position < 0 {
		return ContentBlock{}, validationError("content_block", "position %d cannot be negative", position)
	}
	b.Position = position
	return b, nil
}

// Text returns Content["text"] when it is a string.
func (b ContentBlock) Text() string {
	s, _ := b.Content["text"].(string)
	return s
}

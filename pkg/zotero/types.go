package zotero

import "strings"

// TagPrefix marks tags written by automated processing.
const TagPrefix = "./"

// Item is a Zotero item as returned by the Web API.
type Item struct {
	Key     string   `json:"key"`
	Version int      `json:"version"`
	Data    ItemData `json:"data"`
}

// ItemData holds the editable fields of an item. Only the fields this module
// reads or writes are decoded.
type ItemData struct {
	Key          string    `json:"key,omitempty"`
	Version      int       `json:"version,omitempty"`
	ItemType     string    `json:"itemType"`
	Title        string    `json:"title,omitempty"`
	Creators     []Creator `json:"creators,omitempty"`
	ReportNumber string    `json:"reportNumber,omitempty"`
	Institution  string    `json:"institution,omitempty"`
	Place        string    `json:"place,omitempty"`
	Date         string    `json:"date,omitempty"`
	Language     string    `json:"language,omitempty"`
	Extra        string    `json:"extra,omitempty"`
	Tags         []Tag     `json:"tags,omitempty"`
	Collections  []string  `json:"collections,omitempty"`

	// Attachment fields.
	ParentItem  string `json:"parentItem,omitempty"`
	LinkMode    string `json:"linkMode,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Filename    string `json:"filename,omitempty"`
	MD5         string `json:"md5,omitempty"`
}

// Creator is an item creator, either split into first/last name or a single name.
type Creator struct {
	CreatorType string `json:"creatorType"`
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
	Name        string `json:"name,omitempty"`
}

// Tag is an item tag. Type 0 is a manual tag, 1 an automatic one.
type Tag struct {
	Tag  string `json:"tag"`
	Type int    `json:"type,omitempty"`
}

// Collection is a Zotero collection.
type Collection struct {
	Key     string         `json:"key"`
	Version int            `json:"version"`
	Data    CollectionData `json:"data"`
}

// CollectionData holds the collection fields used here.
type CollectionData struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// Item types this module handles specially.
const (
	ItemTypeReport     = "report"
	ItemTypeAttachment = "attachment"
	ItemTypeNote       = "note"
)

// IsAttachment reports whether the item is a file or link attachment.
func (it Item) IsAttachment() bool { return it.Data.ItemType == ItemTypeAttachment }

// IsNote reports whether the item is a note.
func (it Item) IsNote() bool { return it.Data.ItemType == ItemTypeNote }

// IsPDF reports whether the item is an attachment holding a stored PDF file.
func (it Item) IsPDF() bool {
	if !it.IsAttachment() {
		return false
	}
	switch it.Data.LinkMode {
	case "imported_file", "imported_url":
	default:
		return false
	}
	return it.Data.ContentType == "application/pdf" ||
		strings.HasSuffix(strings.ToLower(it.Data.Filename), ".pdf")
}

// IsProcessed reports whether the item already carries a generated tag.
func IsProcessed(it Item) bool {
	for _, t := range it.Data.Tags {
		if strings.HasPrefix(t.Tag, TagPrefix) {
			return true
		}
	}
	return false
}

// ManualTags returns the tags that were not generated, in order.
func ManualTags(it Item) []Tag {
	var out []Tag
	for _, t := range it.Data.Tags {
		if !strings.HasPrefix(t.Tag, TagPrefix) {
			out = append(out, t)
		}
	}
	return out
}

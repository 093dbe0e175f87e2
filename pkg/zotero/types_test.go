package zotero

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPDF(t *testing.T) {
	tests := []struct {
		name string
		data ItemData
		want bool
	}{
		{"stored pdf", ItemData{ItemType: "attachment", LinkMode: "imported_file", ContentType: "application/pdf"}, true},
		{"imported url by name", ItemData{ItemType: "attachment", LinkMode: "imported_url", Filename: "Scan.PDF"}, true},
		{"linked file", ItemData{ItemType: "attachment", LinkMode: "linked_file", ContentType: "application/pdf"}, false},
		{"stored image", ItemData{ItemType: "attachment", LinkMode: "imported_file", ContentType: "image/png"}, false},
		{"report", ItemData{ItemType: "report"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Item{Data: tt.data}.IsPDF())
		})
	}
}

func TestTags(t *testing.T) {
	it := Item{Data: ItemData{Tags: []Tag{{Tag: "lu"}, {Tag: "./Diplomatie"}, {Tag: "à revoir", Type: 1}}}}
	assert.True(t, IsProcessed(it))
	assert.Equal(t, []Tag{{Tag: "lu"}, {Tag: "à revoir", Type: 1}}, ManualTags(it))

	assert.False(t, IsProcessed(Item{Data: ItemData{Tags: []Tag{{Tag: "lu"}}}}))
	assert.Nil(t, ManualTags(Item{}))
}

func TestItemKinds(t *testing.T) {
	assert.True(t, Item{Data: ItemData{ItemType: "note"}}.IsNote())
	assert.True(t, Item{Data: ItemData{ItemType: "attachment"}}.IsAttachment())
	assert.False(t, Item{Data: ItemData{ItemType: "report"}}.IsAttachment())
}
